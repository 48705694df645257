package ffi

import (
	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/callback"
	"github.com/wippyai/ffi-runtime/handle"
	"github.com/wippyai/ffi-runtime/task"
)

// ContractVersion is bumped whenever the boundary ABI changes. Bindings
// compare it with the version they were generated against.
const ContractVersion uint32 = 1

// Options configures a Runtime.
type Options struct {
	// Logger receives runtime diagnostics. Nil means no logging.
	Logger *zap.Logger

	// InitialHandles preallocates handle table slots.
	InitialHandles int

	// CheckHandles rejects handles whose slot was reused after they were
	// settled.
	CheckHandles bool
}

// DefaultOptions returns options with handle checks enabled.
func DefaultOptions() Options {
	return Options{
		InitialHandles: 64,
		CheckHandles:   true,
	}
}

// Runtime owns the state shared by all boundary calls of one library
// instance: the handle table, the task handles and the callback interfaces
// registered by the foreign side.
type Runtime struct {
	handles   *handle.Table
	tasks     *handle.Manager[task.Bridge]
	callbacks *callback.Registry
	log       *zap.Logger
}

// New creates a runtime.
func New(opts Options) *Runtime {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	table := handle.NewTable(handle.TableOptions{
		InitialCapacity:  opts.InitialHandles,
		CheckGenerations: opts.CheckHandles,
	})
	return &Runtime{
		handles:   table,
		tasks:     handle.NewManager[task.Bridge](table, "task"),
		callbacks: callback.NewRegistry(),
		log:       log,
	}
}

// Handles returns the runtime's handle table.
func (r *Runtime) Handles() *handle.Table { return r.handles }

// Callbacks returns the registry of foreign callback interfaces.
func (r *Runtime) Callbacks() *callback.Registry { return r.callbacks }

// Logger returns the runtime's logger.
func (r *Runtime) Logger() *zap.Logger { return r.log }

// Close drops every object and task still held by foreign handles. Handles
// presented afterwards are rejected.
func (r *Runtime) Close() error {
	r.log.Debug("closing runtime", zap.Int("live_handles", r.handles.Len()))
	return r.handles.Close()
}
