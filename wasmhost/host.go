package wasmhost

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/ffi"
	"github.com/wippyai/ffi-runtime/handle"
	"github.com/wippyai/ffi-runtime/task"
)

// Guest-side record layouts, little-endian.
const (
	// StatusSize is the size of the status record written by task_complete:
	// code u8 at offset 0, error buffer handle u64 at offset 8.
	StatusSize = 16

	// ContinuationSize is the size of the record written by
	// continuation_next: data u64 at offset 0, poll code u8 at offset 8.
	ContinuationSize = 16
)

// Options configures a Host.
type Options struct {
	// Logger receives host diagnostics. Nil falls back to the runtime's
	// logger.
	Logger *zap.Logger

	// ModuleName is the import module name guests link against.
	ModuleName string

	// MaxPending bounds polls whose continuation the guest has not drained
	// yet. task_poll refuses further polls until the guest catches up.
	MaxPending int
}

// DefaultOptions returns the standard host configuration.
func DefaultOptions() Options {
	return Options{
		ModuleName: "ffi",
		MaxPending: 1024,
	}
}

// AsyncFunc implements an async host function callable by the guest. It
// receives the serialized arguments and returns a task handle from
// ffi.StartTask whose lowered result is a buffer.Buffer.
type AsyncFunc func(rt *ffi.Runtime, args buffer.Buffer) uint64

// Continuation is one continuation invocation queued for the guest.
type Continuation struct {
	Data uint64
	Code task.PollCode
}

// Signature describes one function of the host module.
type Signature struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

type hostFunc struct {
	Signature
	fn api.GoModuleFunc
}

// hostBuffer is a buffer held for the guest under a handle.
type hostBuffer struct {
	buf buffer.Buffer
}

func (b *hostBuffer) Drop() {
	buffer.Free(b.buf)
	b.buf = buffer.Buffer{}
}

// Host exposes an ffi.Runtime to WebAssembly guests as a wazero host
// module.
//
// A guest instance is single-threaded while continuations fire from any
// goroutine, so they are queued and handed over by continuation_next.
type Host struct {
	rt          *ffi.Runtime
	bufs        *handle.Manager[*hostBuffer]
	async       map[string]AsyncFunc
	log         *zap.Logger
	ready       chan struct{}
	queue       []Continuation
	opts        Options
	mu          sync.Mutex
	outstanding int
}

// New creates a host for rt.
func New(rt *ffi.Runtime, opts Options) *Host {
	if opts.ModuleName == "" {
		opts.ModuleName = DefaultOptions().ModuleName
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultOptions().MaxPending
	}
	log := opts.Logger
	if log == nil {
		log = rt.Logger()
	}
	return &Host{
		rt:    rt,
		bufs:  handle.NewManager[*hostBuffer](rt.Handles(), "buffer"),
		async: make(map[string]AsyncFunc),
		log:   log.With(zap.String("module", opts.ModuleName)),
		ready: make(chan struct{}, 1),
		opts:  opts,
	}
}

// Export adds an async function to the host module. It must be called
// before Instantiate.
func (h *Host) Export(name string, fn AsyncFunc) error {
	for _, f := range h.builtins() {
		if f.Name == name {
			return errors.Registration(errors.PhaseHost, name, errors.InvalidInput(errors.PhaseHost, "reserved name"))
		}
	}
	if _, ok := h.async[name]; ok {
		return errors.Registration(errors.PhaseHost, name, errors.InvalidInput(errors.PhaseHost, "already exported"))
	}
	h.async[name] = fn
	return nil
}

// Signatures lists every function of the host module, builtins first.
func (h *Host) Signatures() []Signature {
	funcs := h.functions()
	sigs := make([]Signature, len(funcs))
	for i, f := range funcs {
		sigs[i] = f.Signature
	}
	return sigs
}

// Instantiate registers the host module with r.
func (h *Host) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(h.opts.ModuleName)
	for _, f := range h.functions() {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(f.fn, f.Params, f.Results).
			Export(f.Name)
	}
	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, errors.Registration(errors.PhaseHost, h.opts.ModuleName, err)
	}
	h.log.Debug("host module instantiated", zap.Int("async_exports", len(h.async)))
	return mod, nil
}

// LowerBuffer hands b to the guest and returns its handle.
func (h *Host) LowerBuffer(b buffer.Buffer) uint64 {
	return uint64(h.bufs.New(&hostBuffer{buf: b}))
}

// LiftBuffer takes back a buffer the guest handed over.
func (h *Host) LiftBuffer(bh uint64) (buffer.Buffer, error) {
	a, err := h.bufs.Lift(handle.Handle(bh))
	if err != nil {
		return buffer.Buffer{}, err
	}
	hb := a.Value()
	b := hb.buf
	hb.buf = buffer.Buffer{}
	a.Release()
	return b, nil
}

// Pending returns the number of continuations waiting for the guest.
func (h *Host) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Wait blocks until a continuation is queued or ctx ends.
func (h *Host) Wait(ctx context.Context) error {
	if h.Pending() > 0 {
		return nil
	}
	select {
	case <-h.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host) enqueue(data uint64, code task.PollCode) {
	h.mu.Lock()
	h.queue = append(h.queue, Continuation{Data: data, Code: code})
	h.mu.Unlock()

	select {
	case h.ready <- struct{}{}:
	default:
	}
}

func (h *Host) dequeue() (Continuation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return Continuation{}, false
	}
	c := h.queue[0]
	h.queue[0] = Continuation{}
	h.queue = h.queue[1:]
	h.outstanding--
	return c, true
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

func (h *Host) builtins() []hostFunc {
	return []hostFunc{
		{Signature{"buffer_from_bytes", []api.ValueType{i32, i32}, []api.ValueType{i64}}, h.bufferFromBytes},
		{Signature{"buffer_len", []api.ValueType{i64}, []api.ValueType{i32}}, h.bufferLen},
		{Signature{"buffer_read", []api.ValueType{i64, i32, i32}, []api.ValueType{i32}}, h.bufferRead},
		{Signature{"buffer_free", []api.ValueType{i64}, nil}, h.bufferFree},
		{Signature{"task_poll", []api.ValueType{i64, i64}, []api.ValueType{i32}}, h.taskPoll},
		{Signature{"task_cancel", []api.ValueType{i64}, nil}, h.taskCancel},
		{Signature{"task_free", []api.ValueType{i64}, nil}, h.taskFree},
		{Signature{"task_complete", []api.ValueType{i64, i32}, []api.ValueType{i64}}, h.taskComplete},
		{Signature{"continuation_next", []api.ValueType{i32}, []api.ValueType{i32}}, h.continuationNext},
	}
}

func (h *Host) functions() []hostFunc {
	funcs := h.builtins()
	for name, fn := range h.async {
		funcs = append(funcs, hostFunc{
			Signature: Signature{name, []api.ValueType{i64}, []api.ValueType{i64}},
			fn:        h.asyncCall(name, fn),
		})
	}
	return funcs
}

// buffer_from_bytes(ptr, len i32) -> buffer i64, 0 on error
func (h *Host) bufferFromBytes(_ context.Context, mod api.Module, stack []uint64) {
	ptr, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	stack[0] = 0

	mem, err := memoryOf(mod)
	if err != nil {
		h.log.Warn("buffer_from_bytes", zap.Error(err))
		return
	}
	data, err := mem.read(ptr, n)
	if err != nil {
		h.log.Warn("buffer_from_bytes", zap.Error(err))
		return
	}
	stack[0] = h.LowerBuffer(buffer.FromBytes(data))
}

// buffer_len(buffer i64) -> len i32, -1 on error
func (h *Host) bufferLen(_ context.Context, _ api.Module, stack []uint64) {
	a, err := h.bufs.Borrow(handle.Handle(stack[0]))
	if err != nil {
		h.log.Warn("buffer_len", zap.Error(err))
		stack[0] = api.EncodeI32(-1)
		return
	}
	defer a.Release()
	stack[0] = api.EncodeU32(uint32(a.Value().buf.Len))
}

// buffer_read(buffer i64, ptr i32, cap i32) -> copied i32, -1 on error
func (h *Host) bufferRead(_ context.Context, mod api.Module, stack []uint64) {
	bh, ptr, capacity := stack[0], api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
	stack[0] = api.EncodeI32(-1)

	a, err := h.bufs.Borrow(handle.Handle(bh))
	if err != nil {
		h.log.Warn("buffer_read", zap.Error(err))
		return
	}
	defer a.Release()

	data := a.Value().buf.Bytes()
	if uint64(len(data)) > uint64(capacity) {
		data = data[:capacity]
	}
	mem, err := memoryOf(mod)
	if err == nil {
		err = mem.write(ptr, data)
	}
	if err != nil {
		h.log.Warn("buffer_read", zap.Error(err))
		return
	}
	stack[0] = api.EncodeU32(uint32(len(data)))
}

// buffer_free(buffer i64)
func (h *Host) bufferFree(_ context.Context, _ api.Module, stack []uint64) {
	if err := h.bufs.Free(handle.Handle(stack[0])); err != nil {
		h.log.Warn("buffer_free", zap.Error(err))
	}
}

// task_poll(task i64, data i64) -> 0, or -1 when too many continuations are
// undrained
func (h *Host) taskPoll(_ context.Context, _ api.Module, stack []uint64) {
	th, data := stack[0], stack[1]

	h.mu.Lock()
	if h.outstanding >= h.opts.MaxPending {
		h.mu.Unlock()
		h.log.Warn("task_poll refused", zap.Int("outstanding", h.opts.MaxPending))
		stack[0] = api.EncodeI32(-1)
		return
	}
	h.outstanding++
	h.mu.Unlock()

	h.rt.TaskPoll(th, h.enqueue, data)
	stack[0] = 0
}

// task_cancel(task i64)
func (h *Host) taskCancel(_ context.Context, _ api.Module, stack []uint64) {
	h.rt.TaskCancel(stack[0])
}

// task_free(task i64)
func (h *Host) taskFree(_ context.Context, _ api.Module, stack []uint64) {
	h.rt.TaskFree(stack[0])
}

// task_complete(task i64, status_ptr i32) -> result buffer i64
func (h *Host) taskComplete(_ context.Context, mod api.Module, stack []uint64) {
	th, statusPtr := stack[0], api.DecodeU32(stack[1])
	stack[0] = 0

	var status call.Status
	out := ffi.TaskComplete[buffer.Buffer](h.rt, th, &status)

	var result, errBuf uint64
	if status.Code == call.CodeSuccess {
		result = h.LowerBuffer(out)
	} else {
		buffer.Free(out)
	}
	if status.ErrorBuf.Len > 0 {
		errBuf = h.LowerBuffer(status.ErrorBuf)
	} else {
		buffer.Free(status.ErrorBuf)
	}

	mem, err := memoryOf(mod)
	if err == nil {
		err = mem.writeU8(statusPtr, uint8(status.Code))
	}
	if err == nil {
		err = mem.writeU64(statusPtr+8, errBuf)
	}
	if err != nil {
		h.log.Warn("task_complete: outcome discarded", zap.Stringer("code", status.Code), zap.Error(err))
		h.freeHandles(result, errBuf)
		return
	}
	stack[0] = result
}

// continuation_next(out_ptr i32) -> 1 when a record was written, else 0
func (h *Host) continuationNext(_ context.Context, mod api.Module, stack []uint64) {
	out := api.DecodeU32(stack[0])
	stack[0] = 0

	mem, err := memoryOf(mod)
	if err != nil {
		h.log.Warn("continuation_next", zap.Error(err))
		return
	}
	// validate the destination before a record leaves the queue
	if _, err := mem.read(out, ContinuationSize); err != nil {
		h.log.Warn("continuation_next", zap.Error(err))
		return
	}
	c, ok := h.dequeue()
	if !ok {
		return
	}
	_ = mem.writeU64(out, c.Data)
	_ = mem.writeU8(out+8, uint8(c.Code))
	stack[0] = 1
}

// asyncCall adapts fn to (args buffer i64) -> task i64. A panic in fn
// becomes a task that completes with call.CodeUnexpectedError.
func (h *Host) asyncCall(name string, fn AsyncFunc) api.GoModuleFunc {
	return func(_ context.Context, _ api.Module, stack []uint64) {
		defer func() {
			if p := recover(); p != nil {
				msg := call.PanicMessage(p)
				h.log.Warn("contained panic in async function", zap.String("func", name), zap.String("panic", msg))
				stack[0] = h.failedTask(errors.New(errors.PhaseHost, errors.KindPanic).
					Detail("%s: %s", name, msg).
					Build())
			}
		}()

		args, err := h.LiftBuffer(stack[0])
		if err != nil {
			// the function still runs and reports the bad argument through
			// its task
			h.log.Warn("invalid args buffer", zap.String("func", name), zap.Error(err))
		}
		stack[0] = fn(h.rt, args)
	}
}

// failedTask starts a task that is ready with err.
func (h *Host) failedTask(err error) uint64 {
	return ffi.StartTask(h.rt, task.New(task.Fail[buffer.Buffer](err), func(b buffer.Buffer) buffer.Buffer { return b }, nil))
}

func (h *Host) freeHandles(hs ...uint64) {
	for _, bh := range hs {
		if bh != 0 {
			_ = h.bufs.Free(handle.Handle(bh))
		}
	}
}
