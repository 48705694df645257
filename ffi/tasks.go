package ffi

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/handle"
	"github.com/wippyai/ffi-runtime/task"
)

// PollWake and PollReady are the codes delivered to task continuations.
const (
	PollWake  = task.PollWake
	PollReady = task.PollReady
)

// StartTask hands t to the foreign side. The returned handle is settled by
// TaskFree.
func StartTask[T, R any](r *Runtime, t *task.Task[T, R]) uint64 {
	h := r.tasks.New(t)
	r.log.Debug("task started", zap.Uint32("task", t.ID()), zap.Stringer("handle", h))
	return uint64(h)
}

func (r *Runtime) borrowTask(h uint64) (*handle.Arc[task.Bridge], error) {
	return r.tasks.Borrow(handle.Handle(h))
}

// TaskPoll polls the task behind h. An unknown handle fires cont with
// PollReady so that the foreign side moves on to TaskComplete, which reports
// the error.
func (r *Runtime) TaskPoll(h uint64, cont task.Continuation, data uint64) {
	a, err := r.borrowTask(h)
	if err != nil {
		r.log.Warn("poll of invalid task handle", zap.Error(err))
		cont(data, task.PollReady)
		return
	}
	defer a.Release()
	a.Value().Poll(cont, data)
}

// TaskCancel cancels the task behind h.
func (r *Runtime) TaskCancel(h uint64) {
	a, err := r.borrowTask(h)
	if err != nil {
		r.log.Warn("cancel of invalid task handle", zap.Error(err))
		return
	}
	defer a.Release()
	a.Value().Cancel()
}

// TaskFree settles the task handle and releases the task's computation,
// even if a poll still holds a reference to the task.
func (r *Runtime) TaskFree(h uint64) {
	a, err := r.tasks.Lift(handle.Handle(h))
	if err != nil {
		r.log.Warn("free of invalid task handle", zap.Error(err))
		return
	}
	a.Value().Free()
	a.Release()
}

// TaskComplete takes the outcome of the task behind h. R must be the
// lowered result type the task was created with.
func TaskComplete[R any](r *Runtime, h uint64, status *call.Status) R {
	var zero R
	a, err := r.borrowTask(h)
	if err != nil {
		*status = call.Status{}
		call.Fail(status, nil, errors.LiftArg("handle", err))
		return zero
	}
	defer a.Release()

	c, ok := a.Value().(task.Completer[R])
	if !ok {
		*status = call.Status{}
		call.Fail(status, nil, errors.TypeMismatch(errors.PhaseTask, nil, fmt.Sprintf("%T", zero), fmt.Sprintf("%T", a.Value())))
		return zero
	}
	return c.Complete(status)
}
