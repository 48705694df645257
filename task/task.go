package task

import (
	"fmt"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/handle"
)

// PollCode is delivered to a continuation. The values are part of the ABI.
type PollCode uint8

const (
	// PollWake asks the foreign side to poll again.
	PollWake PollCode = 0
	// PollReady says the task has an outcome; call Complete.
	PollReady PollCode = 1
)

func (c PollCode) String() string {
	switch c {
	case PollWake:
		return "wake"
	case PollReady:
		return "ready"
	}
	return fmt.Sprintf("poll(%d)", uint8(c))
}

// Continuation is the foreign callback handed to Poll. data is the opaque
// value passed alongside it. Every Poll results in exactly one invocation,
// either during Poll or later from whichever goroutine wakes, cancels or
// frees the task.
type Continuation func(data uint64, code PollCode)

// State is the lifecycle state of a task.
type State uint8

const (
	StateIdle State = iota
	StatePolling
	StateReady
	StateCompleted
	StateCancelled
	StateFreed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateReady:
		return "ready"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFreed:
		return "freed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Bridge is the type-erased surface of a task, used by handle tables and
// hosts that deal with tasks of many result types.
type Bridge interface {
	ID() uint32
	State() State
	Poll(cont Continuation, data uint64)
	Wake()
	Cancel()
	Free()
}

// Completer is a Bridge whose lowered result type is R.
type Completer[R any] interface {
	Bridge
	Complete(status *call.Status) R
}

var taskSerial atomix.Uint32

func nextTaskID() uint32 { return taskSerial.Add(1) }

// panicError is the outcome of a future whose Poll panicked.
type panicError struct {
	msg string
}

func (e *panicError) Error() string { return e.msg }

// Task drives a Future on behalf of a foreign caller. T is the future's
// result and R its lowered form returned by Complete.
//
// All methods are safe for concurrent use. The future is never polled by two
// goroutines at once, and continuations always run without the task lock
// held, so a continuation may call back into the task.
type Task[T, R any] struct {
	lower    func(T) R
	lowerErr call.ErrorLowerer
	fut      Future[T]
	cont     Continuation
	result   T
	err      error
	log      *zap.Logger
	mu       sync.Mutex
	contData uint64
	id       uint32
	state    State
	woken    bool
}

// New creates a task around fut. lower converts the result for Complete;
// lowerErr recognises the domain errors of the call and may be nil.
func New[T, R any](fut Future[T], lower func(T) R, lowerErr call.ErrorLowerer) *Task[T, R] {
	id := nextTaskID()
	return &Task[T, R]{
		fut:      fut,
		lower:    lower,
		lowerErr: lowerErr,
		id:       id,
		log:      Logger().With(zap.Uint32("task", id)),
	}
}

// NewBuffered creates a task whose result is serialized with conv.
func NewBuffered[T any](fut Future[T], conv codec.Converter[T], lowerErr call.ErrorLowerer) *Task[T, buffer.Buffer] {
	return New(fut, func(v T) buffer.Buffer { return codec.Lower(conv, v) }, lowerErr)
}

// NewVoid creates a task whose result carries no value.
func NewVoid(fut Future[struct{}], lowerErr call.ErrorLowerer) *Task[struct{}, struct{}] {
	return New(fut, func(v struct{}) struct{} { return v }, lowerErr)
}

// ID returns the process-unique serial of the task.
func (t *Task[T, R]) ID() uint32 { return t.id }

// State returns the current lifecycle state.
func (t *Task[T, R]) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Poll drives the future once and schedules cont. If the future finishes,
// cont receives PollReady. If it is pending and a wake already arrived,
// cont receives PollWake straight away; otherwise cont is stored and fired
// by the next Wake. Polling a task that is ready, cancelled, completed or
// freed fires PollReady immediately.
//
// Overlapping Poll calls are a caller error; the second one receives
// PollWake without touching the future.
func (t *Task[T, R]) Poll(cont Continuation, data uint64) {
	t.mu.Lock()
	switch t.state {
	case StateIdle:
	case StatePolling:
		t.mu.Unlock()
		t.log.Warn("overlapping poll")
		cont(data, PollWake)
		return
	default:
		t.mu.Unlock()
		cont(data, PollReady)
		return
	}

	fut := t.fut
	t.fut = nil
	t.state = StatePolling
	t.woken = false
	t.mu.Unlock()

	v, ready, err := t.drive(fut)

	t.mu.Lock()
	if t.state != StatePolling {
		// cancelled or freed while the future ran
		t.mu.Unlock()
		dropFuture(fut)
		cont(data, PollReady)
		return
	}
	if ready {
		t.result, t.err = v, err
		t.state = StateReady
		t.mu.Unlock()
		t.log.Debug("task ready", zap.Bool("failed", err != nil))
		dropFuture(fut)
		cont(data, PollReady)
		return
	}

	t.fut = fut
	t.state = StateIdle
	if t.woken {
		t.woken = false
		t.mu.Unlock()
		cont(data, PollWake)
		return
	}
	t.cont, t.contData = cont, data
	t.mu.Unlock()
}

// drive polls fut once. A panic is contained and becomes the task's error.
func (t *Task[T, R]) drive(fut Future[T]) (v T, ready bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			msg := call.PanicMessage(p)
			t.log.Warn("future panicked", zap.String("panic", msg))
			var zero T
			v, ready, err = zero, true, &panicError{msg: msg}
		}
	}()
	v, err = fut.Poll(t)
	if iox.IsWouldBlock(err) {
		return v, false, nil
	}
	return v, true, err
}

// Wake implements Waker. It fires a stored continuation with PollWake, or
// records the wake for the poll in progress or the next one. Wakes after the
// task has finished are ignored.
func (t *Task[T, R]) Wake() {
	t.mu.Lock()
	switch t.state {
	case StateIdle:
		if cont := t.cont; cont != nil {
			data := t.contData
			t.cont, t.contData = nil, 0
			t.mu.Unlock()
			cont(data, PollWake)
			return
		}
		t.woken = true
	case StatePolling:
		t.woken = true
	}
	t.mu.Unlock()
}

// Cancel stops the task. The future is dropped, a stored continuation
// receives PollReady, and Complete will report call.CodeCancelled. A task
// that is already ready keeps its outcome.
func (t *Task[T, R]) Cancel() {
	t.mu.Lock()
	if t.state != StateIdle && t.state != StatePolling {
		t.mu.Unlock()
		return
	}
	t.state = StateCancelled
	fut := t.fut
	t.fut = nil
	cont, data := t.cont, t.contData
	t.cont, t.contData = nil, 0
	t.mu.Unlock()

	t.log.Debug("task cancelled")
	dropFuture(fut)
	if cont != nil {
		cont(data, PollReady)
	}
}

// Complete takes the task's outcome and records it in status. It must be
// called once, after a continuation received PollReady.
//
// A value is lowered and returned. A domain error is reported as
// call.CodeError, any other error or a panic in the future as
// call.CodeUnexpectedError. A cancelled task reports call.CodeCancelled. In
// any other state Complete reports a contract violation as
// call.CodeUnexpectedError.
func (t *Task[T, R]) Complete(status *call.Status) R {
	t.mu.Lock()
	switch t.state {
	case StateReady:
		v, err := t.result, t.err
		var zero T
		t.result, t.err = zero, nil
		t.state = StateCompleted
		t.mu.Unlock()

		return call.Do(status, t.lowerErr, func() (R, error) {
			if err != nil {
				var none R
				return none, err
			}
			return t.lower(v), nil
		})
	case StateCancelled:
		t.state = StateCompleted
		t.mu.Unlock()
		call.Cancelled(status)
		var zero R
		return zero
	}
	state := t.state
	t.mu.Unlock()

	t.log.Warn("complete called out of order", zap.Stringer("state", state))
	*status = call.Status{}
	call.Fail(status, nil, errors.InvalidState(errors.PhaseTask, "complete", state.String()))
	var zero R
	return zero
}

// Free releases everything the task holds. A stored continuation receives
// PollReady. Free is idempotent and the task must not be used afterwards,
// except that late wakes are ignored.
func (t *Task[T, R]) Free() {
	t.mu.Lock()
	if t.state == StateFreed {
		t.mu.Unlock()
		return
	}
	t.state = StateFreed
	fut := t.fut
	t.fut = nil
	cont, data := t.cont, t.contData
	t.cont, t.contData = nil, 0
	var zero T
	t.result, t.err = zero, nil
	t.mu.Unlock()

	t.log.Debug("task freed")
	dropFuture(fut)
	if cont != nil {
		cont(data, PollReady)
	}
}

// Drop lets a handle table free the task when its last handle goes.
func (t *Task[T, R]) Drop() { t.Free() }

func dropFuture[T any](fut Future[T]) {
	if d, ok := fut.(handle.Dropper); ok {
		d.Drop()
	}
}
