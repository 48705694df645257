package task

import (
	"context"
	stderrors "errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"weak"

	"code.hybscloud.com/iox"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
)

// mockFuture completes when send is called. wake wakes the stored waker
// without completing.
type mockFuture struct {
	val     string
	err     error
	waker   Waker
	res     *probe
	mu      sync.Mutex
	drops   atomic.Int32
	settled bool
}

type probe struct {
	pad [128]byte
}

func (m *mockFuture) Poll(w Waker) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.settled {
		m.waker = w
		return "", iox.ErrWouldBlock
	}
	return m.val, m.err
}

func (m *mockFuture) wake() {
	m.mu.Lock()
	w := m.waker
	m.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}

func (m *mockFuture) send(v string, err error) {
	m.mu.Lock()
	m.val, m.err, m.settled = v, err, true
	m.mu.Unlock()
	m.wake()
}

func (m *mockFuture) Drop() { m.drops.Add(1) }

// recorder collects continuation invocations.
type recorder struct {
	codes []PollCode
	data  []uint64
	mu    sync.Mutex
}

func (r *recorder) cont(data uint64, code PollCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
	r.data = append(r.data, data)
}

// take returns the single pending invocation, if any.
func (r *recorder) take(t *testing.T) (PollCode, bool) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	switch len(r.codes) {
	case 0:
		return 0, false
	case 1:
		code := r.codes[0]
		r.codes, r.data = nil, nil
		return code, true
	}
	t.Fatalf("continuation fired %d times: %v", len(r.codes), r.codes)
	return 0, false
}

func expectNone(t *testing.T, r *recorder) {
	t.Helper()
	if code, ok := r.take(t); ok {
		t.Fatalf("continuation fired with %v, want pending", code)
	}
}

func expectCode(t *testing.T, r *recorder, want PollCode) {
	t.Helper()
	code, ok := r.take(t)
	if !ok {
		t.Fatalf("continuation not fired, want %v", want)
	}
	if code != want {
		t.Fatalf("continuation fired with %v, want %v", code, want)
	}
}

type failure struct {
	Msg string
}

func (e *failure) Error() string { return e.Msg }

var failureConv = codec.Funcs[*failure]{
	WriteFunc: func(w *codec.Writer, e *failure) { codec.String.Write(w, e.Msg) },
	ReadFunc: func(r *codec.Reader) (*failure, error) {
		msg, err := codec.String.Read(r)
		if err != nil {
			return nil, err
		}
		return &failure{Msg: msg}, nil
	},
}

func newStringTask(fut Future[string]) *Task[string, buffer.Buffer] {
	return NewBuffered[string](fut, codec.String, call.Domain[*failure](failureConv))
}

func TestTaskSuccess(t *testing.T) {
	fut := &mockFuture{}
	task := newStringTask(fut)
	defer task.Free()
	var rec recorder

	task.Poll(rec.cont, 0)
	expectNone(t, &rec)

	fut.wake()
	expectCode(t, &rec, PollWake)

	task.Poll(rec.cont, 0)
	expectNone(t, &rec)

	fut.send("All done", nil)
	expectCode(t, &rec, PollWake)

	task.Poll(rec.cont, 0)
	expectCode(t, &rec, PollReady)

	var status call.Status
	buf := task.Complete(&status)
	if status.Code != call.CodeSuccess {
		t.Fatalf("Code = %v, want success", status.Code)
	}
	got, err := codec.Lift(codec.String, buf)
	if err != nil || got != "All done" {
		t.Errorf("result = %q, %v", got, err)
	}
	if fut.drops.Load() != 1 {
		t.Errorf("future dropped %d times after completion, want 1", fut.drops.Load())
	}
}

func TestTaskDomainError(t *testing.T) {
	fut := &mockFuture{}
	task := newStringTask(fut)
	defer task.Free()
	var rec recorder

	task.Poll(rec.cont, 0)
	fut.send("", &failure{Msg: "Error"})
	expectCode(t, &rec, PollWake)
	task.Poll(rec.cont, 0)
	expectCode(t, &rec, PollReady)

	var status call.Status
	task.Complete(&status)
	if status.Code != call.CodeError {
		t.Fatalf("Code = %v, want error", status.Code)
	}
	err := call.CheckDomain[*failure](&status, failureConv)
	var f *failure
	if !stderrors.As(err, &f) || f.Msg != "Error" {
		t.Errorf("err = %v", err)
	}
}

func TestTaskArgumentError(t *testing.T) {
	task := newStringTask(Fail[string](errors.LiftArg("arg0", errors.InvalidHandle(0x1234, "already released"))))
	defer task.Free()
	var rec recorder

	task.Poll(rec.cont, 0)
	expectCode(t, &rec, PollReady)

	var status call.Status
	task.Complete(&status)
	if status.Code != call.CodeUnexpectedError {
		t.Fatalf("Code = %v, want unexpected error", status.Code)
	}
	err := call.Check(&status)
	if err == nil || !strings.Contains(err.Error(), "arg0") || !strings.Contains(err.Error(), "Invalid handle") {
		t.Errorf("err = %v, want diagnostic naming arg0 and Invalid handle", err)
	}
}

func TestTaskCancel(t *testing.T) {
	fut := &mockFuture{}
	task := newStringTask(fut)
	defer task.Free()
	var rec recorder

	task.Poll(rec.cont, 0)
	expectNone(t, &rec)

	task.Cancel()
	expectCode(t, &rec, PollReady)
	if fut.drops.Load() != 1 {
		t.Errorf("future dropped %d times on cancel, want 1", fut.drops.Load())
	}

	task.Poll(rec.cont, 0)
	expectCode(t, &rec, PollReady)

	// a late completion of the dropped future changes nothing
	fut.send("too late", nil)
	expectNone(t, &rec)

	var status call.Status
	task.Complete(&status)
	if status.Code != call.CodeCancelled {
		t.Errorf("Code = %v, want cancelled", status.Code)
	}
}

func TestTaskCancelAfterReady(t *testing.T) {
	task := newStringTask(Ready("kept"))
	defer task.Free()
	var rec recorder

	task.Poll(rec.cont, 0)
	expectCode(t, &rec, PollReady)
	task.Cancel()
	expectNone(t, &rec)

	var status call.Status
	buf := task.Complete(&status)
	if status.Code != call.CodeSuccess {
		t.Fatalf("Code = %v, want success", status.Code)
	}
	if got, _ := codec.Lift(codec.String, buf); got != "kept" {
		t.Errorf("result = %q", got)
	}
}

// startProbedTask returns a pending task whose future alone holds a probe.
func startProbedTask(rec *recorder) (*Task[string, buffer.Buffer], weak.Pointer[probe]) {
	res := &probe{}
	ptr := weak.Make(res)
	task := newStringTask(&mockFuture{res: res})
	task.Poll(rec.cont, 7)
	return task, ptr
}

func TestTaskFreeReleasesFuture(t *testing.T) {
	var rec recorder
	task, ptr := startProbedTask(&rec)
	expectNone(t, &rec)

	// task stays referenced here, Free alone must release the future
	task.Free()
	expectCode(t, &rec, PollReady)

	runtime.GC()
	runtime.GC()
	if ptr.Value() != nil {
		t.Error("future still reachable after Free")
	}
	if task.State() != StateFreed {
		t.Errorf("State = %v, want freed", task.State())
	}
	runtime.KeepAlive(task)
}

func TestTaskFreeIdempotent(t *testing.T) {
	fut := &mockFuture{}
	task := newStringTask(fut)
	task.Free()
	task.Free()
	if fut.drops.Load() != 1 {
		t.Errorf("future dropped %d times, want 1", fut.drops.Load())
	}
	// wakes after free are ignored
	task.Wake()
}

func TestTaskFreeFiresStoredContinuation(t *testing.T) {
	task := newStringTask(&mockFuture{})
	var rec recorder

	task.Poll(rec.cont, 42)
	expectNone(t, &rec)

	task.Free()

	rec.mu.Lock()
	data := append([]uint64(nil), rec.data...)
	rec.mu.Unlock()
	expectCode(t, &rec, PollReady)
	if len(data) != 1 || data[0] != 42 {
		t.Errorf("continuation data = %v, want [42]", data)
	}
}

func TestTaskWakeDuringPoll(t *testing.T) {
	polls := 0
	fut := FutureFunc[string](func(w Waker) (string, error) {
		polls++
		if polls == 1 {
			w.Wake()
			return "", iox.ErrWouldBlock
		}
		return "second", nil
	})
	task := newStringTask(fut)
	defer task.Free()
	var rec recorder

	task.Poll(rec.cont, 0)
	expectCode(t, &rec, PollWake)

	task.Poll(rec.cont, 0)
	expectCode(t, &rec, PollReady)

	var status call.Status
	buf := task.Complete(&status)
	if status.Code != call.CodeSuccess {
		t.Fatalf("Code = %v", status.Code)
	}
	if got, _ := codec.Lift(codec.String, buf); got != "second" {
		t.Errorf("result = %q", got)
	}
}

// hookFuture runs onPoll from inside Poll, then returns its outcome.
type hookFuture struct {
	onPoll func()
	drops  atomic.Int32
	ready  bool
}

func (f *hookFuture) Poll(Waker) (string, error) {
	f.onPoll()
	if f.ready {
		return "finished anyway", nil
	}
	return "", iox.ErrWouldBlock
}

func (f *hookFuture) Drop() { f.drops.Add(1) }

func TestTaskStopDuringPoll(t *testing.T) {
	tests := []struct {
		name     string
		stop     func(*Task[string, buffer.Buffer])
		state    State
		wantCode call.Code
		ready    bool
	}{
		{name: "cancel pending", stop: (*Task[string, buffer.Buffer]).Cancel, state: StateCancelled, wantCode: call.CodeCancelled},
		{name: "cancel ready", stop: (*Task[string, buffer.Buffer]).Cancel, state: StateCancelled, wantCode: call.CodeCancelled, ready: true},
		{name: "free pending", stop: (*Task[string, buffer.Buffer]).Free, state: StateFreed, wantCode: call.CodeUnexpectedError},
		{name: "free ready", stop: (*Task[string, buffer.Buffer]).Free, state: StateFreed, wantCode: call.CodeUnexpectedError, ready: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fut := &hookFuture{ready: tt.ready}
			task := newStringTask(fut)
			defer task.Free()
			fut.onPoll = func() {
				if task.State() != StatePolling {
					t.Errorf("state inside Poll = %v", task.State())
				}
				tt.stop(task)
			}
			var rec recorder

			task.Poll(rec.cont, 7)
			expectCode(t, &rec, PollReady)
			if task.State() != tt.state {
				t.Errorf("state = %v, want %v", task.State(), tt.state)
			}
			if n := fut.drops.Load(); n != 1 {
				t.Errorf("future dropped %d times, want 1", n)
			}

			// later polls answer ready without driving the future again
			fut.onPoll = func() { t.Error("future polled after stop") }
			task.Poll(rec.cont, 7)
			expectCode(t, &rec, PollReady)

			var status call.Status
			buf := task.Complete(&status)
			if status.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", status.Code, tt.wantCode)
			}
			if !buf.IsEmpty() {
				t.Errorf("result %d bytes, want none", buf.Len)
			}
			buffer.Free(buf)
			buffer.Free(status.ErrorBuf)
		})
	}
}

func TestTaskFuturePanic(t *testing.T) {
	task := newStringTask(FutureFunc[string](func(Waker) (string, error) {
		panic("poll exploded")
	}))
	defer task.Free()
	var rec recorder

	task.Poll(rec.cont, 0)
	expectCode(t, &rec, PollReady)

	var status call.Status
	task.Complete(&status)
	err := call.Check(&status)
	var unexpected *call.UnexpectedError
	if !stderrors.As(err, &unexpected) || unexpected.Message != "poll exploded" {
		t.Errorf("err = %v", err)
	}
}

func TestTaskLowerPanic(t *testing.T) {
	task := New[int, int](Ready(1), func(int) int { panic("lower exploded") }, nil)
	defer task.Free()
	var rec recorder

	task.Poll(rec.cont, 0)
	expectCode(t, &rec, PollReady)

	var status call.Status
	task.Complete(&status)
	if err := call.Check(&status); err == nil || err.Error() != "lower exploded" {
		t.Errorf("err = %v", err)
	}
}

func TestTaskCompleteOutOfOrder(t *testing.T) {
	tests := []struct {
		prepare func(*Task[string, buffer.Buffer])
		name    string
	}{
		{name: "before ready", prepare: func(*Task[string, buffer.Buffer]) {}},
		{name: "twice", prepare: func(task *Task[string, buffer.Buffer]) {
			var rec recorder
			task.Poll(rec.cont, 0)
			var status call.Status
			buffer.Free(task.Complete(&status))
		}},
		{name: "after free", prepare: func(task *Task[string, buffer.Buffer]) { task.Free() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var task *Task[string, buffer.Buffer]
			if tt.name == "before ready" {
				task = newStringTask(&mockFuture{})
			} else {
				task = newStringTask(Ready("x"))
			}
			defer task.Free()
			tt.prepare(task)

			var status call.Status
			task.Complete(&status)
			err := call.Check(&status)
			if err == nil || !strings.Contains(err.Error(), "complete called in state") {
				t.Errorf("err = %v, want state violation", err)
			}
		})
	}
}

func TestAwaitSpawn(t *testing.T) {
	task := NewBuffered[string](Spawn(context.Background(), func(ctx context.Context) (string, error) {
		time.Sleep(5 * time.Millisecond)
		return "spawned", nil
	}), codec.String, nil)

	var status call.Status
	buf := Await[buffer.Buffer](context.Background(), task, &status)
	if err := call.Check(&status); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got, _ := codec.Lift(codec.String, buf); got != "spawned" {
		t.Errorf("result = %q", got)
	}
	if task.State() != StateFreed {
		t.Errorf("State = %v, want freed", task.State())
	}
}

func TestAwaitCancelStopsWork(t *testing.T) {
	stopped := make(chan struct{})
	task := NewVoid(Spawn(context.Background(), func(ctx context.Context) (struct{}, error) {
		<-ctx.Done()
		close(stopped)
		return struct{}{}, ctx.Err()
	}), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var status call.Status
	Await[struct{}](ctx, task, &status)
	if !stderrors.Is(call.Check(&status), call.ErrCancelled) {
		t.Errorf("Code = %v, want cancelled", status.Code)
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Error("spawned work not cancelled")
	}
}

func TestBlockOnPromise(t *testing.T) {
	p := NewPromise[int]()
	go func() {
		time.Sleep(2 * time.Millisecond)
		p.Resolve(5)
	}()
	v, err := BlockOn[int](p)
	if err != nil || v != 5 {
		t.Errorf("BlockOn = %d, %v", v, err)
	}
	if p.Reject(stderrors.New("late")) {
		t.Error("second settle accepted")
	}
}

func TestConcurrentWakes(t *testing.T) {
	const wakers = 8
	const rounds = 200

	var fired atomic.Int32
	p := NewPromise[string]()
	fut := FutureFunc[string](func(w Waker) (string, error) {
		v, err := p.Poll(w)
		if iox.IsWouldBlock(err) {
			fired.Add(1)
		}
		return v, err
	})
	task := newStringTask(fut)

	var g errgroup.Group
	for i := 0; i < wakers; i++ {
		g.Go(func() error {
			for j := 0; j < rounds; j++ {
				task.Wake()
				runtime.Gosched()
			}
			return nil
		})
	}
	g.Go(func() error {
		time.Sleep(time.Millisecond)
		p.Resolve("done")
		return nil
	})

	var status call.Status
	buf := Await[buffer.Buffer](context.Background(), task, &status)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if err := call.Check(&status); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got, _ := codec.Lift(codec.String, buf); got != "done" {
		t.Errorf("result = %q", got)
	}
	t.Logf("%d pending polls", fired.Load())
}
