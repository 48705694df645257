package task

import (
	"context"
	"sync"

	"code.hybscloud.com/iox"
)

// Waker schedules another poll of the computation it was handed to. Wake
// may be called from any goroutine, any number of times, and after the task
// is gone, in which case it does nothing.
type Waker interface {
	Wake()
}

// Future is a host computation driven by polling. Poll must not block. It
// returns iox.ErrWouldBlock while the result is not available, after
// arranging for w to be woken once progress is possible. Any other return is
// the final outcome: a value, or an error that Complete reports to the
// foreign caller.
//
// A future that also implements handle.Dropper is told when the task drops
// it, so it can release what it holds.
type Future[T any] interface {
	Poll(w Waker) (T, error)
}

// FutureFunc adapts a poll function to the Future interface.
type FutureFunc[T any] func(w Waker) (T, error)

func (f FutureFunc[T]) Poll(w Waker) (T, error) { return f(w) }

// Ready returns a future that completes with v on the first poll.
func Ready[T any](v T) Future[T] {
	return FutureFunc[T](func(Waker) (T, error) { return v, nil })
}

// Fail returns a future that completes with err on the first poll.
func Fail[T any](err error) Future[T] {
	return FutureFunc[T](func(Waker) (T, error) {
		var zero T
		return zero, err
	})
}

// Promise is a future completed from outside, typically by a callback or a
// goroutine the host does not control.
type Promise[T any] struct {
	mu    sync.Mutex
	val   T
	err   error
	waker Waker
	done  bool
}

// NewPromise creates an unresolved promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{}
}

// Resolve completes the promise with v. Only the first completion counts.
func (p *Promise[T]) Resolve(v T) bool {
	return p.settle(v, nil)
}

// Reject completes the promise with err. Only the first completion counts.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.settle(zero, err)
}

func (p *Promise[T]) settle(v T, err error) bool {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return false
	}
	p.val, p.err, p.done = v, err, true
	w := p.waker
	p.waker = nil
	p.mu.Unlock()

	if w != nil {
		w.Wake()
	}
	return true
}

// Poll implements Future.
func (p *Promise[T]) Poll(w Waker) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return p.val, p.err
	}
	p.waker = w
	var zero T
	return zero, iox.ErrWouldBlock
}

// Spawn runs fn on a new goroutine and returns a future for its result. The
// context passed to fn is cancelled when the owning task drops the future,
// which is how a cancelled or freed task stops the work.
func Spawn[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &spawned[T]{cancel: cancel}
	go func() {
		v, err := fn(ctx)
		s.promise.settle(v, err)
	}()
	return s
}

type spawned[T any] struct {
	cancel  context.CancelFunc
	promise Promise[T]
}

func (s *spawned[T]) Poll(w Waker) (T, error) { return s.promise.Poll(w) }

// Drop cancels the goroutine's context.
func (s *spawned[T]) Drop() { s.cancel() }
