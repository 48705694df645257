package task

import (
	"context"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"

	"github.com/wippyai/ffi-runtime/call"
)

// wakeCounter is a Waker that counts wakes so a spinning driver can tell
// whether anything happened since its last poll.
type wakeCounter struct {
	n atomix.Uint32
}

func (c *wakeCounter) Wake() { c.n.Add(1) }

func (c *wakeCounter) load() uint32 { return c.n.Add(0) }

// BlockOn drives f to completion on the calling goroutine. Between polls it
// backs off until the future wakes it.
func BlockOn[T any](f Future[T]) (T, error) {
	var (
		w  wakeCounter
		bo iox.Backoff
	)
	for {
		seen := w.load()
		v, err := f.Poll(&w)
		if !iox.IsWouldBlock(err) {
			return v, err
		}
		for w.load() == seen {
			bo.Wait()
		}
		bo.Reset()
	}
}

// Await is the foreign side of the protocol written in Go: it polls t until
// a continuation reports PollReady, completes it into status and frees it.
// If ctx ends first the task is cancelled and status reports
// call.CodeCancelled, unless the outcome was already there.
func Await[R any](ctx context.Context, t Completer[R], status *call.Status) R {
	defer t.Free()

	codes := make(chan PollCode, 1)
	cont := func(_ uint64, code PollCode) { codes <- code }
	for {
		t.Poll(cont, 0)
		select {
		case code := <-codes:
			if code == PollReady {
				return t.Complete(status)
			}
		case <-ctx.Done():
			t.Cancel()
			// the outstanding continuation fires exactly once whatever Cancel
			// found
			<-codes
			return t.Complete(status)
		}
	}
}
