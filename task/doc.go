// Package task bridges host futures to foreign callers that drive them by
// polling.
//
// A Task wraps a Future and moves through these states:
//
//	idle ──Poll──▶ polling ──pending──▶ idle
//	                  │
//	                  └──ready──▶ ready ──Complete──▶ completed
//	idle/polling ──Cancel──▶ cancelled ──Complete──▶ completed
//	any ──Free──▶ freed
//
// Each Poll call takes a continuation which is invoked exactly once with
// PollWake (poll again) or PollReady (call Complete). Wake, Cancel and Free
// may fire a stored continuation from whatever goroutine calls them.
//
// The foreign protocol is:
//
//	for {
//		t.Poll(cont, data)
//		if <continuation got PollReady> { break }
//	}
//	result := t.Complete(&status)
//	t.Free()
//
// Await runs that protocol from Go, which is how tests and in-process hosts
// consume tasks. BlockOn drives a bare Future without a Task.
package task
