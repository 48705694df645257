// Package ffi is the boundary surface generated bindings call into.
//
// Every exported operation takes a *call.Status and never panics or returns
// a Go error across the boundary. A Runtime owns the handle table shared by
// objects and tasks:
//
//	rt := ffi.New(ffi.DefaultOptions())
//	counters := ffi.NewObject[*Counter](rt, "Counter")
//
//	h := ffi.Construct(counters, &status, nil, newCounter)
//	n := ffi.Call(counters, h, &status, nil, func(c *handle.Arc[*Counter]) (int64, error) {
//		return c.Value().Incr(), nil
//	})
//	counters.Free(h, &status)
//
// Async functions return a task handle from StartTask. The foreign side
// drives it with TaskPoll until a continuation receives PollReady, then
// calls TaskComplete and TaskFree.
package ffi
