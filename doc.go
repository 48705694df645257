// Package ffiruntime is the Go side of a foreign-function boundary: values,
// objects, errors and async work cross it as byte buffers, opaque handles
// and status records.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	ffiruntime/          Root package, documentation only
//	├── buffer/          Owned byte buffers and borrowed foreign slices
//	├── codec/           Big-endian value codec and WIT-typed dynamic values
//	├── handle/          Reference counted objects behind opaque u64 handles
//	├── call/            Call status records and error/panic reporting
//	├── task/            Pollable futures bridged to foreign continuations
//	├── callback/        Foreign vtables invoked from Go
//	├── ffi/             Runtime tying handles, tasks and callbacks together
//	├── wasmhost/        The same surface exported to wazero guests
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
// Export an object type and a method:
//
//	rt := ffi.New(ffi.DefaultOptions())
//	defer rt.Close()
//
//	counters := ffi.NewObject[*Counter](rt, "Counter")
//
//	h := ffi.Construct(counters, &status, nil, func() (*Counter, error) {
//	    return &Counter{}, nil
//	})
//
//	n := ffi.Call(counters, h, &status, nil, func(c *handle.Arc[*Counter]) (uint64, error) {
//	    return c.Value().Inc(), nil
//	})
//
// # Async Calls
//
// Async functions return a task handle. The foreign side polls it with a
// continuation, completes it once the continuation reports ready, and frees
// it:
//
//	th := ffi.StartTask(rt, task.NewBuffered(task.Spawn(ctx, work), codec.String, nil))
//	rt.TaskPoll(th, cont, data)
//	result := ffi.TaskComplete[buffer.Buffer](rt, th, &status)
//	rt.TaskFree(th)
//
// # Thread Safety
//
// Runtime, handle tables and tasks are safe for concurrent use. Buffers are
// owned values and must not be shared after they are passed across the
// boundary.
package ffiruntime
