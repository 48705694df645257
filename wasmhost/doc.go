// Package wasmhost exposes an ffi.Runtime to WebAssembly guests through a
// wazero host module.
//
// Guests never see host pointers. Buffers are addressed by handle and
// copied in and out of guest memory:
//
//	buffer_from_bytes(ptr, len i32) -> buffer i64
//	buffer_len(buffer i64) -> i32
//	buffer_read(buffer i64, ptr, cap i32) -> copied i32
//	buffer_free(buffer i64)
//
// Tasks started by async host functions are driven with:
//
//	task_poll(task, data i64) -> i32
//	task_cancel(task i64)
//	task_free(task i64)
//	task_complete(task i64, status_ptr i32) -> result buffer i64
//	continuation_next(out_ptr i32) -> i32
//
// Continuations fire on arbitrary goroutines. The host queues them and the
// guest drains the queue with continuation_next, which writes the data
// value passed to task_poll and the poll code. Records in guest memory are
// little-endian; payloads inside buffers use the big-endian value codec.
package wasmhost
