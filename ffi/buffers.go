package ffi

import (
	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/call"
)

// BufferAlloc allocates a buffer of size bytes for the foreign side.
func BufferAlloc(size uint64, status *call.Status) buffer.Buffer {
	return call.Do(status, nil, func() (buffer.Buffer, error) {
		return buffer.Alloc(size), nil
	})
}

// BufferFromBytes copies foreign-owned bytes into a new buffer.
func BufferFromBytes(data buffer.ForeignBytes, status *call.Status) buffer.Buffer {
	return call.Do(status, nil, func() (buffer.Buffer, error) {
		return buffer.FromForeign(data)
	})
}

// BufferReserve grows buf so that additional bytes fit after its length.
// buf is consumed and the returned buffer replaces it.
func BufferReserve(buf buffer.Buffer, additional uint64, status *call.Status) buffer.Buffer {
	return call.Do(status, nil, func() (buffer.Buffer, error) {
		return buffer.Reserve(buf, additional), nil
	})
}

// BufferFree releases a buffer returned by any boundary call.
func BufferFree(buf buffer.Buffer, status *call.Status) {
	call.Void(status, nil, func() error {
		buffer.Free(buf)
		return nil
	})
}
