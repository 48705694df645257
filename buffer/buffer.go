package buffer

import (
	"sync"
	"unsafe"

	"github.com/wippyai/ffi-runtime/errors"
)

const (
	// Pool limits to prevent memory bloat
	poolMaxCap  = 64 << 10
	poolInitCap = 64
)

// Buffer is a byte region handed across the boundary. The layout matches the
// ABI struct: capacity, length, then a pointer to the first byte.
//
// A Buffer has exactly one owner. Passing it to another function transfers
// ownership and the receiver frees it exactly once with Free. Reading a
// buffer after handing it off, or freeing it twice, is a contract violation
// that the allocator does not detect.
type Buffer struct {
	Capacity uint64
	Len      uint64
	Data     *byte
}

// ForeignBytes is a borrowed view of memory owned by the foreign caller. It
// is only valid for the duration of the call that received it.
type ForeignBytes struct {
	Len  int32
	Data *byte
}

// Bytes returns the initialized portion of the buffer without copying.
func (b Buffer) Bytes() []byte {
	if b.Data == nil || b.Len == 0 {
		return nil
	}
	return unsafe.Slice(b.Data, b.Len)
}

// IsEmpty reports whether the buffer owns no memory.
func (b Buffer) IsEmpty() bool {
	return b.Data == nil
}

// Bytes returns the foreign bytes without copying.
func (f ForeignBytes) Bytes() []byte {
	if f.Data == nil || f.Len <= 0 {
		return nil
	}
	return unsafe.Slice(f.Data, f.Len)
}

// allocator owns every buffer from Alloc to Free. Backing arrays stay in the
// live set while the foreign side holds them so the collector cannot reclaim
// memory reachable only through a Buffer value on the other side.
type allocator struct {
	mu   sync.Mutex
	live map[*byte][]byte
	pool sync.Pool
}

var std = &allocator{
	live: make(map[*byte][]byte),
	pool: sync.Pool{
		New: func() any {
			buf := make([]byte, 0, poolInitCap)
			return &buf
		},
	},
}

func (a *allocator) alloc(size uint64) Buffer {
	if size == 0 {
		return Buffer{}
	}
	var mem []byte
	if size <= poolMaxCap {
		p := a.pool.Get().(*[]byte)
		if uint64(cap(*p)) >= size {
			mem = (*p)[:cap(*p)]
		} else {
			a.pool.Put(p)
		}
	}
	if mem == nil {
		mem = make([]byte, size)
	}
	clear(mem)

	a.mu.Lock()
	a.live[&mem[0]] = mem
	a.mu.Unlock()

	return Buffer{Capacity: uint64(cap(mem)), Data: &mem[0]}
}

func (a *allocator) free(b Buffer) {
	if b.Data == nil {
		return
	}
	a.mu.Lock()
	mem, ok := a.live[b.Data]
	delete(a.live, b.Data)
	a.mu.Unlock()

	if !ok || cap(mem) > poolMaxCap {
		return // reject oversized and foreign memory
	}
	mem = mem[:0]
	a.pool.Put(&mem)
}

func (a *allocator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Alloc returns an empty buffer with room for at least size bytes.
func Alloc(size uint64) Buffer {
	return std.alloc(size)
}

// FromBytes copies data into a newly allocated buffer.
func FromBytes(data []byte) Buffer {
	b := std.alloc(uint64(len(data)))
	if len(data) > 0 {
		copy(unsafe.Slice(b.Data, b.Capacity), data)
		b.Len = uint64(len(data))
	}
	return b
}

// FromForeign copies borrowed foreign bytes into a buffer the runtime owns.
func FromForeign(f ForeignBytes) (Buffer, error) {
	if f.Len < 0 {
		return Buffer{}, errors.InvalidInput(errors.PhaseLift, "foreign bytes with negative length")
	}
	if f.Len > 0 && f.Data == nil {
		return Buffer{}, errors.InvalidInput(errors.PhaseLift, "foreign bytes with null data and non-zero length")
	}
	return FromBytes(f.Bytes()), nil
}

// Reserve returns a buffer holding the contents of b with room for at least
// additional more bytes. Ownership of b moves into the result; b must not be
// used afterwards.
func Reserve(b Buffer, additional uint64) Buffer {
	need := b.Len + additional
	if need <= b.Capacity {
		return b
	}
	grown := std.alloc(max(need, 2*b.Capacity))
	if b.Len > 0 {
		copy(unsafe.Slice(grown.Data, grown.Capacity), b.Bytes())
	}
	grown.Len = b.Len
	std.free(b)
	return grown
}

// Append writes data after the current contents, growing the buffer when
// needed. Like Reserve it takes ownership of b.
func Append(b Buffer, data []byte) Buffer {
	if len(data) == 0 {
		return b
	}
	b = Reserve(b, uint64(len(data)))
	copy(unsafe.Slice(b.Data, b.Capacity)[b.Len:], data)
	b.Len += uint64(len(data))
	return b
}

// Free releases a buffer back to the allocator. Freeing an empty buffer is a
// no-op.
func Free(b Buffer) {
	std.free(b)
}

// Live reports how many buffers are currently allocated and not yet freed.
func Live() int {
	return std.count()
}
