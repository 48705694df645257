package codec

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/errors"
)

const (
	MaxStringSize = 1 << 30 // 1 GB max string or byte string
	MaxListLength = 1 << 27 // 128M max elements
)

const (
	// Pool limits to prevent memory bloat
	writerMaxCap  = 64 << 10
	writerInitCap = 64
)

var writerPool = sync.Pool{
	New: func() any {
		return &Writer{buf: make([]byte, 0, writerInitCap)}
	},
}

func getWriter() *Writer {
	return writerPool.Get().(*Writer)
}

func putWriter(w *Writer) {
	if w == nil || cap(w.buf) > writerMaxCap {
		return // reject oversized
	}
	w.buf = w.buf[:0]
	writerPool.Put(w)
}

// Writer appends big-endian encoded values to a growing byte slice.
type Writer struct {
	buf []byte
}

// NewWriter creates a writer with the given initial capacity.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

func (w *Writer) WriteU8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) WriteU16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *Writer) WriteU32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *Writer) WriteU64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

// WriteRaw appends bytes without a length prefix.
func (w *Writer) WriteRaw(p []byte) { w.buf = append(w.buf, p...) }

// WriteLen writes a u32 length or element count. Lengths that do not fit
// are a programming error on the host side and panic; the call boundary
// turns the panic into an unexpected error.
func (w *Writer) WriteLen(n int) {
	if n < 0 || uint64(n) > math.MaxUint32 {
		panic(errors.Overflow(errors.PhaseLower, nil, n, "u32 length"))
	}
	w.WriteU32(uint32(n))
}

// Bytes returns the encoded bytes. The slice is only valid until the next write.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Reader consumes big-endian encoded values from a byte slice. Every read
// checks the remaining length, so malformed input yields an error and never
// a panic.
type Reader struct {
	data []byte
	off  int
}

// NewReader creates a reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, errors.OutOfBounds(errors.PhaseLift, nil, n, r.Remaining())
	}
	p := r.data[r.off : r.off+n]
	r.off += n
	return p, nil
}

func (r *Reader) ReadU8() (uint8, error) {
	p, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (r *Reader) ReadU16() (uint16, error) {
	p, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (r *Reader) ReadU32() (uint32, error) {
	p, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

func (r *Reader) ReadU64() (uint64, error) {
	p, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(p), nil
}

// ReadRaw returns the next n bytes without copying.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	return r.take(n)
}

// ReadLen reads a u32 length and checks it against limit and against the
// bytes that remain when each counted item needs at least minItemSize bytes.
func (r *Reader) ReadLen(limit int, minItemSize int) (int, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if uint64(n) > uint64(limit) {
		return 0, errors.New(errors.PhaseLift, errors.KindOverflow).
			Detail("declared length %d exceeds maximum %d", n, limit).
			Build()
	}
	if minItemSize > 0 && uint64(n)*uint64(minItemSize) > uint64(r.Remaining()) {
		return 0, errors.New(errors.PhaseLift, errors.KindOutOfBounds).
			Detail("declared length %d inconsistent with %d remaining bytes", n, r.Remaining()).
			Build()
	}
	return int(n), nil
}

// Converter lowers values of type T into a Writer and lifts them back from a
// Reader. Write must not fail for values of T; Read fails on malformed input.
type Converter[T any] interface {
	Write(w *Writer, v T)
	Read(r *Reader) (T, error)
}

// Lower encodes v into a newly allocated buffer. Ownership of the buffer
// passes to the caller.
func Lower[T any](c Converter[T], v T) buffer.Buffer {
	w := getWriter()
	defer putWriter(w)
	c.Write(w, v)
	return buffer.FromBytes(w.Bytes())
}

// Lift decodes a value from buf and frees it. The buffer must hold exactly
// one encoded value; trailing bytes are a conversion error.
func Lift[T any](c Converter[T], buf buffer.Buffer) (T, error) {
	defer buffer.Free(buf)
	return Decode(c, buf.Bytes())
}

// LiftArg is Lift with failures attributed to the named call argument.
func LiftArg[T any](name string, c Converter[T], buf buffer.Buffer) (T, error) {
	v, err := Lift(c, buf)
	if err != nil {
		return v, errors.LiftArg(name, err)
	}
	return v, nil
}

// Encode returns the encoding of v as a fresh byte slice.
func Encode[T any](c Converter[T], v T) []byte {
	w := getWriter()
	defer putWriter(w)
	c.Write(w, v)
	return append([]byte(nil), w.Bytes()...)
}

// Decode decodes exactly one value from data.
func Decode[T any](c Converter[T], data []byte) (T, error) {
	r := NewReader(data)
	v, err := c.Read(r)
	if err != nil {
		var zero T
		return zero, err
	}
	if r.Remaining() != 0 {
		var zero T
		return zero, errors.TrailingBytes(errors.PhaseLift, r.Remaining())
	}
	return v, nil
}
