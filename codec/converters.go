package codec

import (
	"fmt"
	"math"
	"reflect"
	"time"
	"unicode/utf8"

	"github.com/wippyai/ffi-runtime/errors"
)

// Built-in converters for scalar types.
var (
	Bool    Converter[bool]    = boolConverter{}
	Int8    Converter[int8]    = fixed[int8]{size: 1}
	Int16   Converter[int16]   = fixed[int16]{size: 2}
	Int32   Converter[int32]   = fixed[int32]{size: 4}
	Int64   Converter[int64]   = fixed[int64]{size: 8}
	Uint8   Converter[uint8]   = fixed[uint8]{size: 1}
	Uint16  Converter[uint16]  = fixed[uint16]{size: 2}
	Uint32  Converter[uint32]  = fixed[uint32]{size: 4}
	Uint64  Converter[uint64]  = fixed[uint64]{size: 8}
	Float32 Converter[float32] = float32Converter{}
	Float64 Converter[float64] = float64Converter{}

	String    Converter[string]        = stringConverter{}
	Bytes     Converter[[]byte]        = bytesConverter{}
	Duration  Converter[time.Duration] = durationConverter{}
	Timestamp Converter[time.Time]     = timestampConverter{}
)

type boolConverter struct{}

func (boolConverter) Write(w *Writer, v bool) {
	if v {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
}

func (boolConverter) Read(r *Reader) (bool, error) {
	b, err := r.ReadU8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, errors.New(errors.PhaseLift, errors.KindInvalidData).
		WireType("bool").
		Detail("unexpected byte %#x", b).
		Build()
}

type integer interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// fixed encodes an integer in size bytes, two's complement for signed types.
type fixed[T integer] struct {
	size int
}

func (c fixed[T]) Write(w *Writer, v T) {
	switch c.size {
	case 1:
		w.WriteU8(uint8(v))
	case 2:
		w.WriteU16(uint16(v))
	case 4:
		w.WriteU32(uint32(v))
	default:
		w.WriteU64(uint64(v))
	}
}

func (c fixed[T]) Read(r *Reader) (T, error) {
	switch c.size {
	case 1:
		v, err := r.ReadU8()
		return T(v), err
	case 2:
		v, err := r.ReadU16()
		return T(v), err
	case 4:
		v, err := r.ReadU32()
		return T(v), err
	default:
		v, err := r.ReadU64()
		return T(v), err
	}
}

type float32Converter struct{}

func (float32Converter) Write(w *Writer, v float32) { w.WriteU32(math.Float32bits(v)) }

func (float32Converter) Read(r *Reader) (float32, error) {
	bits, err := r.ReadU32()
	return math.Float32frombits(bits), err
}

type float64Converter struct{}

func (float64Converter) Write(w *Writer, v float64) { w.WriteU64(math.Float64bits(v)) }

func (float64Converter) Read(r *Reader) (float64, error) {
	bits, err := r.ReadU64()
	return math.Float64frombits(bits), err
}

type stringConverter struct{}

func (stringConverter) Write(w *Writer, v string) {
	w.WriteLen(len(v))
	w.buf = append(w.buf, v...)
}

func (stringConverter) Read(r *Reader) (string, error) {
	n, err := r.ReadLen(MaxStringSize, 1)
	if err != nil {
		return "", err
	}
	p, err := r.ReadRaw(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(p) {
		return "", errors.InvalidUTF8(errors.PhaseLift, nil, p)
	}
	return string(p), nil
}

type bytesConverter struct{}

func (bytesConverter) Write(w *Writer, v []byte) {
	w.WriteLen(len(v))
	w.WriteRaw(v)
}

func (bytesConverter) Read(r *Reader) ([]byte, error) {
	n, err := r.ReadLen(MaxStringSize, 1)
	if err != nil {
		return nil, err
	}
	p, err := r.ReadRaw(n)
	if err != nil {
		return nil, err
	}
	return append([]byte{}, p...), nil
}

// durationConverter encodes a non-negative duration as u64 seconds followed
// by u32 nanoseconds.
type durationConverter struct{}

func (durationConverter) Write(w *Writer, v time.Duration) {
	if v < 0 {
		panic(errors.Overflow(errors.PhaseLower, nil, v, "duration"))
	}
	w.WriteU64(uint64(v / time.Second))
	w.WriteU32(uint32(v % time.Second))
}

func (durationConverter) Read(r *Reader) (time.Duration, error) {
	secs, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	nanos, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	return durationOf(secs, nanos)
}

func durationOf(secs uint64, nanos uint32) (time.Duration, error) {
	if nanos >= uint32(time.Second) {
		return 0, errors.InvalidData(errors.PhaseLift, nil, "nanoseconds out of range")
	}
	if secs > uint64(math.MaxInt64/int64(time.Second))-1 {
		return 0, errors.Overflow(errors.PhaseLift, nil, secs, "duration")
	}
	return time.Duration(secs)*time.Second + time.Duration(nanos), nil
}

// timestampConverter encodes an instant as i64 seconds since the Unix epoch,
// rounded down, and u32 nanoseconds after that second.
type timestampConverter struct{}

func (timestampConverter) Write(w *Writer, v time.Time) {
	w.WriteU64(uint64(v.Unix()))
	w.WriteU32(uint32(v.Nanosecond()))
}

func (timestampConverter) Read(r *Reader) (time.Time, error) {
	secs, err := r.ReadU64()
	if err != nil {
		return time.Time{}, err
	}
	nanos, err := r.ReadU32()
	if err != nil {
		return time.Time{}, err
	}
	if nanos >= uint32(time.Second) {
		return time.Time{}, errors.InvalidData(errors.PhaseLift, nil, "nanoseconds out of range")
	}
	return time.Unix(int64(secs), int64(nanos)).UTC(), nil
}

type optional[T any] struct {
	inner Converter[T]
}

// Optional encodes a nil pointer as a zero flag byte and a present value as
// a one flag byte followed by the value.
func Optional[T any](inner Converter[T]) Converter[*T] {
	return optional[T]{inner: inner}
}

func (c optional[T]) Write(w *Writer, v *T) {
	if v == nil {
		w.WriteU8(0)
		return
	}
	w.WriteU8(1)
	c.inner.Write(w, *v)
}

func (c optional[T]) Read(r *Reader) (*T, error) {
	flag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	switch flag {
	case 0:
		return nil, nil
	case 1:
		v, err := c.inner.Read(r)
		if err != nil {
			return nil, err
		}
		return &v, nil
	}
	return nil, errors.InvalidData(errors.PhaseLift, nil, "unexpected optional flag")
}

type sequence[T any] struct {
	elem Converter[T]
}

// Sequence encodes a slice as a u32 element count followed by the elements.
func Sequence[T any](elem Converter[T]) Converter[[]T] {
	return sequence[T]{elem: elem}
}

func (c sequence[T]) Write(w *Writer, v []T) {
	w.WriteLen(len(v))
	for _, e := range v {
		c.elem.Write(w, e)
	}
}

func (c sequence[T]) Read(r *Reader) ([]T, error) {
	n, err := r.ReadLen(MaxListLength, 0)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, min(n, r.Remaining()))
	for i := 0; i < n; i++ {
		e, err := c.elem.Read(r)
		if err != nil {
			discard(out)
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

type mapping[K comparable, V any] struct {
	key   Converter[K]
	value Converter[V]
}

// Map encodes a map as a u32 entry count followed by key/value pairs.
func Map[K comparable, V any](key Converter[K], value Converter[V]) Converter[map[K]V] {
	return mapping[K, V]{key: key, value: value}
}

func (c mapping[K, V]) Write(w *Writer, m map[K]V) {
	w.WriteLen(len(m))
	for k, v := range m {
		c.key.Write(w, k)
		c.value.Write(w, v)
	}
}

func (c mapping[K, V]) Read(r *Reader) (map[K]V, error) {
	n, err := r.ReadLen(MaxListLength, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[K]V, min(n, r.Remaining()))
	for i := 0; i < n; i++ {
		k, err := c.key.Read(r)
		if err != nil {
			discard(out)
			return nil, err
		}
		v, err := c.value.Read(r)
		if err != nil {
			discard(k)
			discard(out)
			return nil, err
		}
		if _, dup := out[k]; dup {
			discard(k)
			discard(v)
			discard(out)
			return nil, errors.InvalidData(errors.PhaseLift, nil, fmt.Sprintf("duplicate map key %v", k))
		}
		out[k] = v
	}
	return out, nil
}

// releaser is a lifted value holding a reference, such as a handle.Arc.
type releaser interface {
	Release() bool
}

// discard releases the references held by a partially lifted value, so a
// failed lift leaves no object without an owner.
func discard(v any) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return
	}
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return
	}
	if r, ok := v.(releaser); ok {
		r.Release()
		return
	}
	switch rv.Kind() {
	case reflect.Slice:
		for i := range rv.Len() {
			discard(rv.Index(i).Interface())
		}
	case reflect.Map:
		for it := rv.MapRange(); it.Next(); {
			discard(it.Key().Interface())
			discard(it.Value().Interface())
		}
	case reflect.Pointer:
		discard(rv.Elem().Interface())
	}
}

// Funcs adapts a pair of functions into a Converter. Records and error enums
// are usually written this way, one field after another.
type Funcs[T any] struct {
	WriteFunc func(w *Writer, v T)
	ReadFunc  func(r *Reader) (T, error)
}

func (f Funcs[T]) Write(w *Writer, v T) { f.WriteFunc(w, v) }

func (f Funcs[T]) Read(r *Reader) (T, error) { return f.ReadFunc(r) }
