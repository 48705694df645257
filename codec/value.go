package codec

import (
	"math"
	"reflect"
	"strconv"
	"unicode/utf8"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/codec/internal/coerce"
	"github.com/wippyai/ffi-runtime/errors"
)

// LowerValue encodes a dynamically typed value described by a WIT type into
// a new buffer.
//
// Accepted Go values:
//   - bool, any Go number for integers and floats (range checked)
//   - rune or integer for char, string for string
//   - []any (or any slice) for list and tuple, []byte for list<u8>
//   - nil or the value for option
//   - map[string]any for record, variant and result ("ok" / "err" keys)
//   - case index or case name for enum
//   - bitmask integer or map[string]bool for flags
//   - uint64 handle for own and borrow
func LowerValue(t wit.Type, v any) (buffer.Buffer, error) {
	w := getWriter()
	defer putWriter(w)
	if err := WriteValue(w, t, v); err != nil {
		return buffer.Buffer{}, err
	}
	return buffer.FromBytes(w.Bytes()), nil
}

// LiftValue decodes one value of WIT type t from buf and frees buf.
func LiftValue(t wit.Type, buf buffer.Buffer) (any, error) {
	defer buffer.Free(buf)
	r := NewReader(buf.Bytes())
	v, err := ReadValue(r, t)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, errors.TrailingBytes(errors.PhaseLift, r.Remaining())
	}
	return v, nil
}

// WriteValue encodes v as WIT type t.
func WriteValue(w *Writer, t wit.Type, v any) error {
	return writeValue(w, t, v, nil)
}

// ReadValue decodes one value of WIT type t.
func ReadValue(r *Reader, t wit.Type) (any, error) {
	return readValue(r, t, nil)
}

func typeName(value any) string {
	if value == nil {
		return "nil"
	}
	return reflect.TypeOf(value).String()
}

func subPath(path []string, elem string) []string {
	return append(append([]string{}, path...), elem)
}

func writeValue(w *Writer, t wit.Type, v any, path []string) error {
	switch t := t.(type) {
	case wit.Bool:
		b, ok := v.(bool)
		if !ok {
			return errors.TypeMismatch(errors.PhaseLower, path, typeName(v), "bool")
		}
		Bool.Write(w, b)
	case wit.U8:
		return writeUnsigned(w, v, math.MaxUint8, 1, "u8", path)
	case wit.U16:
		return writeUnsigned(w, v, math.MaxUint16, 2, "u16", path)
	case wit.U32:
		return writeUnsigned(w, v, math.MaxUint32, 4, "u32", path)
	case wit.U64:
		return writeUnsigned(w, v, math.MaxUint64, 8, "u64", path)
	case wit.S8:
		return writeSigned(w, v, math.MinInt8, math.MaxInt8, 1, "s8", path)
	case wit.S16:
		return writeSigned(w, v, math.MinInt16, math.MaxInt16, 2, "s16", path)
	case wit.S32:
		return writeSigned(w, v, math.MinInt32, math.MaxInt32, 4, "s32", path)
	case wit.S64:
		return writeSigned(w, v, math.MinInt64, math.MaxInt64, 8, "s64", path)
	case wit.F32:
		f, ok := coerce.Float(v)
		if !ok {
			return errors.TypeMismatch(errors.PhaseLower, path, typeName(v), "f32")
		}
		Float32.Write(w, float32(f))
	case wit.F64:
		f, ok := coerce.Float(v)
		if !ok {
			return errors.TypeMismatch(errors.PhaseLower, path, typeName(v), "f64")
		}
		Float64.Write(w, f)
	case wit.Char:
		c, ok := coerce.Signed(v, 0, utf8.MaxRune)
		if !ok || !utf8.ValidRune(rune(c)) {
			return errors.New(errors.PhaseLower, errors.KindInvalidData).
				Path(path...).
				GoType(typeName(v)).
				WireType("char").
				Detail("not a Unicode scalar value").
				Build()
		}
		w.WriteU32(uint32(c))
	case wit.String:
		s, ok := v.(string)
		if !ok {
			return errors.TypeMismatch(errors.PhaseLower, path, typeName(v), "string")
		}
		String.Write(w, s)
	case *wit.TypeDef:
		return writeTypeDef(w, t, v, path)
	default:
		return errors.Unsupported(errors.PhaseLower, "WIT type "+typeName(t))
	}
	return nil
}

func writeUnsigned(w *Writer, v any, limit uint64, size int, wire string, path []string) error {
	u, ok := coerce.Unsigned(v, limit)
	if !ok {
		return errors.Overflow(errors.PhaseLower, path, v, wire)
	}
	fixed[uint64]{size: size}.Write(w, u)
	return nil
}

func writeSigned(w *Writer, v any, lo, hi int64, size int, wire string, path []string) error {
	s, ok := coerce.Signed(v, lo, hi)
	if !ok {
		return errors.Overflow(errors.PhaseLower, path, v, wire)
	}
	fixed[int64]{size: size}.Write(w, s)
	return nil
}

func writeTypeDef(w *Writer, t *wit.TypeDef, v any, path []string) error {
	switch kind := t.Kind.(type) {
	case *wit.Record:
		m, ok := v.(map[string]any)
		if !ok {
			return errors.TypeMismatch(errors.PhaseLower, path, typeName(v), "map[string]any")
		}
		for _, f := range kind.Fields {
			fv, found := m[f.Name]
			if !found {
				return errors.New(errors.PhaseLower, errors.KindInvalidData).
					Path(subPath(path, f.Name)...).
					Detail("missing record field").
					Build()
			}
			if err := writeValue(w, f.Type, fv, subPath(path, f.Name)); err != nil {
				return err
			}
		}
	case *wit.List:
		return writeList(w, kind.Type, v, path)
	case *wit.Option:
		if v == nil {
			w.WriteU8(0)
			return nil
		}
		w.WriteU8(1)
		return writeValue(w, kind.Type, v, path)
	case *wit.Tuple:
		items, ok := v.([]any)
		if !ok || len(items) != len(kind.Types) {
			return errors.TypeMismatch(errors.PhaseLower, path, typeName(v), "tuple of "+strconv.Itoa(len(kind.Types)))
		}
		for i, et := range kind.Types {
			if err := writeValue(w, et, items[i], subPath(path, strconv.Itoa(i))); err != nil {
				return err
			}
		}
	case *wit.Enum:
		idx, err := enumIndex(kind, v, path)
		if err != nil {
			return err
		}
		w.WriteU32(uint32(idx + 1))
	case *wit.Flags:
		return writeFlags(w, kind, v, path)
	case *wit.Result:
		m, ok := v.(map[string]any)
		if !ok {
			return errors.TypeMismatch(errors.PhaseLower, path, typeName(v), "map[string]any")
		}
		if okVal, found := m["ok"]; found {
			w.WriteU32(1)
			return writeOptionalPayload(w, kind.OK, okVal, subPath(path, "ok"))
		}
		if errVal, found := m["err"]; found {
			w.WriteU32(2)
			return writeOptionalPayload(w, kind.Err, errVal, subPath(path, "err"))
		}
		return errors.New(errors.PhaseLower, errors.KindInvalidData).
			Path(path...).
			Detail("result must have either 'ok' or 'err' key").
			Build()
	case *wit.Variant:
		m, ok := v.(map[string]any)
		if !ok || len(m) != 1 {
			return errors.TypeMismatch(errors.PhaseLower, path, typeName(v), "map[string]any with one case")
		}
		for i, c := range kind.Cases {
			payload, found := m[c.Name]
			if !found {
				continue
			}
			w.WriteU32(uint32(i + 1))
			return writeOptionalPayload(w, c.Type, payload, subPath(path, c.Name))
		}
		return errors.New(errors.PhaseLower, errors.KindInvalidVariant).
			Path(path...).
			Detail("variant value must contain one of the case names").
			Build()
	case *wit.Own, *wit.Borrow:
		h, ok := coerce.Unsigned(v, math.MaxUint64)
		if !ok || h == 0 {
			return errors.TypeMismatch(errors.PhaseLower, path, typeName(v), "handle")
		}
		w.WriteU64(h)
	case wit.Type:
		return writeValue(w, kind, v, path)
	default:
		return errors.Unsupported(errors.PhaseLower, "type definition kind "+typeName(kind))
	}
	return nil
}

func writeOptionalPayload(w *Writer, t wit.Type, v any, path []string) error {
	if t == nil {
		return nil
	}
	return writeValue(w, t, v, path)
}

func writeList(w *Writer, elem wit.Type, v any, path []string) error {
	if b, ok := v.([]byte); ok {
		if _, isU8 := elem.(wit.U8); isU8 {
			Bytes.Write(w, b)
			return nil
		}
	}
	if items, ok := v.([]any); ok {
		w.WriteLen(len(items))
		for i, item := range items {
			if err := writeValue(w, elem, item, subPath(path, "["+strconv.Itoa(i)+"]")); err != nil {
				return err
			}
		}
		return nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return errors.TypeMismatch(errors.PhaseLower, path, typeName(v), "list")
	}
	w.WriteLen(rv.Len())
	for i := 0; i < rv.Len(); i++ {
		if err := writeValue(w, elem, rv.Index(i).Interface(), subPath(path, "["+strconv.Itoa(i)+"]")); err != nil {
			return err
		}
	}
	return nil
}

func enumIndex(e *wit.Enum, v any, path []string) (int, error) {
	if name, ok := v.(string); ok {
		for i, c := range e.Cases {
			if c.Name == name {
				return i, nil
			}
		}
		return 0, errors.New(errors.PhaseLower, errors.KindInvalidEnum).
			Path(path...).
			Detail("enum case '%s' not found", name).
			Build()
	}
	idx, ok := coerce.Unsigned(v, uint64(len(e.Cases)))
	if !ok || idx >= uint64(len(e.Cases)) {
		return 0, errors.New(errors.PhaseLower, errors.KindInvalidEnum).
			Path(path...).
			GoType(typeName(v)).
			Detail("not a case of an enum with %d cases", len(e.Cases)).
			Build()
	}
	return int(idx), nil
}

func writeFlags(w *Writer, f *wit.Flags, v any, path []string) error {
	if len(f.Flags) > 64 {
		return errors.Unsupported(errors.PhaseLower, "flags with more than 64 members")
	}
	var bits uint64
	switch val := v.(type) {
	case map[string]bool:
		for i, flag := range f.Flags {
			if val[flag.Name] {
				bits |= 1 << uint(i)
			}
		}
	default:
		u, ok := coerce.Unsigned(v, math.MaxUint64)
		if !ok {
			return errors.TypeMismatch(errors.PhaseLower, path, typeName(v), "flags")
		}
		if len(f.Flags) < 64 && u>>uint(len(f.Flags)) != 0 {
			return errors.Overflow(errors.PhaseLower, path, u, strconv.Itoa(len(f.Flags))+" flags")
		}
		bits = u
	}
	if len(f.Flags) <= 32 {
		w.WriteU32(uint32(bits))
	} else {
		w.WriteU64(bits)
	}
	return nil
}

func readValue(r *Reader, t wit.Type, path []string) (any, error) {
	switch t := t.(type) {
	case wit.Bool:
		return Bool.Read(r)
	case wit.U8:
		return Uint8.Read(r)
	case wit.U16:
		return Uint16.Read(r)
	case wit.U32:
		return Uint32.Read(r)
	case wit.U64:
		return Uint64.Read(r)
	case wit.S8:
		return Int8.Read(r)
	case wit.S16:
		return Int16.Read(r)
	case wit.S32:
		return Int32.Read(r)
	case wit.S64:
		return Int64.Read(r)
	case wit.F32:
		return Float32.Read(r)
	case wit.F64:
		return Float64.Read(r)
	case wit.Char:
		c, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if c > utf8.MaxRune || !utf8.ValidRune(rune(c)) {
			return nil, errors.New(errors.PhaseLift, errors.KindInvalidData).
				Path(path...).
				Detail("invalid Unicode scalar value: 0x%X", c).
				Build()
		}
		return rune(c), nil
	case wit.String:
		s, err := String.Read(r)
		if err != nil {
			return nil, withPath(err, path)
		}
		return s, nil
	case *wit.TypeDef:
		return readTypeDef(r, t, path)
	default:
		return nil, errors.Unsupported(errors.PhaseLift, "WIT type "+typeName(t))
	}
}

// withPath attaches a field path to codec errors raised without one.
func withPath(err error, path []string) error {
	if e, ok := err.(*errors.Error); ok && e.Path == nil && path != nil {
		e.Path = path
	}
	return err
}

func readDiscriminant(r *Reader, cases int, path []string) (int, error) {
	d, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if d < 1 || uint64(d) > uint64(cases) {
		return 0, errors.InvalidDiscriminant(errors.PhaseLift, path, int64(int32(d)), cases)
	}
	return int(d - 1), nil
}

func readTypeDef(r *Reader, t *wit.TypeDef, path []string) (any, error) {
	switch kind := t.Kind.(type) {
	case *wit.Record:
		out := make(map[string]any, len(kind.Fields))
		for _, f := range kind.Fields {
			v, err := readValue(r, f.Type, subPath(path, f.Name))
			if err != nil {
				return nil, err
			}
			out[f.Name] = v
		}
		return out, nil
	case *wit.List:
		if _, isU8 := kind.Type.(wit.U8); isU8 {
			b, err := Bytes.Read(r)
			if err != nil {
				return nil, withPath(err, path)
			}
			return b, nil
		}
		n, err := r.ReadLen(MaxListLength, 0)
		if err != nil {
			return nil, withPath(err, path)
		}
		out := make([]any, 0, min(n, r.Remaining()))
		for i := 0; i < n; i++ {
			v, err := readValue(r, kind.Type, subPath(path, "["+strconv.Itoa(i)+"]"))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *wit.Option:
		flag, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		switch flag {
		case 0:
			return nil, nil
		case 1:
			return readValue(r, kind.Type, path)
		}
		return nil, errors.InvalidData(errors.PhaseLift, path, "unexpected optional flag")
	case *wit.Tuple:
		out := make([]any, len(kind.Types))
		for i, et := range kind.Types {
			v, err := readValue(r, et, subPath(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *wit.Enum:
		idx, err := readDiscriminant(r, len(kind.Cases), path)
		if err != nil {
			return nil, err
		}
		return uint32(idx), nil
	case *wit.Flags:
		if len(kind.Flags) > 64 {
			return nil, errors.Unsupported(errors.PhaseLift, "flags with more than 64 members")
		}
		if len(kind.Flags) <= 32 {
			bits, err := r.ReadU32()
			return uint64(bits), err
		}
		return r.ReadU64()
	case *wit.Result:
		idx, err := readDiscriminant(r, 2, path)
		if err != nil {
			return nil, err
		}
		key, payload := "ok", kind.OK
		if idx == 1 {
			key, payload = "err", kind.Err
		}
		v, err := readOptionalPayload(r, payload, subPath(path, key))
		if err != nil {
			return nil, err
		}
		return map[string]any{key: v}, nil
	case *wit.Variant:
		idx, err := readDiscriminant(r, len(kind.Cases), path)
		if err != nil {
			return nil, err
		}
		c := kind.Cases[idx]
		v, err := readOptionalPayload(r, c.Type, subPath(path, c.Name))
		if err != nil {
			return nil, err
		}
		return map[string]any{c.Name: v}, nil
	case *wit.Own, *wit.Borrow:
		h, err := r.ReadU64()
		if err != nil {
			return nil, err
		}
		if h == 0 {
			return nil, errors.InvalidHandle(0, "null handle")
		}
		return h, nil
	case wit.Type:
		return readValue(r, kind, path)
	default:
		return nil, errors.Unsupported(errors.PhaseLift, "type definition kind "+typeName(kind))
	}
}

func readOptionalPayload(r *Reader, t wit.Type, path []string) (any, error) {
	if t == nil {
		return nil, nil
	}
	return readValue(r, t, path)
}
