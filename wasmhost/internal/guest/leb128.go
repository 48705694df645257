package guest

import (
	"github.com/tetratelabs/wazero/api"
)

// encodeULEB128 encodes an unsigned value in LEB128 format.
func encodeULEB128(v uint32) []byte {
	var result []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		result = append(result, b)
		if v == 0 {
			break
		}
	}
	return result
}

func valType(t api.ValueType) byte {
	switch t {
	case api.ValueTypeI32:
		return 0x7f
	case api.ValueTypeI64:
		return 0x7e
	case api.ValueTypeF32:
		return 0x7d
	case api.ValueTypeF64:
		return 0x7c
	default:
		return 0x7f
	}
}

func appendName(dst []byte, name string) []byte {
	dst = append(dst, encodeULEB128(uint32(len(name)))...)
	return append(dst, name...)
}

func appendSection(dst []byte, id byte, body []byte) []byte {
	dst = append(dst, id)
	dst = append(dst, encodeULEB128(uint32(len(body)))...)
	return append(dst, body...)
}
