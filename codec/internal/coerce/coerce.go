// Package coerce converts loosely typed Go numbers into the fixed-width
// integers the dynamic codec writes. Values decoded from JSON arrive as
// float64 and callers routinely pass int where the wire wants u32, so the
// dynamic codec accepts any Go number that fits the target range exactly.
package coerce

import "math"

// Unsigned returns value as a uint64 if it is a non-negative integral number
// no greater than limit.
func Unsigned(value any, limit uint64) (uint64, bool) {
	var u uint64
	switch v := value.(type) {
	case uint8:
		u = uint64(v)
	case uint16:
		u = uint64(v)
	case uint32:
		u = uint64(v)
	case uint64:
		u = v
	case uint:
		u = uint64(v)
	case int8, int16, int32, int64, int:
		s, _ := Signed(v, math.MinInt64, math.MaxInt64)
		if s < 0 {
			return 0, false
		}
		u = uint64(s)
	case float32:
		return Unsigned(float64(v), limit)
	case float64:
		// 2^64 is the first float64 outside the uint64 range
		if v < 0 || v >= 1<<64 || v != math.Trunc(v) {
			return 0, false
		}
		u = uint64(v)
	default:
		return 0, false
	}
	if u > limit {
		return 0, false
	}
	return u, true
}

// Signed returns value as an int64 if it is an integral number in [lo, hi].
func Signed(value any, lo, hi int64) (int64, bool) {
	var s int64
	switch v := value.(type) {
	case int8:
		s = int64(v)
	case int16:
		s = int64(v)
	case int32:
		s = int64(v)
	case int64:
		s = v
	case int:
		s = int64(v)
	case uint8, uint16, uint32, uint64, uint:
		u, _ := Unsigned(v, math.MaxUint64)
		if u > math.MaxInt64 {
			return 0, false
		}
		s = int64(u)
	case float32:
		return Signed(float64(v), lo, hi)
	case float64:
		if v < math.MinInt64 || v >= math.MaxInt64 || v != math.Trunc(v) {
			return 0, false
		}
		s = int64(v)
	default:
		return 0, false
	}
	if s < lo || s > hi {
		return 0, false
	}
	return s, true
}

// Float returns value as a float64 for any Go number.
func Float(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	if s, ok := Signed(value, math.MinInt64, math.MaxInt64); ok {
		return float64(s), true
	}
	if u, ok := Unsigned(value, math.MaxUint64); ok {
		return float64(u), true
	}
	return 0, false
}
