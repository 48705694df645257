// Package codec serializes values into the flat byte buffers exchanged
// across the boundary.
//
// # Wire format
//
// All fixed-width scalars are big-endian. Composite values nest without
// padding:
//
//	bool        1 byte, 0 or 1
//	integers    1/2/4/8 bytes, two's complement for signed types
//	floats      IEEE 754 bits as u32 / u64
//	string      u32 byte length + UTF-8 bytes
//	bytes       u32 byte length + raw bytes
//	optional    u8 presence flag (0 absent, 1 present) + payload when present
//	sequence    u32 element count + elements
//	map         u32 entry count + key, value pairs
//	duration    u64 seconds + u32 nanoseconds
//	timestamp   i64 seconds since the Unix epoch (floor) + u32 nanoseconds
//	enum        i32 case number, starting at 1
//	variant     i32 case number, starting at 1 + case payload
//	result      i32 1 (ok) or 2 (err) + payload
//	flags       u32 bitmask (u64 above 32 members)
//	handle      u64
//
// # Typed converters
//
// Converter values handle one Go type each and compose:
//
//	c := codec.Sequence(codec.Optional(codec.String))
//	buf := codec.Lower(c, values)
//	back, err := codec.Lift(c, buf) // frees buf
//
// Lift fails when bytes remain after the value or when a declared length is
// larger than the remaining input. Decoding never panics on malformed input.
//
// # Dynamic values
//
// LowerValue and LiftValue encode values described by WIT type descriptors
// from go.bytecodealliance.org/wit. Records and variants are map[string]any,
// lists and tuples are []any, absent options are nil, enums decode to their
// uint32 case index and flags to a uint64 bitmask.
package codec
