// Package errors provides structured error types for the ffi-runtime library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: field path, Go/wire type names, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLift, errors.KindTypeMismatch).
//		Path("user", "age").
//		GoType("string").
//		WireType("u32").
//		Detail("cannot convert string to integer").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TrailingBytes(errors.PhaseLift, 3)
//	err := errors.InvalidHandle(h, "slot is empty")
//
// Conversion failures of a specific call argument are wrapped in an
// ArgumentError so the diagnostic names the argument:
//
//	errors.LiftArg("arg0", cause) // failed to convert arg 'arg0': <cause>
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
