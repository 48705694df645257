package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in a boundary crossing the error occurred
type Phase string

const (
	PhaseLower  Phase = "lower"  // Go to boundary representation
	PhaseLift   Phase = "lift"   // boundary representation to Go
	PhaseHandle Phase = "handle" // handle table operations
	PhaseCall   Phase = "call"   // call status protocol
	PhaseTask   Phase = "task"   // async task bridge
	PhaseHost   Phase = "host"   // host module registration and guest calls
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch   Kind = "type_mismatch"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindInvalidData    Kind = "invalid_data"
	KindTrailingBytes  Kind = "trailing_bytes"
	KindUnsupported    Kind = "unsupported"
	KindInvalidUTF8    Kind = "invalid_utf8"
	KindOverflow       Kind = "overflow"
	KindInvalidEnum    Kind = "invalid_enum"
	KindInvalidVariant Kind = "invalid_variant"
	KindInvalidHandle  Kind = "invalid_handle"
	KindInvalidState   Kind = "invalid_state"
	KindInvalidInput   Kind = "invalid_input"
	KindNotFound       Kind = "not_found"
	KindClosed         Kind = "closed"
	KindPanic          Kind = "panic"
	KindRegistration   Kind = "registration"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	GoType   string
	WireType string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	typed := e.GoType != "" || e.WireType != ""
	if typed {
		b.WriteString(": ")
		switch {
		case e.GoType != "" && e.WireType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", wire type ")
			b.WriteString(e.WireType)
		case e.GoType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		default:
			b.WriteString("wire type ")
			b.WriteString(e.WireType)
		}
	}

	if e.Detail != "" {
		if typed {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// WireType sets the boundary type name
func (b *Builder) WireType(t string) *Builder {
	b.err.WireType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, wireType string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Path:     path,
		GoType:   goType,
		WireType: wireType,
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// OutOfBounds creates an error for a read past the end of the input
func OutOfBounds(phase Phase, path []string, need, remaining int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("need %d bytes, %d remaining", need, remaining),
		Value:  need,
	}
}

// TrailingBytes creates an error for input left over after a complete value
func TrailingBytes(phase Phase, remaining int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTrailingBytes,
		Detail: fmt.Sprintf("%d bytes remain after value", remaining),
		Value:  remaining,
	}
}

// InvalidDiscriminant creates an invalid discriminant error for variants/enums
func InvalidDiscriminant(phase Phase, path []string, disc int64, maxValid int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidVariant,
		Path:   path,
		Detail: fmt.Sprintf("discriminant %d out of range (max %d)", disc, maxValid),
		Value:  disc,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, target string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindOverflow,
		Path:     path,
		WireType: target,
		Detail:   fmt.Sprintf("value %v overflows %s", value, target),
		Value:    value,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// InvalidHandle creates an error for a handle that is not live in its table
func InvalidHandle(handle uint64, detail string) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindInvalidHandle,
		Detail: fmt.Sprintf("Invalid handle %#x: %s", handle, detail),
		Value:  handle,
	}
}

// InvalidState creates an error for an operation attempted in the wrong lifecycle state
func InvalidState(phase Phase, op, state string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: fmt.Sprintf("%s called in state %s", op, state),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Registration creates a registration error
func Registration(phase Phase, name string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s", name),
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ArgumentError reports that a call argument could not be lifted from its
// boundary representation. The argument name lets the foreign caller
// attribute the fault to a specific parameter.
type ArgumentError struct {
	Cause error
	Arg   string
}

// LiftArg creates an argument conversion error
func LiftArg(arg string, cause error) *ArgumentError {
	return &ArgumentError{Arg: arg, Cause: cause}
}

func (e *ArgumentError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("failed to convert arg '%s'", e.Arg)
	}
	return fmt.Sprintf("failed to convert arg '%s': %s", e.Arg, e.Cause.Error())
}

// Unwrap returns the underlying error
func (e *ArgumentError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ArgumentError for the same argument.
// An empty Arg in target matches any argument.
func (e *ArgumentError) Is(target error) bool {
	t, ok := target.(*ArgumentError)
	if !ok {
		return false
	}
	return t.Arg == "" || t.Arg == e.Arg
}
