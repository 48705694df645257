package call

import (
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/codec"
)

// Code is the outcome of one boundary call. The values are part of the ABI
// and never change.
type Code uint8

const (
	CodeSuccess         Code = 0 // no payload
	CodeError           Code = 1 // ErrorBuf holds the serialized domain error
	CodeUnexpectedError Code = 2 // ErrorBuf holds a diagnostic string
	CodeCancelled       Code = 3 // async only, no payload
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeError:
		return "error"
	case CodeUnexpectedError:
		return "unexpected_error"
	case CodeCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Status is filled in by every boundary call. The caller takes ownership of
// ErrorBuf and frees it.
type Status struct {
	Code     Code
	ErrorBuf buffer.Buffer
}

// ErrorLowerer serializes errors that belong to a call's declared domain
// error type. It reports false for any other error.
type ErrorLowerer func(err error) (buffer.Buffer, bool)

// Domain returns an ErrorLowerer for domain error type E. Errors anywhere in
// the chain that match E are serialized with conv.
func Domain[E error](conv codec.Converter[E]) ErrorLowerer {
	return func(err error) (buffer.Buffer, bool) {
		var target E
		if !stderrors.As(err, &target) {
			return buffer.Buffer{}, false
		}
		return codec.Lower(conv, target), true
	}
}

// Do runs fn as a boundary call and records its outcome in status.
//
// Errors recognised by lowerErr are reported as CodeError with the
// serialized error. Any other error, including argument conversion and
// handle errors, is reported as CodeUnexpectedError with its message. A
// panic in fn is recovered and reported as CodeUnexpectedError carrying the
// panic message. The zero R is returned whenever the code is not success.
func Do[R any](status *Status, lowerErr ErrorLowerer, fn func() (R, error)) (ret R) {
	*status = Status{Code: CodeSuccess}
	defer func() {
		if p := recover(); p != nil {
			var zero R
			ret = zero
			msg := PanicMessage(p)
			Logger().Warn("contained panic at call boundary", zap.String("panic", msg))
			status.Code = CodeUnexpectedError
			status.ErrorBuf = lowerMessage(msg)
		}
	}()

	v, err := fn()
	if err != nil {
		Fail(status, lowerErr, err)
		var zero R
		return zero
	}
	return v
}

// Void is Do for calls without a return value.
func Void(status *Status, lowerErr ErrorLowerer, fn func() error) {
	Do(status, lowerErr, func() (struct{}, error) {
		return struct{}{}, fn()
	})
}

// Fail records err in status the same way Do does.
func Fail(status *Status, lowerErr ErrorLowerer, err error) {
	if lowerErr != nil {
		if buf, ok := lowerErr(err); ok {
			status.Code = CodeError
			status.ErrorBuf = buf
			return
		}
	}
	Logger().Debug("unexpected error at call boundary", zap.Error(err))
	status.Code = CodeUnexpectedError
	status.ErrorBuf = lowerMessage(err.Error())
}

// Cancelled records a cancellation in status.
func Cancelled(status *Status) {
	status.Code = CodeCancelled
	status.ErrorBuf = buffer.Buffer{}
}

// PanicMessage renders a recovered panic value as text.
func PanicMessage(p any) string {
	switch v := p.(type) {
	case string:
		return v
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(p)
}

// lowerMessage serializes a diagnostic string. If that fails as well the
// buffer stays empty, which the foreign side reads as a panic raised while
// handling a panic.
func lowerMessage(msg string) (buf buffer.Buffer) {
	defer func() {
		if recover() != nil {
			buf = buffer.Buffer{}
		}
	}()
	return codec.Lower(codec.String, msg)
}
