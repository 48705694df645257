package call

import (
	stderrors "errors"
	"fmt"

	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/codec"
)

// ErrCancelled is returned by Check for CodeCancelled.
var ErrCancelled = stderrors.New("call cancelled")

// UnexpectedError carries the diagnostic of a CodeUnexpectedError status.
type UnexpectedError struct {
	Message string
}

func (e *UnexpectedError) Error() string {
	return e.Message
}

// Check interprets status on the calling side of the boundary for calls
// without a domain error type. It consumes status.ErrorBuf.
func Check(status *Status) error {
	return check(status, nil)
}

// CheckDomain interprets status for calls whose domain error type is E. A
// CodeError status is decoded with conv and returned as the E value.
func CheckDomain[E error](status *Status, conv codec.Converter[E]) error {
	return check(status, func(buf buffer.Buffer) error {
		e, err := codec.Lift(conv, buf)
		if err != nil {
			return &UnexpectedError{Message: "failed to lift domain error: " + err.Error()}
		}
		return e
	})
}

func check(status *Status, liftErr func(buffer.Buffer) error) error {
	buf := status.ErrorBuf
	status.ErrorBuf = buffer.Buffer{}

	switch status.Code {
	case CodeSuccess:
		buffer.Free(buf)
		return nil
	case CodeError:
		if liftErr == nil {
			buffer.Free(buf)
			return &UnexpectedError{Message: "domain error returned by a call without an error type"}
		}
		return liftErr(buf)
	case CodeUnexpectedError:
		if buf.Len == 0 {
			buffer.Free(buf)
			return &UnexpectedError{Message: "panicked while handling panic"}
		}
		msg, err := codec.Lift(codec.String, buf)
		if err != nil {
			return &UnexpectedError{Message: "unreadable diagnostic: " + err.Error()}
		}
		return &UnexpectedError{Message: msg}
	case CodeCancelled:
		buffer.Free(buf)
		return ErrCancelled
	}
	buffer.Free(buf)
	return &UnexpectedError{Message: fmt.Sprintf("unknown call status code %d", uint8(status.Code))}
}
