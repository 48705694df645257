package call

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
)

// arithmeticError is a domain error: a small enum with a message.
type arithmeticError struct {
	Reason string
	Kind   int32
}

func (e *arithmeticError) Error() string { return e.Reason }

var arithmeticErrorConv = codec.Funcs[*arithmeticError]{
	WriteFunc: func(w *codec.Writer, e *arithmeticError) {
		codec.Int32.Write(w, e.Kind)
		codec.String.Write(w, e.Reason)
	},
	ReadFunc: func(r *codec.Reader) (*arithmeticError, error) {
		kind, err := codec.Int32.Read(r)
		if err != nil {
			return nil, err
		}
		reason, err := codec.String.Read(r)
		if err != nil {
			return nil, err
		}
		return &arithmeticError{Kind: kind, Reason: reason}, nil
	},
}

var lowerArithmetic = Domain[*arithmeticError](arithmeticErrorConv)

func divide(a, b int32, status *Status) int32 {
	return Do(status, lowerArithmetic, func() (int32, error) {
		if b == 0 {
			return 0, &arithmeticError{Kind: 1, Reason: "division by zero"}
		}
		if b == -1 && a == -2147483648 {
			panic("integer overflow")
		}
		return a / b, nil
	})
}

func TestDoSuccess(t *testing.T) {
	var status Status
	if got := divide(9, 3, &status); got != 3 {
		t.Errorf("divide = %d, want 3", got)
	}
	if status.Code != CodeSuccess || !status.ErrorBuf.IsEmpty() {
		t.Errorf("status = %+v", status)
	}
	if err := Check(&status); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestDoDomainError(t *testing.T) {
	var status Status
	if got := divide(1, 0, &status); got != 0 {
		t.Errorf("divide = %d, want zero value", got)
	}
	if status.Code != CodeError {
		t.Fatalf("Code = %v, want %v", status.Code, CodeError)
	}

	err := CheckDomain[*arithmeticError](&status, arithmeticErrorConv)
	var domainErr *arithmeticError
	if !stderrors.As(err, &domainErr) {
		t.Fatalf("CheckDomain err = %v, want *arithmeticError", err)
	}
	if domainErr.Kind != 1 || domainErr.Reason != "division by zero" {
		t.Errorf("decoded %+v", domainErr)
	}
	if !status.ErrorBuf.IsEmpty() {
		t.Error("CheckDomain must take the error buffer")
	}
}

func TestDoWrappedDomainError(t *testing.T) {
	var status Status
	Void(&status, lowerArithmetic, func() error {
		return errors.Wrap(errors.PhaseCall, errors.KindInvalidData, &arithmeticError{Kind: 2, Reason: "wrapped"}, "ctx")
	})
	if status.Code != CodeError {
		t.Fatalf("Code = %v, want %v", status.Code, CodeError)
	}
	buffer.Free(status.ErrorBuf)
}

func TestDoPanic(t *testing.T) {
	var status Status
	got := divide(-2147483648, -1, &status)
	if got != 0 {
		t.Errorf("divide = %d, want zero value after panic", got)
	}
	if status.Code != CodeUnexpectedError {
		t.Fatalf("Code = %v, want %v", status.Code, CodeUnexpectedError)
	}

	err := Check(&status)
	var unexpected *UnexpectedError
	if !stderrors.As(err, &unexpected) || unexpected.Message != "integer overflow" {
		t.Errorf("Check err = %v, want panic message", err)
	}
}

func TestDoPanicValues(t *testing.T) {
	tests := []struct {
		value any
		name  string
		want  string
	}{
		{name: "string", value: "boom", want: "boom"},
		{name: "error", value: stderrors.New("bad state"), want: "bad state"},
		{name: "int", value: 42, want: "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var status Status
			Void(&status, nil, func() error { panic(tt.value) })
			err := Check(&status)
			if err == nil || err.Error() != tt.want {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestDoUnexpectedError(t *testing.T) {
	var status Status
	Void(&status, lowerArithmetic, func() error {
		return errors.LiftArg("arg0", stderrors.New("Invalid handle"))
	})
	if status.Code != CodeUnexpectedError {
		t.Fatalf("Code = %v, want %v", status.Code, CodeUnexpectedError)
	}
	err := Check(&status)
	if err == nil || !strings.Contains(err.Error(), "arg0") || !strings.Contains(err.Error(), "Invalid handle") {
		t.Errorf("err = %v, want diagnostic naming arg0 and Invalid handle", err)
	}
}

func TestPanicInErrorLowerer(t *testing.T) {
	var status Status
	Void(&status, func(error) (buffer.Buffer, bool) { panic("lowerer exploded") }, func() error {
		return stderrors.New("any")
	})
	if status.Code != CodeUnexpectedError {
		t.Fatalf("Code = %v, want %v", status.Code, CodeUnexpectedError)
	}
	if err := Check(&status); err == nil || err.Error() != "lowerer exploded" {
		t.Errorf("err = %v", err)
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		status Status
		check  func(error) bool
		name   string
	}{
		{
			name:   "cancelled",
			status: Status{Code: CodeCancelled},
			check:  func(err error) bool { return stderrors.Is(err, ErrCancelled) },
		},
		{
			name:   "empty diagnostic",
			status: Status{Code: CodeUnexpectedError},
			check:  func(err error) bool { return err != nil && err.Error() == "panicked while handling panic" },
		},
		{
			name:   "domain error without type",
			status: Status{Code: CodeError, ErrorBuf: codec.Lower(codec.String, "x")},
			check:  func(err error) bool { return err != nil },
		},
		{
			name:   "unknown code",
			status: Status{Code: 9},
			check:  func(err error) bool { return err != nil && strings.Contains(err.Error(), "9") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := buffer.Live()
			status := tt.status
			err := Check(&status)
			if !tt.check(err) {
				t.Errorf("Check = %v", err)
			}
			if buffer.Live() > before {
				t.Error("Check leaked the error buffer")
			}
		})
	}
}
