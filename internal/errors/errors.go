package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess  Code = 0
	CodeInternal Code = 1
	CodeUsage    Code = 2

	CodeInvalidAddress      Code = 10
	CodeTokenNotFound       Code = 11
	CodeNoLiquidity         Code = 12
	CodeAmountTooSmall      Code = 13
	CodeInsufficientBalance Code = 14
	CodeApprovalFailed      Code = 15
	CodeFeeTransferFailed   Code = 16
	CodeSwapReverted        Code = 17
	CodeUserRejected        Code = 18
	CodeUnsupportedChain    Code = 19
	CodeUnavailable         Code = 20
	CodeSigner              Code = 21
	CodePartialSwap         Code = 22
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, CodeSuccess for nil, and
// CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if cliErr, ok := As(err); ok {
		return cliErr.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	if cliErr, ok := As(err); ok {
		return cliErr.Code == code
	}
	return false
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}
