package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorNotInitialized  ErrorCode = "NOT_INITIALIZED"
	ErrorTransport       ErrorCode = "TRANSPORT_ERROR"
	ErrorInvalidResponse ErrorCode = "INVALID_RESPONSE"
	ErrorInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

// ErrTurnIncomplete is returned by the poller when it is cancelled before the
// bot signals the end of its turn.
var ErrTurnIncomplete = errors.New("usecase: turn did not complete")

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrorInternal when there is none.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) && ue != nil {
		return ue.Code
	}
	return ErrorInternal
}
