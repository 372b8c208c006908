package keys

import (
	"errors"
	"fmt"
)

// ErrorCode classifies key resolution failures.
type ErrorCode string

const (
	ErrCodeKeyNotFound ErrorCode = "key_not_found"
	ErrCodeFetchFailed ErrorCode = "fetch_failed"
	ErrCodeUnusableKey ErrorCode = "unusable_key"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeKeyNotFound: "key not found in key set",
	ErrCodeFetchFailed: "failed to fetch key set",
	ErrCodeUnusableKey: "key record has no usable public key",
}

// Error is returned by every failing Resolver call.
type Error struct {
	Code  ErrorCode
	KeyID string
	Err   error
}

func (e *Error) Error() string {
	msg := errorMessages[e.Code]
	if msg == "" {
		msg = string(e.Code)
	}
	if e.KeyID != "" {
		msg = fmt.Sprintf("%s (kid '%s')", msg, e.KeyID)
	}
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, kid string, err error) error {
	return &Error{Code: code, KeyID: kid, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
