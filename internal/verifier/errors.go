package verifier

import (
	"errors"
	"fmt"
)

// ErrorCode classifies verification failures.
type ErrorCode string

const (
	ErrCodeMalformed           ErrorCode = "malformed"
	ErrCodeKeyResolutionFailed ErrorCode = "key_resolution_failed"
	ErrCodeBadSignature        ErrorCode = "bad_signature"
	ErrCodeExpired             ErrorCode = "expired"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeMalformed:           "Malformed token",
	ErrCodeKeyResolutionFailed: "Key resolution failed",
	ErrCodeBadSignature:        "Bad signature",
	ErrCodeExpired:             "Token expired",
}

// Error wraps verification errors with a stable code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, err error) error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
