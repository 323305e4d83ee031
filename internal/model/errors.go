package model

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures surfaced by the service.
type ErrorCode string

const (
	ErrValidation        ErrorCode = "VALIDATION_ERROR"
	ErrRateLimit         ErrorCode = "RATE_LIMIT"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
	ErrInvalidImage      ErrorCode = "INVALID_IMAGE"
	ErrVisionUnavailable ErrorCode = "VISION_UNAVAILABLE"
	ErrInternal          ErrorCode = "INTERNAL"
)

// ProviderSide reports whether the code describes an upstream provider failure.
func (c ErrorCode) ProviderSide() bool {
	return c == ErrTimeout || c == ErrQuotaExceeded || c == ErrVisionUnavailable
}

// Retryable reports whether a provider call failing with c may be retried.
func (c ErrorCode) Retryable() bool {
	return c == ErrTimeout || c == ErrVisionUnavailable
}

// Error is a classified service error.
type Error struct {
	Code       ErrorCode
	Message    string
	RetryAfter int // seconds, set for ErrRateLimit
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error.
func NewError(code ErrorCode, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of the first classified error in err's chain, or
// ErrInternal when none is found.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var coder interface{ ErrorCode() ErrorCode }
	if errors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return ErrInternal
}

// ErrorCode implements the coder interface used by CodeOf.
func (e *Error) ErrorCode() ErrorCode {
	return e.Code
}
