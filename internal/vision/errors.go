package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sells-group/vision-cli/internal/model"
)

// ExtractionError is the error type returned by extractors and providers for
// every failure except caller cancellation, which is returned as is. Code is
// one of TIMEOUT, QUOTA_EXCEEDED, INVALID_IMAGE or VISION_UNAVAILABLE.
type ExtractionError struct {
	Code     model.ErrorCode
	Provider string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vision: %s %s: %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("vision: %s %s", e.Provider, e.Code)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// ErrorCode implements the coder interface used by model.CodeOf.
func (e *ExtractionError) ErrorCode() model.ErrorCode {
	return e.Code
}

func newExtractionError(provider string, code model.ErrorCode, err error) *ExtractionError {
	return &ExtractionError{Code: code, Provider: provider, Err: err}
}

// classifyStatus maps an HTTP status from a provider API to an error code.
func classifyStatus(status int) model.ErrorCode {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return model.ErrInvalidImage
	case http.StatusTooManyRequests:
		return model.ErrQuotaExceeded
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return model.ErrTimeout
	default:
		return model.ErrVisionUnavailable
	}
}

// asExtractionError classifies err. Already-classified errors and caller
// cancellation pass through; deadlines become TIMEOUT; everything else
// becomes VISION_UNAVAILABLE.
func asExtractionError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newExtractionError(provider, model.ErrTimeout, err)
	}
	return newExtractionError(provider, model.ErrVisionUnavailable, err)
}

// canceled reports whether the call ended because the caller gave up rather
// than because the provider failed.
func canceled(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled)
}
