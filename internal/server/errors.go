package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/vision-cli/internal/model"
)

// statusError pins the HTTP status for a classified error.
type statusError struct {
	status int
	err    *model.Error
}

func (e *statusError) Error() string { return e.err.Error() }

func (e *statusError) Unwrap() error { return e.err }

func withStatus(status int, code model.ErrorCode, msg string, err error) *statusError {
	return &statusError{status: status, err: model.NewError(code, msg, err)}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code          model.ErrorCode `json:"code"`
	Message       string          `json:"message"`
	RetryAfter    int             `json:"retry_after,omitempty"`
	CorrelationID string          `json:"correlation_id"`
}

func statusFor(code model.ErrorCode) int {
	switch code {
	case model.ErrValidation, model.ErrInvalidImage:
		return http.StatusBadRequest
	case model.ErrRateLimit:
		return http.StatusTooManyRequests
	case model.ErrTimeout, model.ErrQuotaExceeded, model.ErrVisionUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a JSON error body. Unclassified errors become a
// generic internal error; their detail is logged, never returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	corr := correlationIDFrom(r.Context())
	code := model.CodeOf(err)
	status := statusFor(code)
	var se *statusError
	if errors.As(err, &se) {
		status = se.status
	}

	detail := errorDetail{Code: code, CorrelationID: corr}
	var me *model.Error
	switch {
	case code == model.ErrInternal || !errors.As(err, &me):
		detail.Code = model.ErrInternal
		detail.Message = "internal error"
		status = http.StatusInternalServerError
		s.log.Error("request failed",
			zap.String("correlation_id", corr),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	default:
		detail.Message = me.Message
		detail.RetryAfter = me.RetryAfter
	}

	if code == model.ErrRateLimit {
		w.Header().Set("Retry-After", retryAfterHeader(detail.RetryAfter))
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: encode response", zap.Error(err))
	}
}
