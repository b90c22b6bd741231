package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nestfest/vote-service/internal/domain"
)

type envelope struct {
	Data  any      `json:"data,omitempty"`
	Error *errBody `json:"error,omitempty"`
}

type errBody struct {
	Code      domain.ErrCode    `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// JSON writes a success envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

// Err maps a domain error to its HTTP status and writes the error
// envelope. Unknown errors become opaque 500s.
func Err(w http.ResponseWriter, err error) {
	var appErr *domain.AppError
	if !errors.As(err, &appErr) {
		fail(w, http.StatusInternalServerError, &domain.AppError{
			Code:    domain.CodeStorageFailure,
			Message: "internal error",
		})
		return
	}
	fail(w, statusFor(appErr.Code), appErr)
}

func fail(w http.ResponseWriter, status int, appErr *domain.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: &errBody{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Retryable: appErr.Retryable(),
		Meta:      appErr.Meta,
	}})
}

func statusFor(code domain.ErrCode) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeFraudDetected, domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeBudgetExceeded:
		return http.StatusConflict
	case domain.CodeStorageFailure, domain.CodeDownstreamDegraded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
