package domain

import "fmt"

type ErrCode string

const (
	CodeValidation         ErrCode = "validation_error"
	CodeRateLimited        ErrCode = "rate_limited"
	CodeFraudDetected      ErrCode = "fraud_detected"
	CodeBudgetExceeded     ErrCode = "vote_budget_exceeded"
	CodeStorageFailure     ErrCode = "storage_failure"
	CodeDownstreamDegraded ErrCode = "downstream_unavailable"
	CodeForbidden          ErrCode = "forbidden"
)

type AppError struct {
	Code    ErrCode
	Message string
	Meta    map[string]string
}

func (e *AppError) Error() string {
	if len(e.Meta) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Meta)
}

// Retryable reports whether the caller may resubmit the same request
// unchanged. Fraud blocks require operator review to clear; rate limits
// recover by waiting, storage failures by retrying.
func (e *AppError) Retryable() bool {
	switch e.Code {
	case CodeRateLimited, CodeStorageFailure, CodeDownstreamDegraded:
		return true
	default:
		return false
	}
}

func ErrValidation(msg string) error { return &AppError{Code: CodeValidation, Message: msg} }
func ErrRateLimited(msg string) error {
	return &AppError{Code: CodeRateLimited, Message: msg}
}
func ErrFraudDetected(msg string, meta map[string]string) error {
	return &AppError{Code: CodeFraudDetected, Message: msg, Meta: meta}
}
func ErrBudgetExceeded(msg string) error {
	return &AppError{Code: CodeBudgetExceeded, Message: msg}
}
func ErrStorageFailure(msg string) error {
	return &AppError{Code: CodeStorageFailure, Message: msg}
}
func ErrForbidden(msg string) error { return &AppError{Code: CodeForbidden, Message: msg} }
