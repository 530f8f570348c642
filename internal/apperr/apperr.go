// Package apperr defines the error taxonomy surfaced to API callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ValidationError reports malformed caller input.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func Validation(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// AuthReason says why an API key was refused.
type AuthReason string

const (
	ReasonMissing       AuthReason = "missing"
	ReasonInvalidFormat AuthReason = "invalid format"
	ReasonInvalid       AuthReason = "invalid"
	ReasonExpired       AuthReason = "expired"
)

type AuthenticationError struct {
	Reason     AuthReason
	StatusCode int
}

func (e *AuthenticationError) Error() string {
	switch e.Reason {
	case ReasonMissing:
		return "API key is required"
	case ReasonInvalidFormat:
		return "Invalid API key format"
	case ReasonExpired:
		return "API key has expired"
	default:
		return "Invalid or inactive API key"
	}
}

// Code is the stable machine-readable code for the reason.
func (e *AuthenticationError) Code() string {
	switch e.Reason {
	case ReasonMissing:
		return "MISSING_API_KEY"
	case ReasonExpired:
		return "EXPIRED_API_KEY"
	default:
		return "INVALID_API_KEY"
	}
}

func Authentication(reason AuthReason) *AuthenticationError {
	return &AuthenticationError{Reason: reason, StatusCode: http.StatusUnauthorized}
}

// VerificationError means the tag did not verify or the backend was unreachable.
type VerificationError struct {
	Message     string
	Unavailable bool
	Err         error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *VerificationError) Unwrap() error { return e.Err }

func VerificationFailed(message string, err error) *VerificationError {
	return &VerificationError{Message: message, Err: err}
}

func ServiceUnavailable(err error) *VerificationError {
	return &VerificationError{Message: "Verification service is unavailable", Unavailable: true, Err: err}
}

type NotFoundError struct {
	Code    string
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func NotFound(code, message string) *NotFoundError {
	return &NotFoundError{Code: code, Message: message}
}

type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return "Too many requests, please try again later" }

// Classification is the HTTP projection of an error.
type Classification struct {
	Status  int
	Code    string
	Message string
	// Internal is set for errors outside the taxonomy.
	Internal bool
}

// Classify maps any error onto the taxonomy. Unknown errors become SERVER_ERROR.
func Classify(err error) Classification {
	var (
		ve  *ValidationError
		ae  *AuthenticationError
		vfe *VerificationError
		nfe *NotFoundError
		rle *RateLimitError
	)
	switch {
	case errors.As(err, &ve):
		return Classification{Status: http.StatusBadRequest, Code: ve.Code, Message: ve.Message}
	case errors.As(err, &ae):
		status := ae.StatusCode
		if status == 0 {
			status = http.StatusUnauthorized
		}
		return Classification{Status: status, Code: ae.Code(), Message: ae.Error()}
	case errors.As(err, &vfe):
		return Classification{Status: http.StatusUnauthorized, Code: "VERIFICATION_FAILED", Message: vfe.Message}
	case errors.As(err, &nfe):
		return Classification{Status: http.StatusNotFound, Code: nfe.Code, Message: nfe.Message}
	case errors.As(err, &rle):
		return Classification{Status: http.StatusTooManyRequests, Code: "RATE_LIMIT_EXCEEDED", Message: rle.Error()}
	default:
		return Classification{
			Status:   http.StatusInternalServerError,
			Code:     "SERVER_ERROR",
			Message:  "An unexpected error occurred",
			Internal: true,
		}
	}
}
