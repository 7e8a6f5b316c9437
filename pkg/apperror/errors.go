package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Webhook Configuration (WH) ----

// ErrInvalidName rejects subscription names outside [3,255] characters.
func ErrInvalidName() *AppError {
	return New("WH_001", "Webhook name must be between 3 and 255 characters", http.StatusBadRequest)
}

// ErrInvalidEvent rejects event types outside the known vocabulary.
func ErrInvalidEvent(event string) *AppError {
	return New("WH_002", fmt.Sprintf("Invalid event type: %s", event), http.StatusBadRequest)
}

// ErrEmptyEvents rejects an empty subscribed-event set.
func ErrEmptyEvents() *AppError {
	return New("WH_003", "At least one event type is required", http.StatusBadRequest)
}

// ErrUnsafeURL rejects destinations pointing at private or internal
// network space.
func ErrUnsafeURL(reason string) *AppError {
	return New("WH_004", fmt.Sprintf("Webhook URL cannot point to private or internal networks: %s", reason), http.StatusBadRequest)
}

// ErrWebhookLimitReached blocks registration beyond the per-fiduciary cap.
func ErrWebhookLimitReached(max int) *AppError {
	return New("WH_005", fmt.Sprintf("Maximum webhook limit reached (%d)", max), http.StatusBadRequest)
}

// ErrWebhookNotFound covers both unknown and cross-tenant subscription
// IDs; the external signal is identical to prevent existence probing.
func ErrWebhookNotFound() *AppError {
	return New("WH_006", "Webhook not found", http.StatusNotFound)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a generic request validation error.
func Validation(message string) *AppError {
	return New("WH_000", message, http.StatusBadRequest)
}
