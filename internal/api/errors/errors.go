package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/notifhub/notifhub/internal/event"
	"github.com/notifhub/notifhub/internal/store"
	"github.com/notifhub/notifhub/internal/subscription"
)

// ErrorType defines the type of error
type ErrorType string

const (
	// ErrorTypeValidation represents a validation error
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeNotFound represents a not found error
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeConflict represents a conflict error
	ErrorTypeConflict ErrorType = "conflict"

	// ErrorTypeStore represents a backing store failure
	ErrorTypeStore ErrorType = "store"

	// ErrorTypeInternal represents an internal server error
	ErrorTypeInternal ErrorType = "internal"
)

// APIError represents a standardized API error
type APIError struct {
	Type      ErrorType `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	HTTPCode  int       `json:"-"` // Not serialized
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Code, e.Message)
}

// WithRequestID adds a request ID to the error
func (e *APIError) WithRequestID(requestID string) *APIError {
	e.RequestID = requestID
	return e
}

// ValidationError creates a new validation error
func ValidationError(code string, message string) *APIError {
	return &APIError{
		Type:     ErrorTypeValidation,
		Code:     code,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(code string, message string) *APIError {
	return &APIError{
		Type:     ErrorTypeNotFound,
		Code:     code,
		Message:  message,
		HTTPCode: http.StatusNotFound,
	}
}

// ConflictError creates a new conflict error
func ConflictError(code string, message string) *APIError {
	return &APIError{
		Type:     ErrorTypeConflict,
		Code:     code,
		Message:  message,
		HTTPCode: http.StatusConflict,
	}
}

// StoreError creates a new backing store error. The store sits behind
// this service, so its failures surface as 502.
func StoreError(code string, message string) *APIError {
	return &APIError{
		Type:     ErrorTypeStore,
		Code:     code,
		Message:  message,
		HTTPCode: http.StatusBadGateway,
	}
}

// InternalError creates a new internal server error
func InternalError(code string, message string) *APIError {
	return &APIError{
		Type:     ErrorTypeInternal,
		Code:     code,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
	}
}

// FromError translates a domain error into an API error. Unknown errors
// fold into an internal server error.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}

	// Already an APIError
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var storeErr *store.Error
	switch {
	case errors.Is(err, subscription.ErrInvalidCategory):
		return ValidationError("invalid_category", err.Error())
	case errors.Is(err, subscription.ErrAlreadySubscribed):
		return ConflictError("already_subscribed", err.Error())
	case errors.Is(err, subscription.ErrNoSubscriptions):
		return NotFoundError("no_subscriptions", err.Error())
	case errors.Is(err, event.ErrNoEvents):
		return NotFoundError("no_events", err.Error())
	case errors.As(err, &storeErr):
		return StoreError("store_unavailable", err.Error())
	}

	return InternalError("internal_error", err.Error())
}
