// Package errors defines the service error taxonomy shared by the engines
// and the HTTP surface.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	CodePermissionDenied      ErrorCode = "PERMISSION_DENIED"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeInvalidState          ErrorCode = "INVALID_STATE"
	CodeInsufficientFunds     ErrorCode = "INSUFFICIENT_FUNDS"
	CodeInsufficientInventory ErrorCode = "INSUFFICIENT_INVENTORY"
	CodeInsufficientStock     ErrorCode = "INSUFFICIENT_STOCK"
	CodeOutOfStock            ErrorCode = "OUT_OF_STOCK"
	CodeInvalidQuantity       ErrorCode = "INVALID_QUANTITY"
	CodeInvalidInput          ErrorCode = "INVALID_INPUT"
	CodeStorageUnavailable    ErrorCode = "STORAGE_UNAVAILABLE"
	CodeUnauthorized          ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken          ErrorCode = "INVALID_TOKEN"
	CodeRateLimitExceeded     ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal              ErrorCode = "INTERNAL"
)

// Reasons attached to INVALID_STATE errors under the "reason" detail.
const (
	ReasonAlreadyClosed     = "already_closed"
	ReasonNothingRemaining  = "nothing_remaining"
	ReasonAlreadyAccepted   = "already_accepted"
	ReasonNotAccepted       = "not_accepted"
	ReasonInvalidTransition = "invalid_transition"
	ReasonConcurrentUpdate  = "concurrent_update"
)

// ServiceError is a classified failure carrying its HTTP mapping.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches any *ServiceError with the same code.
func (e *ServiceError) Is(target error) bool {
	var other *ServiceError
	if !stderrors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// WithDetails returns the error with an extra detail set.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Reason returns the "reason" detail, if any.
func (e *ServiceError) Reason() string {
	if e.Details == nil {
		return ""
	}
	reason, _ := e.Details["reason"].(string)
	return reason
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func PermissionDenied(message string) *ServiceError {
	return newError(CodePermissionDenied, http.StatusForbidden, message, nil)
}

func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource), nil).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// InvalidState reports an action that the entity's current status forbids.
func InvalidState(reason, message string) *ServiceError {
	return newError(CodeInvalidState, http.StatusBadRequest, message, nil).WithDetails("reason", reason)
}

func AlreadyClosed(message string) *ServiceError {
	return InvalidState(ReasonAlreadyClosed, message)
}

func NothingRemaining(message string) *ServiceError {
	return InvalidState(ReasonNothingRemaining, message)
}

func AlreadyAccepted(message string) *ServiceError {
	return InvalidState(ReasonAlreadyAccepted, message)
}

func ConcurrentUpdate(resource string) *ServiceError {
	return InvalidState(ReasonConcurrentUpdate, fmt.Sprintf("%s was modified concurrently", resource))
}

func InsufficientFunds(required, available int64) *ServiceError {
	return newError(CodeInsufficientFunds, http.StatusBadRequest, "Insufficient coins", nil).
		WithDetails("required", required).
		WithDetails("available", available)
}

func InsufficientInventory(required, available float64) *ServiceError {
	return newError(CodeInsufficientInventory, http.StatusBadRequest, "Insufficient inventory", nil).
		WithDetails("required_kg", required).
		WithDetails("available_kg", available)
}

func InsufficientStock(requested, available int) *ServiceError {
	return newError(CodeInsufficientStock, http.StatusBadRequest,
		fmt.Sprintf("Insufficient stock. Only %d available", available), nil).
		WithDetails("requested", requested).
		WithDetails("available", available)
}

func OutOfStock(message string) *ServiceError {
	return newError(CodeOutOfStock, http.StatusBadRequest, message, nil)
}

func InvalidQuantity(message string) *ServiceError {
	return newError(CodeInvalidQuantity, http.StatusBadRequest, message, nil)
}

func InvalidInput(field, message string) *ServiceError {
	return newError(CodeInvalidInput, http.StatusBadRequest, message, nil).WithDetails("field", field)
}

// StorageUnavailable wraps a record store failure. The cause is kept for logs
// but never rendered to clients.
func StorageUnavailable(err error) *ServiceError {
	return newError(CodeStorageUnavailable, http.StatusInternalServerError, "Storage unavailable", err)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Unauthorized"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "Invalid or expired token", err)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimitExceeded, http.StatusTooManyRequests, "Rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts the first *ServiceError in err's chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if stderrors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	serviceErr := GetServiceError(err)
	return serviceErr != nil && serviceErr.Code == code
}

// HasReason reports whether err is an INVALID_STATE error with the given reason.
func HasReason(err error, reason string) bool {
	serviceErr := GetServiceError(err)
	return serviceErr != nil && serviceErr.Code == CodeInvalidState && serviceErr.Reason() == reason
}
