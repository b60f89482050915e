package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants for the billing event processor.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400) -- the payload itself is unusable and will never
	// become usable on redelivery.
	ErrCodeValidationMalformedEvent ErrorCode = "validation_malformed_event"
	ErrCodeValidationMissingField   ErrorCode = "validation_missing_required_field"

	// Auth (401) -- the payload did not originate from the payment provider.
	ErrCodeAuthSignatureMissing ErrorCode = "auth_signature_missing"
	ErrCodeAuthSignatureInvalid ErrorCode = "auth_signature_invalid"

	// Not Found (404)
	ErrCodeNotFoundTenant       ErrorCode = "not_found_tenant"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundGrant        ErrorCode = "not_found_grant"

	// Conflict (409) -- an invariant the event stream must uphold was broken.
	// Redelivery cannot fix a data problem, so these are terminal per event.
	ErrCodeConflictGrantAmount ErrorCode = "conflict_grant_amount_mismatch"
	ErrCodeConflictUnresolved  ErrorCode = "conflict_unresolvable_reference"

	// Internal/Upstream (500/502) -- transient; the provider should redeliver.
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamAlerts      ErrorCode = "upstream_alert_delivery_failed"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
//
// Note: the inbound webhook endpoint does NOT use this mapping directly;
// its response contract is retry-oriented (see handlers.BillingWebhookHandler).
// This mapping serves the generic API surface (health, future admin routes).
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Transient reports whether an error with this code may succeed if the
// same event is delivered again. Transient failures request redelivery
// from the payment provider; everything else is terminal per event.
func (c ErrorCode) Transient() bool {
	s := string(c)
	return strings.HasPrefix(s, "internal_") || strings.HasPrefix(s, "upstream_")
}

// AppError is the standard application error type used throughout the
// processor. All domain and repository errors are expressed as AppError to
// enable consistent classification (transient vs. terminal), HTTP status
// mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// IsTransient reports whether err is (or wraps) an AppError whose code is
// transient. Non-AppError errors are treated as transient: an unclassified
// failure is safer to retry than to drop, since grant application is
// idempotent.
func IsTransient(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code.Transient()
	}
	return true
}
