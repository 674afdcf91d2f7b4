package types

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeTerminal covers unrecoverable claim errors: the claim moves
	// to a terminal state immediately with no retry.
	ErrorTypeTerminal ErrorType = "terminal"
	// ErrorTypeReview covers recoverable findings that route the claim to
	// manual review rather than auto-denying it.
	ErrorTypeReview ErrorType = "review"
	// ErrorTypeTransient covers infrastructure failures (ledger RPC
	// timeouts, network errors) that are safe to retry with backoff.
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeInvariant covers internal data-integrity violations; the
	// claim is frozen in place pending manual correction, never clamped.
	ErrorTypeInvariant  ErrorType = "invariant"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
)

// ClaimError represents a structured error in the claims engine
type ClaimError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *ClaimError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *ClaimError) Unwrap() error {
	return e.Cause
}

// NewTerminalError creates an unrecoverable claim error
func NewTerminalError(code, message string, details map[string]interface{}) *ClaimError {
	return &ClaimError{Type: ErrorTypeTerminal, Code: code, Message: message, Details: details}
}

// NewReviewError creates an error that routes a claim to manual review
func NewReviewError(code, message string, details map[string]interface{}) *ClaimError {
	return &ClaimError{Type: ErrorTypeReview, Code: code, Message: message, Details: details}
}

// NewTransientError creates a retryable infrastructure error
func NewTransientError(code, message string, cause error) *ClaimError {
	return &ClaimError{Type: ErrorTypeTransient, Code: code, Message: message, Cause: cause}
}

// NewInvariantError creates an internal data-integrity error
func NewInvariantError(code, message string, details map[string]interface{}) *ClaimError {
	return &ClaimError{Type: ErrorTypeInvariant, Code: code, Message: message, Details: details}
}

// NewValidationError creates a request validation error
func NewValidationError(code, message string, details map[string]interface{}) *ClaimError {
	return &ClaimError{Type: ErrorTypeValidation, Code: code, Message: message, Details: details}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(code, message string) *ClaimError {
	return &ClaimError{Type: ErrorTypeNotFound, Code: code, Message: message}
}

// NewConflictError creates a conflict error
func NewConflictError(code, message string) *ClaimError {
	return &ClaimError{Type: ErrorTypeConflict, Code: code, Message: message}
}

// NewInternalError creates an internal error with an underlying cause
func NewInternalError(code, message string, cause error) *ClaimError {
	return &ClaimError{Type: ErrorTypeInternal, Code: code, Message: message, Cause: cause}
}

// IsTransient reports whether the error is a retryable infrastructure failure.
func IsTransient(err error) bool {
	var ce *ClaimError
	if errors.As(err, &ce) {
		return ce.Type == ErrorTypeTransient
	}
	return false
}

// IsReview reports whether the error routes a claim to manual review.
func IsReview(err error) bool {
	var ce *ClaimError
	if errors.As(err, &ce) {
		return ce.Type == ErrorTypeReview
	}
	return false
}

// ErrType returns the ClaimError type of err, or ErrorTypeInternal when err
// is not a ClaimError.
func ErrType(err error) ErrorType {
	var ce *ClaimError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ErrorTypeInternal
}

// Common error codes
const (
	ErrCodeMalformedCode        = "MALFORMED_CODE"
	ErrCodeUnknownCode          = "UNKNOWN_CODE"
	ErrCodeDisallowedDuplicate  = "DISALLOWED_DUPLICATE"
	ErrCodeNoRateAvailable      = "NO_RATE_AVAILABLE"
	ErrCodeNotCovered           = "NOT_COVERED"
	ErrCodeUnknownPolicy        = "UNKNOWN_POLICY"
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeClaimNotFound        = "CLAIM_NOT_FOUND"
	ErrCodeIllegalTransition    = "ILLEGAL_TRANSITION"
	ErrCodeAlreadySettled       = "ALREADY_SETTLED"
	ErrCodeDispatchInFlight     = "DISPATCH_IN_FLIGHT"
	ErrCodeNotApproved          = "NOT_APPROVED"
	ErrCodeLedgerRejected       = "LEDGER_REJECTED"
	ErrCodeLedgerUnavailable    = "LEDGER_UNAVAILABLE"
	ErrCodeAllowedExceedsBilled = "ALLOWED_EXCEEDS_BILLED"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)
