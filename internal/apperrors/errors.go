// Package apperrors defines the typed error taxonomy shared by the ledger,
// the draw engine and the transport layer.
package apperrors

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown                  Code = "UNKNOWN"
	CodeInvalidArgument          Code = "INVALID_ARGUMENT"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeCampaignInactive         Code = "CAMPAIGN_INACTIVE"
	CodeInsufficientCredit       Code = "INSUFFICIENT_CREDIT"
	CodeStockExhausted           Code = "STOCK_EXHAUSTED"
	CodeNoEligiblePrizes         Code = "NO_ELIGIBLE_PRIZES"
	CodeInvalidProbabilityConfig Code = "INVALID_PROBABILITY_CONFIGURATION"
	CodeConcurrentModification   Code = "CONCURRENT_MODIFICATION_CONFLICT"
	CodePaymentDeclined          Code = "PAYMENT_DECLINED"
	CodeFreeSpinOutstanding      Code = "FREE_SPIN_OUTSTANDING"
	CodeRequestInProgress        Code = "REQUEST_IN_PROGRESS"
	CodeRevealAborted            Code = "REVEAL_ABORTED"
	CodeInvalidTransition        Code = "INVALID_TRANSITION"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs)
	Metadata map[string]string // Additional context
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata creates a domain error carrying extra context.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons. Only the code is compared.
var (
	ErrInvalidArgument          = New(CodeInvalidArgument, "invalid argument")
	ErrNotFound                 = New(CodeNotFound, "not found")
	ErrCampaignInactive         = New(CodeCampaignInactive, "campaign is not active")
	ErrInsufficientCredit       = New(CodeInsufficientCredit, "insufficient credit")
	ErrStockExhausted           = New(CodeStockExhausted, "prize stock exhausted")
	ErrNoEligiblePrizes         = New(CodeNoEligiblePrizes, "no eligible prizes")
	ErrInvalidProbabilityConfig = New(CodeInvalidProbabilityConfig, "catalog has zero total weight")
	ErrConcurrentModification   = New(CodeConcurrentModification, "concurrent modification conflict")
	ErrPaymentDeclined          = New(CodePaymentDeclined, "payment declined")
	ErrFreeSpinOutstanding      = New(CodeFreeSpinOutstanding, "a free spin is already outstanding")
	ErrRequestInProgress        = New(CodeRequestInProgress, "request with this idempotency key is in progress")
	ErrRevealAborted            = New(CodeRevealAborted, "reveal aborted")
	ErrInvalidTransition        = New(CodeInvalidTransition, "invalid reveal transition")
)

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HTTPStatus maps err to the status code the transport should answer with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument, CodeInvalidProbabilityConfig, CodeInvalidTransition:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodePaymentDeclined, CodeInsufficientCredit:
		return http.StatusPaymentRequired
	case CodeCampaignInactive, CodeStockExhausted, CodeNoEligiblePrizes, CodeFreeSpinOutstanding:
		return http.StatusConflict
	case CodeConcurrentModification, CodeRequestInProgress:
		return http.StatusConflict
	case CodeRevealAborted:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the operation that produced err may be retried
// as-is. Only lost compare-and-set races qualify.
func Retryable(err error) bool {
	return CodeOf(err) == CodeConcurrentModification
}
