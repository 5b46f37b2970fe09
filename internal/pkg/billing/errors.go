package billing

import (
	"errors"
	"fmt"
)

// ErrorKind classifies billing failures by how the boundary must react.
type ErrorKind string

const (
	KindAuthentication    ErrorKind = "AuthenticationError"
	KindValidation        ErrorKind = "ValidationError"
	KindNormalization     ErrorKind = "NormalizationError"
	KindDuplicateEvent    ErrorKind = "DuplicateEvent"
	KindTransientProvider ErrorKind = "TransientProviderError"
	KindTerminalState     ErrorKind = "TerminalStateConflict"
)

// Machine-readable codes returned to providers and admins.
const (
	CodeAuthentication    = "AUTHENTICATION_ERROR"
	CodeValidation        = "VALIDATION_ERROR"
	CodeUnknownState      = "UNKNOWN_STATE"
	CodeUnresolved        = "PAYMENT_NOT_RESOLVED"
	CodeAmountMismatch    = "AMOUNT_MISMATCH"
	CodeDuplicate         = "DUPLICATE_EVENT"
	CodeProviderFailure   = "PROVIDER_UNAVAILABLE"
	CodeTerminalState     = "TERMINAL_STATE"
	CodeInvalidTransition = "INVALID_TRANSITION"
)

// Error is the typed error returned across the billing boundary.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// IsKind reports whether err or any error it wraps is a billing Error of kind.
func IsKind(err error, kind ErrorKind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// CodeOf returns the code of the billing Error in err's chain, if any.
func CodeOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
