package errors

import (
	"errors"
	"fmt"
)

// Error is a classified error. Message is safe to show to callers; Cause is for logs only.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New returns an Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an Error that keeps cause for errors.Is / errors.As and logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements error. It includes the cause and must not be sent to callers as-is.
func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf extracts the kind from any error. Returns KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// SafeMessage returns the caller-facing message for err.
func SafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindCredentialPolicyRejected {
			return CredentialPolicyMessage
		}
		return e.Message
	}
	return "an unexpected error occurred"
}

// Validation is shorthand for New(KindValidation, message).
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// CredentialPolicyRejected wraps a provider rejection with the fixed guidance message.
func CredentialPolicyRejected(cause error) *Error {
	return Wrap(KindCredentialPolicyRejected, CredentialPolicyMessage, cause)
}
