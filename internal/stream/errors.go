package stream

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a stream resolution failure.
type Kind string

const (
	KindUnknown            Kind = ""
	KindInvalidInput       Kind = "invalid_input"
	KindCredentialFetch    Kind = "credential_fetch_error"
	KindTransport          Kind = "transport_error"
	KindVendorLogin        Kind = "vendor_login_error"
	KindCredentialsInvalid Kind = "credentials_invalid"
	KindMissingToken       Kind = "missing_token"
)

// Error is a classified resolution failure. Message is operator-facing.
type Error struct {
	Kind    Kind
	Message string
	// Status is the HTTP status that produced the error, if any.
	Status int
	Err    error
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

// UserMessage returns the text shown to the operator.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindCredentialsInvalid, KindVendorLogin:
		return "The camera rejected the stored device credentials. Update the device username and password, then try again."
	case KindInvalidInput:
		return e.Message
	}
	return "Unable to load the camera stream. Please retry."
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// Retryable reports whether a blind retry may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindCredentialFetch, KindTransport:
		return true
	}
	return false
}

// NeedsCredentialFix reports whether the operator must update the stored
// device credentials before retrying.
func NeedsCredentialFix(err error) bool {
	switch KindOf(err) {
	case KindCredentialsInvalid, KindVendorLogin:
		return true
	}
	return false
}

// UserMessage returns the operator-facing text for any error.
func UserMessage(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.UserMessage()
	}
	return "Unable to load the camera stream. Please retry."
}

// isBadCredentials matches the vendor's wording for rejected credentials,
// which varies in word order between firmware versions.
func isBadCredentials(msg string) bool {
	m := strings.ToLower(msg)
	if strings.Contains(m, "incorrect username or password") {
		return true
	}
	return strings.Contains(m, "username or password") && strings.Contains(m, "incorrect")
}

// classifyVendorRejection maps a vendor-reported failure to a kind.
func classifyVendorRejection(status int, msg string) Kind {
	if status == http.StatusUnauthorized || isBadCredentials(msg) {
		return KindCredentialsInvalid
	}
	return KindVendorLogin
}
