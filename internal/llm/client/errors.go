package llmclient

import (
	"errors"
	"fmt"
	"strings"
)

// UnknownErrorMessage is shown when an upstream failure carries no readable text.
const UnknownErrorMessage = "Unknown error"

// AuthError reports a missing or rejected credential for a provider.
type AuthError struct {
	Provider Provider
	Message  string
}

func (e *AuthError) Error() string {
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	return fmt.Sprintf("API key for %s is not set", e.Provider)
}

// TransportError reports a network failure or a non-2xx HTTP response.
// Message holds the upstream error text when the body carried one.
type TransportError struct {
	Provider   Provider
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return UnknownErrorMessage
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a successful response whose shape is unusable.
type ProtocolError struct {
	Provider Provider
	Reason   string
}

func (e *ProtocolError) Error() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "unexpected response shape"
	}
	return fmt.Sprintf("%s: %s", e.Provider, reason)
}

// ErrorMessage returns the text a user should see for err. It never returns
// an empty string.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return UnknownErrorMessage
}

// IsAuth reports whether err is (or wraps) an *AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
