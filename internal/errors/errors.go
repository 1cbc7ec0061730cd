// SPDX-License-Identifier: Apache-2.0

// Package errors provides the gateway's typed error vocabulary. Every
// failure that crosses the HTTP boundary is translated into one of the
// kinds below; raw backend error shapes never leave the dispatcher.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind classifies gateway errors for routing, monitoring, and recovery.
type Kind string

const (
	// KindConfig indicates a malformed manifest or configuration. Fatal at
	// startup; the gateway refuses to run.
	KindConfig Kind = "CONFIG_ERROR"

	// KindUnauthorized indicates the caller's role has no access to the
	// requested capability. Never retried.
	KindUnauthorized Kind = "UNAUTHORIZED"

	// KindUnavailable indicates a capability exists for the role but no
	// backend is currently able to serve it. Transient.
	KindUnavailable Kind = "UNAVAILABLE"

	// KindTimeout indicates the caller's wait exceeded the per-call limit.
	KindTimeout Kind = "TIMEOUT"

	// KindTransport indicates a connection-level backend failure.
	KindTransport Kind = "TRANSPORT_ERROR"

	// KindProtocol indicates the backend responded but the payload was
	// unparseable. A backend defect, not a connectivity problem.
	KindProtocol Kind = "PROTOCOL_ERROR"

	// KindCancelled indicates the call was cancelled by gateway shutdown.
	KindCancelled Kind = "CANCELLED"

	// KindNotFound indicates a named backend does not exist in the registry.
	KindNotFound Kind = "NOT_FOUND"

	// KindInternal indicates an internal gateway error.
	KindInternal Kind = "INTERNAL_ERROR"
)

// Error is a typed gateway error with a stable kind and message.
// It implements the error interface and supports errors.As / errors.Is
// chain traversal through Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Backend string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging and
// HTTP error bodies.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
		Backend string `json:"backend,omitempty"`
	}{
		Kind:    string(e.Kind),
		Message: e.Message,
		Backend: e.Backend,
	}
	return json.Marshal(out)
}

// HTTPStatus maps the error kind to the status code returned at the
// inbound API boundary.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusForbidden
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindTransport, KindProtocol, KindCancelled:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	case KindConfig:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new Error with the given kind, message, and cause.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Newf creates a new Error with a formatted message and no cause.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithBackend attaches the backend name the error originated from.
// Returns the error for method chaining.
func (e *Error) WithBackend(name string) *Error {
	e.Backend = name
	return e
}

// KindOf returns the kind of err if it is (or wraps) a gateway Error,
// and KindInternal otherwise.
func KindOf(err error) Kind {
	if e := AsError(err); e != nil {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is a gateway Error of the given kind.
func IsKind(err error, kind Kind) bool {
	if e := AsError(err); e != nil {
		return e.Kind == kind
	}
	return false
}

// AsError walks the error chain looking for a gateway Error.
// Returns nil when the chain contains none.
func AsError(err error) *Error {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

// Wrap converts an arbitrary error into a gateway Error preserving an
// existing kind, or classifying it as internal.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	if e := AsError(err); e != nil {
		return e
	}
	return New(KindInternal, msg, err)
}

// Retryable reports whether the supervisor should retry after this error.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindUnavailable, KindTimeout, KindTransport:
		return true
	default:
		return false
	}
}
