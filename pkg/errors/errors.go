// SPDX-License-Identifier: Apache-2.0

// Package errors defines the typed error values used across mcpgate.
//
// Every failure that can reach the wire carries a kind tag so that the
// JSON-RPC boundary can translate it into the right error code and HTTP
// status without inspecting error strings.
package errors

import (
	"errors"
	"fmt"
)

// Error kinds
const (
	// KindProtocol is returned for malformed or invalid JSON-RPC input
	KindProtocol = "protocol"

	// KindAuth is returned when authentication or authorization fails
	KindAuth = "auth"

	// KindNotFound is returned when a named entity does not exist
	KindNotFound = "not_found"

	// KindInvalidParams is returned when request parameters are invalid
	KindInvalidParams = "invalid_params"

	// KindSession is returned when a session is missing or invalid
	KindSession = "session"

	// KindStorage is returned when the storage backend fails
	KindStorage = "storage"

	// KindTransport is returned when there is an error with the transport
	KindTransport = "transport"

	// KindInternal is returned when there is an internal error
	KindInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Kind is the error kind tag
	Kind string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given kind
func New(kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// NewProtocolError creates a new protocol error
func NewProtocolError(message string, cause error) *Error {
	return New(KindProtocol, message, cause)
}

// NewAuthError creates a new authentication error
func NewAuthError(message string, cause error) *Error {
	return New(KindAuth, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return New(KindNotFound, message, cause)
}

// NewInvalidParamsError creates a new invalid params error
func NewInvalidParamsError(message string, cause error) *Error {
	return New(KindInvalidParams, message, cause)
}

// NewSessionError creates a new session error
func NewSessionError(message string, cause error) *Error {
	return New(KindSession, message, cause)
}

// NewStorageError creates a new storage error
func NewStorageError(message string, cause error) *Error {
	return New(KindStorage, message, cause)
}

// NewTransportError creates a new transport error
func NewTransportError(message string, cause error) *Error {
	return New(KindTransport, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return New(KindInternal, message, cause)
}

func isKind(err error, kind string) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsProtocol checks if the error is a protocol error
func IsProtocol(err error) bool { return isKind(err, KindProtocol) }

// IsAuth checks if the error is an authentication error
func IsAuth(err error) bool { return isKind(err, KindAuth) }

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsInvalidParams checks if the error is an invalid params error
func IsInvalidParams(err error) bool { return isKind(err, KindInvalidParams) }

// IsSession checks if the error is a session error
func IsSession(err error) bool { return isKind(err, KindSession) }

// IsStorage checks if the error is a storage error
func IsStorage(err error) bool { return isKind(err, KindStorage) }

// IsTransport checks if the error is a transport error
func IsTransport(err error) bool { return isKind(err, KindTransport) }

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool { return isKind(err, KindInternal) }
