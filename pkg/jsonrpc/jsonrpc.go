// SPDX-License-Identifier: Apache-2.0

// Package jsonrpc implements the JSON-RPC 2.0 envelope types used on the
// MCP wire, together with the single boundary converter that turns typed
// application errors into wire errors and HTTP statuses.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Version is the JSON-RPC protocol version.
const Version = "2.0"

// JSON-RPC error codes. The -32000 range carries the server-specific
// classes used by the MCP surface.
const (
	// ParseError indicates the payload was not valid JSON.
	ParseError = -32700

	// InvalidRequest indicates a malformed envelope or batch.
	InvalidRequest = -32600

	// MethodNotFound indicates an unknown or version-gated method.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal server failure.
	InternalError = -32603

	// AuthRequired indicates the request lacks valid authentication.
	AuthRequired = -32000

	// SessionRequired indicates a missing or invalid session.
	SessionRequired = -32001

	// HTTPMethodNotAllowed indicates an unsupported HTTP verb.
	HTTPMethodNotAllowed = -32002

	// AuthFailure indicates a generic authentication error.
	AuthFailure = -32004
)

// ErrorObject is the error member of a JSON-RPC response.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error returns the error message.
func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message is a decoded incoming JSON-RPC envelope. ID, Params, Result are
// kept raw so the dispatcher controls interpretation (and so an absent id
// can be told apart from an explicit null).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// HasID reports whether the envelope carried an id member at all.
func (m *Message) HasID() bool {
	return len(m.ID) > 0
}

// IDIsNull reports whether the envelope carried an explicit null id.
func (m *Message) IDIsNull() bool {
	return string(bytes.TrimSpace(m.ID)) == "null"
}

// IDKey returns a canonical string form of the id for duplicate detection.
// Equal ids compare equal regardless of surrounding whitespace.
func (m *Message) IDKey() string {
	return string(bytes.TrimSpace(m.ID))
}

// IsNotification reports whether the envelope is a notification: either a
// notifications/* method (or the bare "initialized"), or an absent id.
func (m *Message) IsNotification() bool {
	if strings.HasPrefix(m.Method, "notifications/") || m.Method == "initialized" {
		return true
	}
	return !m.HasID()
}

// IsResponse reports whether the envelope is a client response to a
// server-initiated request rather than a request of its own.
func (m *Message) IsResponse() bool {
	return m.Method == "" && (len(m.Result) > 0 || m.Error != nil) && m.HasID()
}

// Parse decodes a single JSON-RPC envelope.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return &m, nil
}

// Response is an outgoing JSON-RPC envelope. ID always serializes, so an
// error response for an unknown request renders "id": null as required.
type Response struct {
	JSONRPC string       `json:"jsonrpc"`
	Result  any          `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
	ID      any          `json:"id"`
}

// NewResponse builds a success response echoing the raw request id.
func NewResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, Result: result, ID: rawID(id)}
}

// NewErrorResponse builds an error response. A nil id renders as null.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   &ErrorObject{Code: code, Message: message},
		ID:      rawID(id),
	}
}

func rawID(id json.RawMessage) any {
	if len(id) == 0 {
		return nil
	}
	return id
}

// Notification is an outgoing server-to-client envelope without an id.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification builds a notification envelope.
func NewNotification(method string, params any) *Notification {
	return &Notification{JSONRPC: Version, Method: method, Params: params}
}

// Request is an outgoing server-to-client request envelope carrying a
// server-generated id (sampling, roots, elicitation).
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// NewRequest builds a server-to-client request envelope.
func NewRequest(id, method string, params any) *Request {
	return &Request{JSONRPC: Version, Method: method, Params: params, ID: id}
}
