// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"encoding/json"
	"net/http"

	"github.com/mcpgate/mcpgate/pkg/errors"
	"github.com/mcpgate/mcpgate/pkg/logger"
)

// HTTPStatus maps a JSON-RPC error code to the HTTP status class the
// server responds with.
func HTTPStatus(code int) int {
	switch code {
	case AuthRequired, SessionRequired, AuthFailure:
		return http.StatusUnauthorized
	case HTTPMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case InternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// CodeForError maps a typed application error to a JSON-RPC error code.
// Unknown errors become internal errors; storage failures never leak
// backend detail to the client.
func CodeForError(err error) int {
	switch {
	case errors.IsProtocol(err):
		return InvalidRequest
	case errors.IsNotFound(err):
		return MethodNotFound
	case errors.IsInvalidParams(err):
		return InvalidParams
	case errors.IsAuth(err):
		return AuthRequired
	case errors.IsSession(err):
		return SessionRequired
	default:
		return InternalError
	}
}

// WriteError emits a single JSON-RPC error envelope with a null id and an
// HTTP status consistent with the error class.
func WriteError(w http.ResponseWriter, code int, message string) {
	WriteJSON(w, HTTPStatus(code), NewErrorResponse(nil, code, message))
}

// WriteJSON writes v as a JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorw("failed to write JSON response", "error", err)
	}
}
