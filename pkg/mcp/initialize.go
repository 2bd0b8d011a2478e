// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/jsonrpc"
	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/protocol"
	"github.com/mcpgate/mcpgate/pkg/storage"
	"github.com/mcpgate/mcpgate/pkg/telemetry"
)

// initializeResult is the wire shape of a successful initialize.
type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      serverInfo     `json:"serverInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// handleInitialize negotiates the protocol version, creates the
// session and answers directly on the POST body with the session id in
// the Mcp-Session-Id header. This is the one request/response pair that
// does not ride the message queue.
func (d *Dispatcher) handleInitialize(w http.ResponseWriter, r *http.Request, msg *jsonrpc.Message, rc *auth.RequestContext) {
	requested := gjson.GetBytes(msg.Params, "protocolVersion").String()
	if requested == "" {
		jsonrpc.WriteJSON(w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(msg.ID, jsonrpc.InvalidParams, "params.protocolVersion is required"))
		return
	}

	negotiated := d.versions.Negotiate(requested)
	sessionID := protocol.NewSessionID(negotiated)

	session := &storage.Session{
		ID:              sessionID,
		ProtocolVersion: negotiated,
		ContextID:       rc.ContextID,
		UserID:          rc.UserID,
	}
	if err := d.store.StoreSession(r.Context(), session, d.cfg.SessionLifetime); err != nil {
		logger.Errorw("failed to create session", "error", err)
		jsonrpc.WriteError(w, jsonrpc.InternalError, "Internal error")
		return
	}
	d.versions.Remember(sessionID, negotiated)
	telemetry.SessionsCreated.WithLabelValues(negotiated).Inc()

	logger.Infow("session initialized",
		"session_id", sessionID,
		"requested", requested,
		"negotiated", negotiated,
		"context_id", rc.ContextID)

	w.Header().Set("Mcp-Session-Id", sessionID)
	jsonrpc.WriteJSON(w, http.StatusOK, jsonrpc.NewResponse(msg.ID, initializeResult{
		ProtocolVersion: negotiated,
		Capabilities:    protocol.Capabilities(negotiated),
		ServerInfo: serverInfo{
			Name:    d.cfg.ServerInfo.Name,
			Version: d.cfg.ServerInfo.Version,
		},
	}))
}
