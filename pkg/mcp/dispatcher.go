// SPDX-License-Identifier: Apache-2.0

// Package mcp implements the protocol core: the message dispatcher, the
// initialize flow and the per-method handlers. Request outcomes are
// queued for stream delivery; only initialize and batches answer on the
// POST body itself.
package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/errors"
	"github.com/mcpgate/mcpgate/pkg/jsonrpc"
	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/protocol"
	"github.com/mcpgate/mcpgate/pkg/registry"
	"github.com/mcpgate/mcpgate/pkg/storage"
	"github.com/mcpgate/mcpgate/pkg/telemetry"
)

// Dispatcher routes decoded JSON-RPC traffic: envelope validation,
// duplicate-id detection, feature gating, batching rules and the
// queue-then-202 contract.
type Dispatcher struct {
	store     storage.Store
	cfg       *config.Config
	versions  *protocol.Manager
	tools     *registry.ToolRegistry
	prompts   *registry.PromptRegistry
	resources *registry.ResourceRegistry

	// seen tracks non-null request ids per session for the duplicate
	// guard. Entries are dropped when the session is forgotten.
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

// NewDispatcher wires the dispatcher over its collaborators.
func NewDispatcher(
	store storage.Store,
	cfg *config.Config,
	versions *protocol.Manager,
	tools *registry.ToolRegistry,
	prompts *registry.PromptRegistry,
	resources *registry.ResourceRegistry,
) *Dispatcher {
	return &Dispatcher{
		store:     store,
		cfg:       cfg,
		versions:  versions,
		tools:     tools,
		prompts:   prompts,
		resources: resources,
		seen:      make(map[string]map[string]struct{}),
	}
}

// ForgetSession drops the duplicate-id state for a destroyed session.
func (d *Dispatcher) ForgetSession(sessionID string) {
	d.mu.Lock()
	delete(d.seen, sessionID)
	d.mu.Unlock()
	d.versions.Invalidate(sessionID)
}

// Prune drops cached state for sessions that no longer exist in
// storage. The cleanup sweep calls it after expiring records.
func (d *Dispatcher) Prune(ctx context.Context) {
	d.mu.Lock()
	ids := make([]string, 0, len(d.seen))
	for id := range d.seen {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		sess, err := d.store.GetSession(ctx, id)
		if err != nil {
			return
		}
		if sess == nil {
			d.ForgetSession(id)
		}
	}
}

// validateSession confirms the session is live and slides its expiry.
// A vanished session also sheds the cached state held for it.
func (d *Dispatcher) validateSession(ctx context.Context, sessionID string) bool {
	sess, err := d.store.TouchSession(ctx, sessionID, d.cfg.SessionLifetime)
	if err != nil {
		logger.Errorw("session lookup failed", "session_id", sessionID, "error", err)
		return false
	}
	if sess == nil {
		d.ForgetSession(sessionID)
		return false
	}
	return true
}

// markSeen records a request id and reports whether it was new.
func (d *Dispatcher) markSeen(sessionID, idKey string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids, ok := d.seen[sessionID]
	if !ok {
		ids = make(map[string]struct{})
		d.seen[sessionID] = ids
	}
	if _, dup := ids[idKey]; dup {
		return false
	}
	ids[idKey] = struct{}{}
	return true
}

// Dispatch processes a JSON-RPC payload (object or array) and writes
// the HTTP outcome. The body has already passed JSON well-formedness
// checks at the server boundary.
func (d *Dispatcher) Dispatch(w http.ResponseWriter, r *http.Request, body []byte, rc *auth.RequestContext) {
	if jsonrpc.IsBatch(body) {
		d.dispatchBatch(w, r, body, rc)
		return
	}
	d.dispatchSingle(w, r, body, rc)
}

func (d *Dispatcher) dispatchSingle(w http.ResponseWriter, r *http.Request, body []byte, rc *auth.RequestContext) {
	msg, err := jsonrpc.Parse(body)
	if err != nil {
		jsonrpc.WriteError(w, jsonrpc.ParseError, "Parse error")
		return
	}

	// A client response to a server-initiated request (sampling, roots,
	// elicitation) is recorded for correlation, not dispatched.
	if msg.IsResponse() {
		d.recordClientResponse(w, r.Context(), msg, body)
		return
	}

	if msg.JSONRPC != jsonrpc.Version || msg.Method == "" {
		jsonrpc.WriteError(w, jsonrpc.InvalidRequest, "Invalid Request")
		return
	}

	if msg.Method == "initialize" {
		d.handleInitialize(w, r, msg, rc)
		return
	}

	if msg.IsNotification() {
		d.handleNotification(r.Context(), msg, rc)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// A request with an explicit null id is malformed.
	if msg.IDIsNull() {
		jsonrpc.WriteError(w, jsonrpc.InvalidRequest, "Request id must not be null")
		return
	}

	if rc.SessionID == "" {
		jsonrpc.WriteError(w, jsonrpc.SessionRequired, "Session required")
		return
	}
	if !d.validateSession(r.Context(), rc.SessionID) {
		jsonrpc.WriteError(w, jsonrpc.SessionRequired, "Unknown or expired session")
		return
	}

	if !d.markSeen(rc.SessionID, msg.IDKey()) {
		jsonrpc.WriteError(w, jsonrpc.InvalidRequest, "Duplicate request id")
		return
	}

	resp := d.handleRequest(r.Context(), msg, rc)
	d.queueResponse(w, r.Context(), resp, rc)
}

func (d *Dispatcher) dispatchBatch(w http.ResponseWriter, r *http.Request, body []byte, rc *auth.RequestContext) {
	msgs, err := jsonrpc.ParseBatch(body)
	if err != nil {
		if stderrors.Is(err, jsonrpc.ErrEmptyBatch) {
			jsonrpc.WriteError(w, jsonrpc.InvalidRequest, "Empty batch")
			return
		}
		jsonrpc.WriteError(w, jsonrpc.ParseError, "Parse error")
		return
	}

	if !protocol.BatchingSupported(rc.ProtocolVersion) {
		jsonrpc.WriteError(w, jsonrpc.InvalidRequest,
			"Batching is not supported on protocol version "+rc.ProtocolVersion)
		return
	}

	// One session check covers every element in the batch.
	sessionOK := rc.SessionID != "" && d.validateSession(r.Context(), rc.SessionID)

	var responses jsonrpc.BatchResponse
	for _, msg := range msgs {
		if resp := d.dispatchBatchElement(r.Context(), msg, rc, sessionOK); resp != nil {
			responses = append(responses, resp)
		}
	}

	// An all-notification batch has nothing to say.
	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	jsonrpc.WriteJSON(w, http.StatusOK, responses)
}

// dispatchBatchElement processes one batch member and returns its
// response item, or nil for notifications and recorded responses.
// Batch outcomes answer on the POST body directly: the batch is its own
// delivery channel.
func (d *Dispatcher) dispatchBatchElement(ctx context.Context, msg *jsonrpc.Message, rc *auth.RequestContext, sessionOK bool) *jsonrpc.Response {
	if msg.IsResponse() {
		if err := d.store.StoreClientResponse(ctx, msg.IDKey(), mustMarshal(msg)); err != nil {
			logger.Errorw("failed to record client response", "error", err)
		}
		return nil
	}

	if msg.JSONRPC != jsonrpc.Version || msg.Method == "" {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.InvalidRequest, "Invalid Request")
	}

	if msg.Method == "initialize" {
		// Initialization negotiates headers and a session id; it cannot
		// ride inside a batch.
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.InvalidRequest, "initialize must be a single request")
	}

	if msg.IsNotification() {
		d.handleNotification(ctx, msg, rc)
		return nil
	}

	if msg.IDIsNull() {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.InvalidRequest, "Request id must not be null")
	}
	if rc.SessionID == "" {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.SessionRequired, "Session required")
	}
	if !sessionOK {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.SessionRequired, "Unknown or expired session")
	}
	if !d.markSeen(rc.SessionID, msg.IDKey()) {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.InvalidRequest, "Duplicate request id")
	}

	return d.handleRequest(ctx, msg, rc)
}

// handleRequest gates and executes one request, returning the response
// envelope (success or error) for queueing or batch inclusion.
func (d *Dispatcher) handleRequest(ctx context.Context, msg *jsonrpc.Message, rc *auth.RequestContext) *jsonrpc.Response {
	telemetry.RequestsTotal.WithLabelValues(msg.Method, rc.ProtocolVersion).Inc()

	if !protocol.MethodAllowed(msg.Method, rc.ProtocolVersion) {
		return jsonrpc.NewErrorResponse(msg.ID, jsonrpc.MethodNotFound,
			"Method not found: "+msg.Method)
	}

	result, err := d.callMethod(ctx, msg, rc)
	if err != nil {
		return errorResponse(msg.ID, err)
	}
	return jsonrpc.NewResponse(msg.ID, result)
}

// queueResponse appends the outcome to the session queue and answers
// 202: the streaming transport is the one-way path for results.
func (d *Dispatcher) queueResponse(w http.ResponseWriter, ctx context.Context, resp *jsonrpc.Response, rc *auth.RequestContext) {
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Errorw("failed to marshal response", "error", err)
		jsonrpc.WriteError(w, jsonrpc.InternalError, "Internal error")
		return
	}
	if _, err := d.store.StoreMessage(ctx, rc.SessionID, data, rc.ContextID); err != nil {
		logger.Errorw("failed to queue response", "session_id", rc.SessionID, "error", err)
		jsonrpc.WriteError(w, jsonrpc.InternalError, "Internal error")
		return
	}
	telemetry.MessagesQueued.Inc()
	jsonrpc.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// recordClientResponse stores a reverse-request response under its id.
func (d *Dispatcher) recordClientResponse(w http.ResponseWriter, ctx context.Context, msg *jsonrpc.Message, body []byte) {
	idKey := msg.IDKey()
	// The id of a server-initiated request serializes as a JSON string.
	var id string
	if err := json.Unmarshal(msg.ID, &id); err == nil && id != "" {
		idKey = id
	}
	if err := d.store.StoreClientResponse(ctx, idKey, body); err != nil {
		logger.Errorw("failed to record client response", "request_id", idKey, "error", err)
		jsonrpc.WriteError(w, jsonrpc.InternalError, "Internal error")
		return
	}
	jsonrpc.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

// handleNotification performs notification side effects. Unknown
// notifications are accepted silently.
func (d *Dispatcher) handleNotification(ctx context.Context, msg *jsonrpc.Message, rc *auth.RequestContext) {
	switch msg.Method {
	case "notifications/cancelled":
		if rc.SessionID != "" {
			if err := d.store.DeleteSessionMessages(ctx, rc.SessionID); err != nil {
				logger.Errorw("failed to drain session queue", "session_id", rc.SessionID, "error", err)
			}
		}
	case "notifications/initialized", "initialized":
		logger.Debugw("client initialized", "session_id", rc.SessionID)
	case "notifications/progress":
		logger.Debugw("progress notification", "session_id", rc.SessionID)
	default:
		logger.Debugw("ignoring notification", "method", msg.Method)
	}
}

// errorResponse converts a typed application error into a wire error.
// Untyped errors never leak their message.
func errorResponse(id json.RawMessage, err error) *jsonrpc.Response {
	code := jsonrpc.CodeForError(err)
	message := "Internal error"
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		message = typed.Message
	}
	return jsonrpc.NewErrorResponse(id, code, message)
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Errorw("marshal failed", "error", err)
		return []byte("{}")
	}
	return data
}
