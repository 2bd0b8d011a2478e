// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/jsonrpc"
	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/protocol"
	"github.com/mcpgate/mcpgate/pkg/storage"
	"github.com/mcpgate/mcpgate/pkg/telemetry"
)

// sniffLimit bounds how much of a request body the middleware reads to
// detect an initialize call.
const sniffLimit = 1 << 20

// uuidSegment matches a UUID path segment, the fallback when the route
// pattern did not capture a context id.
var uuidSegment = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// Middleware authenticates MCP requests: it resolves the tenant
// context, validates the bearer token and its scopes, and enforces the
// 2025-06-18 resource binding. Requests that clear it carry a
// RequestContext.
type Middleware struct {
	store    storage.Store
	cfg      *config.Config
	versions *protocol.Manager
}

// NewMiddleware builds the resource-server middleware.
func NewMiddleware(store storage.Store, cfg *config.Config, versions *protocol.Manager) *Middleware {
	return &Middleware{store: store, cfg: cfg, versions: versions}
}

// Wrap returns next behind the authentication checks.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		baseURL := BaseURL(m.cfg, r)
		contextID := m.contextID(r)
		sessionID := m.sessionID(r)
		version := m.protocolVersion(r, sessionID)

		if m.cfg.Auth.Authless {
			ctxID := contextID
			if ctxID == "" {
				ctxID = m.cfg.Auth.AuthlessContextID
			}
			rc := &RequestContext{
				ContextID:       ctxID,
				UserID:          m.cfg.Auth.AuthlessUserID,
				BaseURL:         baseURL,
				ProtocolVersion: version,
				SessionID:       sessionID,
			}
			next.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
			return
		}

		// Initialization doubles as the bootstrap for a fresh client
		// that has no token yet.
		if isInitialize(r) {
			rc := &RequestContext{
				ContextID:       contextID,
				BaseURL:         baseURL,
				ProtocolVersion: version,
				SessionID:       sessionID,
			}
			next.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
			return
		}

		record, err := m.resolveContext(r, contextID)
		if err != nil {
			logger.Errorw("context lookup failed", "context_id", contextID, "error", err)
			jsonrpc.WriteError(w, jsonrpc.InternalError, "Internal error")
			return
		}
		if record == nil || !record.Active {
			WriteDiscoveryUnauthorized(w, m.cfg, baseURL, contextID, "Unknown or inactive context")
			return
		}

		// Tokens in query strings are forbidden outright.
		q := r.URL.Query()
		if q.Get("access_token") != "" || q.Get("token") != "" {
			WriteDiscoveryUnauthorized(w, m.cfg, baseURL, contextID, "Tokens must not be passed in the query string")
			return
		}

		bearer := bearerToken(r)
		if bearer == "" {
			WriteDiscoveryUnauthorized(w, m.cfg, baseURL, contextID, "Authentication required")
			return
		}

		token, err := m.store.ValidateToken(r.Context(), bearer)
		if err != nil {
			logger.Errorw("token validation failed", "error", err)
			jsonrpc.WriteError(w, jsonrpc.InternalError, "Internal error")
			return
		}
		if token == nil {
			WriteDiscoveryUnauthorized(w, m.cfg, baseURL, contextID, "Invalid or expired token")
			return
		}

		for _, scope := range m.cfg.Auth.RequiredScopes {
			if !token.HasScope(scope) {
				telemetry.AuthFailures.Inc()
				w.Header().Set("WWW-Authenticate",
					`Bearer realm="MCP Server", error="insufficient_scope", scope="`+strings.Join(m.cfg.Auth.RequiredScopes, " ")+`"`)
				jsonrpc.WriteJSON(w, http.StatusForbidden,
					jsonrpc.NewErrorResponse(nil, jsonrpc.AuthFailure, "Insufficient scope"))
				return
			}
		}

		if version == protocol.V20250618 {
			resource := ResourceURL(baseURL, contextID)
			if token.Resource != resource || !token.HasAudience(resource) {
				WriteDiscoveryUnauthorized(w, m.cfg, baseURL, contextID, "Token not bound to this resource")
				return
			}
			if header := r.Header.Get("MCP-Protocol-Version"); header != version {
				jsonrpc.WriteError(w, jsonrpc.InvalidRequest, "MCP-Protocol-Version header must match the negotiated version")
				return
			}
		}

		rc := &RequestContext{
			Tenant:          record,
			Token:           token,
			ContextID:       contextID,
			UserID:          token.UserID,
			BaseURL:         baseURL,
			ProtocolVersion: version,
			SessionID:       sessionID,
		}
		next.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
	})
}

// contextID prefers the route parameter and falls back to the first
// UUID segment of the path.
func (*Middleware) contextID(r *http.Request) string {
	if id := chi.URLParam(r, "contextID"); id != "" {
		return id
	}
	return uuidSegment.FindString(r.URL.Path)
}

func (*Middleware) sessionID(r *http.Request) string {
	if id := r.Header.Get("Mcp-Session-Id"); id != "" {
		return id
	}
	return chi.URLParam(r, "sessionID")
}

// protocolVersion resolves the wire revision governing this request:
// the session's stored version when a session exists, else the
// MCP-Protocol-Version header, else the oldest supported revision.
func (m *Middleware) protocolVersion(r *http.Request, sessionID string) string {
	if sessionID != "" {
		if v := m.versions.Resolve(r.Context(), sessionID); v != "" {
			return v
		}
	}
	if header := r.Header.Get("MCP-Protocol-Version"); header != "" {
		return m.versions.Negotiate(header)
	}
	return m.versions.Oldest()
}

// resolveContext tries each configured context type in order and
// returns the first record found.
func (m *Middleware) resolveContext(r *http.Request, contextID string) (*storage.ContextRecord, error) {
	if contextID == "" {
		return nil, nil
	}
	for _, contextType := range m.cfg.Auth.ContextTypes {
		record, err := m.store.GetContextData(r.Context(), contextID, contextType)
		if err != nil {
			return nil, err
		}
		if record != nil {
			return record, nil
		}
	}
	return nil, nil
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

// isInitialize sniffs the request body for an initialize call and
// rewinds the stream so the dispatcher sees the full payload. Only the
// sniffed prefix is buffered; anything past it stays unread on the
// original body.
func isInitialize(r *http.Request) bool {
	if r.Method != http.MethodPost || r.Body == nil {
		return false
	}
	body := r.Body
	sniffed, err := io.ReadAll(io.LimitReader(body, sniffLimit))
	r.Body = rewoundBody{io.MultiReader(bytes.NewReader(sniffed), body), body}
	if err != nil {
		return false
	}
	return gjson.GetBytes(sniffed, "method").String() == "initialize"
}

// rewoundBody stitches the sniffed prefix back in front of the unread
// remainder while keeping the original closer.
type rewoundBody struct {
	io.Reader
	io.Closer
}
