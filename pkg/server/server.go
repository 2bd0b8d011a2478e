// SPDX-License-Identifier: Apache-2.0

// Package server wires the HTTP surface: the tenant MCP endpoints with
// their verb dispatch and guards, the embedded authorization server,
// discovery, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/jsonrpc"
	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/mcp"
	"github.com/mcpgate/mcpgate/pkg/oauth"
	"github.com/mcpgate/mcpgate/pkg/protocol"
	"github.com/mcpgate/mcpgate/pkg/storage"
	"github.com/mcpgate/mcpgate/pkg/telemetry"
	"github.com/mcpgate/mcpgate/pkg/transport"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownGrace     = 10 * time.Second

	// maxBodyBytes bounds a POST body. Audio content is base64 in the
	// envelope, so the cap sits well above the 50 MiB decoded limit.
	maxBodyBytes = 128 << 20
)

// sessionSegment is the wire format of a session id path segment.
var sessionSegment = regexp.MustCompile(`^[A-Za-z0-9.-]+_[A-Za-z0-9]+$`)

// Server is the assembled HTTP front end.
type Server struct {
	cfg        *config.Config
	store      storage.Store
	versions   *protocol.Manager
	dispatcher *mcp.Dispatcher
	streamer   *transport.Streamer
	authn      *auth.Middleware
	oauth      *oauth.Server
}

// New assembles the server from its collaborators.
func New(
	cfg *config.Config,
	store storage.Store,
	versions *protocol.Manager,
	dispatcher *mcp.Dispatcher,
	streamer *transport.Streamer,
	authn *auth.Middleware,
	oauthServer *oauth.Server,
) *Server {
	return &Server{
		cfg:        cfg,
		store:      store,
		versions:   versions,
		dispatcher: dispatcher,
		streamer:   streamer,
		authn:      authn,
		oauth:      oauthServer,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimiddleware.RequestID,
		chimiddleware.Recoverer,
	)

	s.oauth.Routes(r)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/mcp", func(r chi.Router) {
		r.Use(s.corsMiddleware)
		r.Use(s.rebindingGuard)
		r.Route("/{contextID}", func(r chi.Router) {
			r.Use(s.authn.Wrap)
			r.Handle("/", http.HandlerFunc(s.handleMCP))
			r.Handle("/{sessionID}", http.HandlerFunc(s.handleMCP))
		})
	})

	return r
}

// Serve runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}

// corsMiddleware answers preflights and stamps permissive CORS headers
// on MCP responses.
func (*Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id, MCP-Protocol-Version")
		h.Set("Access-Control-Expose-Headers", "Mcp-Session-Id, MCP-Protocol-Version")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rebindingGuard rejects requests whose Host is a loopback name while
// the Origin points elsewhere, the DNS-rebinding pattern against local
// deployments.
func (*Server) rebindingGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLoopbackHost(hostname(r.Host)) {
			if origin := r.Header.Get("Origin"); origin != "" {
				u, err := url.Parse(origin)
				if err != nil || !isLoopbackHost(u.Hostname()) {
					jsonrpc.WriteError(w, jsonrpc.InvalidRequest, "Origin does not match loopback host")
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func hostname(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

func isLoopbackHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// handleMCP dispatches on the HTTP verb.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleStream(w, r)
	default:
		jsonrpc.WriteError(w, jsonrpc.HTTPMethodNotAllowed, "Method not allowed")
	}
}

// requestContext returns the middleware-attached context, completing
// the session id from a path segment when neither header nor route
// carried one.
func (s *Server) requestContext(r *http.Request) *auth.RequestContext {
	rc, ok := auth.FromContext(r.Context())
	if !ok {
		return nil
	}
	if rc.SessionID == "" {
		if sid := sessionFromPath(r.URL.Path); sid != "" {
			rc.SessionID = sid
			if v := s.versions.Resolve(r.Context(), sid); v != "" {
				rc.ProtocolVersion = v
			}
		}
	}
	return rc
}

// sessionFromPath returns the first path segment matching the session
// id wire format.
func sessionFromPath(path string) string {
	for _, segment := range strings.Split(path, "/") {
		if segment != "" && strings.Contains(segment, "_") && sessionSegment.MatchString(segment) {
			return segment
		}
	}
	return ""
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	rc := s.requestContext(r)
	if rc == nil {
		jsonrpc.WriteError(w, jsonrpc.AuthRequired, "Authentication required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		jsonrpc.WriteError(w, jsonrpc.InternalError, "Failed to read request body")
		return
	}
	if !json.Valid(body) {
		jsonrpc.WriteError(w, jsonrpc.ParseError, "Parse error")
		return
	}
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		jsonrpc.WriteError(w, jsonrpc.InvalidRequest, "Payload must be a JSON object or array")
		return
	}

	s.dispatcher.Dispatch(w, r, body, rc)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	rc := s.requestContext(r)
	if rc == nil || rc.SessionID == "" {
		jsonrpc.WriteError(w, jsonrpc.SessionRequired, "Session required")
		return
	}

	session, err := s.store.GetSession(r.Context(), rc.SessionID)
	if err != nil {
		logger.Errorw("session lookup failed", "session_id", rc.SessionID, "error", err)
		jsonrpc.WriteError(w, jsonrpc.InternalError, "Internal error")
		return
	}
	if session == nil {
		jsonrpc.WriteError(w, jsonrpc.SessionRequired, "Unknown or expired session")
		return
	}
	rc.ProtocolVersion = session.ProtocolVersion

	if rc.ProtocolVersion == protocol.V20241105 {
		s.streamer.ServeSSE(w, r, rc)
		return
	}
	s.streamer.ServeStreamable(w, r, rc)
}

// handleHealth reports storage availability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Health(r.Context()); err != nil {
		jsonrpc.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	jsonrpc.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
