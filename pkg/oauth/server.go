// SPDX-License-Identifier: Apache-2.0

// Package oauth implements the embedded OAuth 2.1 authorization server:
// authorization-code flow with mandatory PKCE (S256 only), strict
// redirect-URI matching, refresh-token rotation, dynamic client
// registration, token revocation and RFC 8707 resource indicators.
package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/protocol"
	"github.com/mcpgate/mcpgate/pkg/storage"
)

// Server holds the authorization-server endpoints. All durable state
// lives in the shared store; only in-flight user-agent sessions are
// process-local.
type Server struct {
	store     storage.Store
	cfg       *config.Config
	versions  *protocol.Manager
	sessions  *agentSessions
	providers map[string]*SocialProvider
}

// Option configures a Server.
type Option func(*Server)

// WithSocialProvider registers a social login provider under its name.
func WithSocialProvider(p *SocialProvider) Option {
	return func(s *Server) {
		s.providers[p.Name] = p
	}
}

// NewServer creates the authorization server over the shared store.
func NewServer(store storage.Store, cfg *config.Config, versions *protocol.Manager, opts ...Option) *Server {
	s := &Server{
		store:     store,
		cfg:       cfg,
		versions:  versions,
		sessions:  newAgentSessions(),
		providers: make(map[string]*SocialProvider),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes registers the OAuth and discovery endpoints on the router.
func (s *Server) Routes(r chi.Router) {
	ep := s.cfg.OAuth.AuthServer.Endpoints
	r.Get(ep.Authorize, s.AuthorizeHandler)
	r.Get("/oauth/consent", s.ConsentFormHandler)
	r.Post("/oauth/consent", s.ConsentHandler)
	r.Post(ep.Token, s.TokenHandler)
	r.Post(ep.Revoke, s.RevokeHandler)
	r.Post(ep.Register, s.RegisterHandler)
	r.Get("/oauth/{provider}/login", s.SocialLoginHandler)
	r.Get("/oauth/{provider}/callback", s.SocialCallbackHandler)

	r.Get("/.well-known/oauth-authorization-server", s.AuthServerMetadataHandler)
	r.Get("/.well-known/oauth-authorization-server/*", s.AuthServerMetadataHandler)
	r.Get("/.well-known/oauth-protected-resource", s.ProtectedResourceMetadataHandler)
	r.Get("/.well-known/oauth-protected-resource/*", s.ProtectedResourceMetadataHandler)
}

// oauthError is the RFC 6749 section 5.2 error envelope.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// RFC 6749 / RFC 7591 error codes used by the handlers.
const (
	errInvalidRequest          = "invalid_request"
	errInvalidGrant            = "invalid_grant"
	errInvalidClient           = "invalid_client"
	errUnauthorizedClient      = "unauthorized_client"
	errUnsupportedResponseType = "unsupported_response_type"
	errUnsupportedGrantType    = "unsupported_grant_type"
	errAccessDenied            = "access_denied"
	errInvalidClientMetadata   = "invalid_client_metadata"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorw("failed to encode response", "error", err)
	}
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, oauthError{Error: code, ErrorDescription: description})
}

// newToken returns a 256-bit random token value.
func newToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// rand.Read only fails when the OS entropy source is broken.
		panic(err)
	}
	return hex.EncodeToString(b)
}
