// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"crypto/subtle"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/storage"
	"github.com/mcpgate/mcpgate/pkg/telemetry"
)

// tokenResponse is the RFC 6749 section 5.1 success envelope.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenHandler handles POST /oauth/token for the authorization_code and
// refresh_token grants.
func (s *Server) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed form body")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.exchangeCode(w, r)
	case "refresh_token":
		s.refreshGrant(w, r)
	default:
		writeOAuthError(w, http.StatusBadRequest, errUnsupportedGrantType,
			"supported grant types are authorization_code and refresh_token")
	}
}

// clientCredentials extracts client_id and client_secret from either the
// form body or HTTP basic auth.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}

// authenticateClient verifies the caller against the registered client.
// Public clients need only their id; confidential clients must present
// the exact secret.
func (s *Server) authenticateClient(r *http.Request, clientID, clientSecret string) (*storage.Client, string) {
	client, err := s.store.GetOAuthClient(r.Context(), clientID)
	if err != nil {
		logger.Errorw("client lookup failed", "client_id", clientID, "error", err)
		return nil, "server_error"
	}
	if client == nil {
		return nil, errInvalidClient
	}
	if !client.Public() {
		if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(clientSecret)) != 1 {
			return nil, errInvalidClient
		}
	}
	return client, ""
}

func (s *Server) exchangeCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := r.PostForm

	clientID, clientSecret := clientCredentials(r)
	if clientID == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "client_id is required")
		return
	}
	client, errCode := s.authenticateClient(r, clientID, clientSecret)
	if errCode != "" {
		status := http.StatusUnauthorized
		if errCode == "server_error" {
			status = http.StatusInternalServerError
		}
		writeOAuthError(w, status, errCode, "client authentication failed")
		return
	}

	codeValue := form.Get("code")
	if codeValue == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "code is required")
		return
	}

	// Atomic consume: a second exchange against the same code finds
	// nothing, whatever instance it lands on.
	code, err := s.store.ConsumeAuthorizationCode(ctx, codeValue)
	if err != nil {
		logger.Errorw("code consumption failed", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "storage unavailable")
		return
	}
	if code == nil || time.Now().After(code.ExpiresAt) {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "authorization code is invalid or expired")
		return
	}
	if code.ClientID != client.ID {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "authorization code was issued to another client")
		return
	}
	if form.Get("redirect_uri") != code.RedirectURI {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "redirect_uri does not match the authorization request")
		return
	}

	verifier := form.Get("code_verifier")
	if verifier == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "code_verifier is required")
		return
	}
	if oauth2.S256ChallengeFromVerifier(verifier) != code.CodeChallenge {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "PKCE verification failed")
		return
	}

	token := &storage.AccessToken{
		AccessToken:  newToken(),
		RefreshToken: newToken(),
		ClientID:     client.ID,
		Scope:        code.Scope,
		UserID:       code.UserID,
		TenantID:     code.TenantID,
		Resource:     code.Resource,
		ExpiresAt:    time.Now().Add(s.cfg.OAuth.TokenLifetime),
		CreatedAt:    time.Now(),
	}
	if code.Resource != "" {
		token.Audience = []string{code.Resource}
	}
	if err := s.store.StoreAccessToken(ctx, token); err != nil {
		logger.Errorw("failed to store access token", "client_id", client.ID, "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "storage unavailable")
		return
	}

	telemetry.TokensIssued.WithLabelValues("authorization_code").Inc()
	s.writeToken(w, token)
}

func (s *Server) refreshGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := r.PostForm

	refreshToken := form.Get("refresh_token")
	if refreshToken == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "refresh_token is required")
		return
	}

	next := &storage.AccessToken{
		AccessToken:  newToken(),
		RefreshToken: newToken(),
		ExpiresAt:    time.Now().Add(s.cfg.OAuth.TokenLifetime),
		CreatedAt:    time.Now(),
	}

	// Rotation atomically claims the refresh token: a replay of the same
	// value finds it gone and fails here.
	old, err := s.store.RotateRefreshToken(ctx, refreshToken, next)
	if err != nil {
		logger.Errorw("refresh rotation failed", "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "storage unavailable")
		return
	}
	if old == nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "refresh token is invalid or already used")
		return
	}

	clientID, clientSecret := clientCredentials(r)
	if clientID != "" && clientID != old.ClientID {
		_ = s.store.RevokeToken(ctx, next.AccessToken)
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "refresh token was issued to another client")
		return
	}
	client, errCode := s.authenticateClient(r, old.ClientID, clientSecret)
	if errCode != "" || client == nil {
		_ = s.store.RevokeToken(ctx, next.AccessToken)
		writeOAuthError(w, http.StatusUnauthorized, errInvalidClient, "client authentication failed")
		return
	}

	// Carry the grant over to the new pair and re-store the enriched
	// record under the same token values.
	next.ClientID = old.ClientID
	next.Scope = old.Scope
	next.UserID = old.UserID
	next.TenantID = old.TenantID
	next.Resource = old.Resource
	next.Audience = old.Audience
	if err := s.store.StoreAccessToken(ctx, next); err != nil {
		logger.Errorw("failed to store rotated token", "client_id", old.ClientID, "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "storage unavailable")
		return
	}

	telemetry.TokensIssued.WithLabelValues("refresh_token").Inc()
	s.writeToken(w, next)
}

func (s *Server) writeToken(w http.ResponseWriter, token *storage.AccessToken) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(token.ExpiresAt) / time.Second),
		RefreshToken: token.RefreshToken,
		Scope:        token.Scope,
	})
}
