// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/protocol"
)

// AuthorizeHandler handles GET /oauth/authorize. Client and redirect-URI
// failures answer the user-agent directly; everything after the redirect
// URI is validated goes back to the client via redirect per RFC 6749
// section 4.1.2.1.
func (s *Server) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	clientID := q.Get("client_id")
	if clientID == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "client_id is required")
		return
	}
	client, err := s.store.GetOAuthClient(ctx, clientID)
	if err != nil {
		logger.Errorw("client lookup failed", "client_id", clientID, "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "storage unavailable")
		return
	}
	if client == nil {
		writeOAuthError(w, http.StatusBadRequest, errUnauthorizedClient, "unknown client")
		return
	}

	// Exact match only. A redirect URI that fails this check must never
	// be redirected to.
	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" || !client.HasRedirectURI(redirectURI) {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest,
			"redirect_uri must exactly match a registered value")
		return
	}

	state := q.Get("state")

	if rt := q.Get("response_type"); rt != "code" {
		redirectError(w, r, redirectURI, state, errUnsupportedResponseType,
			"only the authorization code flow is supported")
		return
	}

	challenge := q.Get("code_challenge")
	if challenge == "" {
		redirectError(w, r, redirectURI, state, errInvalidRequest, "PKCE is required")
		return
	}
	if method := q.Get("code_challenge_method"); method != "S256" {
		redirectError(w, r, redirectURI, state, errInvalidRequest,
			"code_challenge_method must be S256")
		return
	}

	resource := q.Get("resource")
	if s.versions.SupportsVersion(protocol.V20250618) {
		if msg := s.validateResource(r, q["resource"]); msg != "" {
			redirectError(w, r, redirectURI, state, errInvalidRequest, msg)
			return
		}
	}

	sess := s.sessions.ensure(w, r)
	sess.Pending = &pendingAuthorization{
		ClientID:            client.ID,
		ClientName:          client.Name,
		RedirectURI:         redirectURI,
		Scope:               q.Get("scope"),
		State:               state,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		Resource:            resource,
		TenantID:            tenantFromResource(resource),
	}

	s.renderConsent(w, sess)
}

// validateResource enforces the RFC 8707 resource parameter: exactly one
// value, a syntactically valid absolute URL targeting this server.
func (s *Server) validateResource(r *http.Request, values []string) string {
	if len(values) == 0 || values[0] == "" {
		return "resource parameter is required"
	}
	if len(values) > 1 {
		return "resource must be a single value"
	}
	resource := values[0]
	if strings.HasPrefix(resource, "[") {
		return "resource must not be a JSON array"
	}
	u, err := url.Parse(resource)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "resource must be an absolute URL"
	}
	base, err := url.Parse(auth.BaseURL(s.cfg, r))
	if err != nil || u.Host != base.Host {
		return "resource must target this server"
	}
	return ""
}

// tenantFromResource extracts the tenant context id from a canonical
// resource URL of the form <base>/mcp/<tenant>.
func tenantFromResource(resource string) string {
	u, err := url.Parse(resource)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 2 && parts[0] == "mcp" {
		return parts[1]
	}
	return ""
}

// redirectError sends the user-agent back to the client with an error
// per RFC 6749 section 4.1.2.1.
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code, description string) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, code, description)
		return
	}
	q := u.Query()
	q.Set("error", code)
	if description != "" {
		q.Set("error_description", description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}
