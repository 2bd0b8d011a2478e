// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/storage"
)

// oobRedirectURI is the out-of-band redirect URI: the code is shown to
// the user instead of being delivered by redirect.
const oobRedirectURI = "urn:ietf:wg:oauth:2.0:oob"

var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorize {{.ClientName}}</title></head>
<body>
  <h1>Authorize access</h1>
  <p><strong>{{.ClientName}}</strong> is requesting access{{if .Scope}} with scope <code>{{.Scope}}</code>{{end}}.</p>
  {{if not .Authenticated}}<p>Sign in to continue.</p>{{end}}
  <form method="POST" action="/oauth/consent">
    <button type="submit" name="action" value="allow"{{if not .Authenticated}} disabled{{end}}>Allow</button>
    <button type="submit" name="action" value="deny">Deny</button>
  </form>
</body>
</html>
`))

var oobTemplate = template.Must(template.New("oob").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorization code</title></head>
<body>
  <h1>Authorization code</h1>
  <p>Copy this code into your application:</p>
  <pre><code>{{.Code}}</code></pre>
</body>
</html>
`))

// renderConsent writes the minimal consent form for the session's
// pending authorization.
func (s *Server) renderConsent(w http.ResponseWriter, sess *agentSession) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		ClientName    string
		Scope         string
		Authenticated bool
	}{
		ClientName:    sess.Pending.ClientName,
		Scope:         sess.Pending.Scope,
		Authenticated: sess.UserID != "",
	}
	if err := consentTemplate.Execute(w, data); err != nil {
		logger.Errorw("failed to render consent form", "error", err)
	}
}

// ConsentFormHandler re-renders the consent form for an in-flight
// authorization, typically after a social login round trip.
func (s *Server) ConsentFormHandler(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(r)
	if sess == nil || sess.Pending == nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "no authorization in progress")
		return
	}
	s.renderConsent(w, sess)
}

// ConsentHandler handles POST /oauth/consent: the allow branch issues an
// authorization code bound to the pending PKCE challenge and resource,
// the deny branch reports access_denied to the client.
func (s *Server) ConsentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess := s.sessions.get(r)
	if sess == nil || sess.Pending == nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "no authorization in progress")
		return
	}
	pending := sess.Pending

	if r.FormValue("action") != "allow" {
		sess.Pending = nil
		redirectError(w, r, pending.RedirectURI, pending.State, errAccessDenied, "")
		return
	}

	if sess.UserID == "" {
		writeOAuthError(w, http.StatusUnauthorized, errAccessDenied, "authentication required")
		return
	}

	code := &storage.AuthorizationCode{
		Code:                newToken(),
		ClientID:            pending.ClientID,
		RedirectURI:         pending.RedirectURI,
		Scope:               pending.Scope,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
		Resource:            pending.Resource,
		UserID:              sess.UserID,
		TenantID:            pending.TenantID,
		ExpiresAt:           time.Now().Add(s.cfg.OAuth.CodeLifetime),
	}
	if err := s.store.StoreAuthorizationCode(ctx, code); err != nil {
		logger.Errorw("failed to store authorization code", "client_id", pending.ClientID, "error", err)
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "storage unavailable")
		return
	}
	sess.Pending = nil

	if pending.RedirectURI == oobRedirectURI {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := oobTemplate.Execute(w, struct{ Code string }{code.Code}); err != nil {
			logger.Errorw("failed to render oob page", "error", err)
		}
		return
	}

	u, err := url.Parse(pending.RedirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "invalid redirect_uri")
		return
	}
	q := u.Query()
	q.Set("code", code.Code)
	if pending.State != "" {
		q.Set("state", pending.State)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}
