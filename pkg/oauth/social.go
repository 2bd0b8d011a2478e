// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/storage"
)

// maxProfileBytes bounds the provider userinfo response.
const maxProfileBytes = 1 << 20

// SocialProvider describes one upstream identity provider. The code
// exchange and profile fetch go through the standard oauth2 config;
// EmailPath and NamePath address the profile JSON.
type SocialProvider struct {
	Name        string
	Config      *oauth2.Config
	UserInfoURL string
	EmailPath   string
	NamePath    string
}

// SocialLoginHandler starts a social login round trip. The user-agent
// session id travels as the state parameter so the callback can find the
// in-flight authorization again.
func (s *Server) SocialLoginHandler(w http.ResponseWriter, r *http.Request) {
	provider := s.providers[chi.URLParam(r, "provider")]
	if provider == nil {
		writeOAuthError(w, http.StatusNotFound, errInvalidRequest, "unknown provider")
		return
	}

	sess := s.sessions.ensure(w, r)
	http.Redirect(w, r, provider.Config.AuthCodeURL(sess.ID), http.StatusFound)
}

// SocialCallbackHandler handles GET /oauth/{provider}/callback: exchange
// the provider code for a profile, map the email onto a user record, put
// the user on the user-agent session and resume the consent step.
func (s *Server) SocialCallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	provider := s.providers[chi.URLParam(r, "provider")]
	if provider == nil {
		writeOAuthError(w, http.StatusNotFound, errInvalidRequest, "unknown provider")
		return
	}

	sess := s.sessions.byID(r.URL.Query().Get("state"))
	if sess == nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "login session expired")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeOAuthError(w, http.StatusBadRequest, errAccessDenied, "provider denied the request")
		return
	}

	token, err := provider.Config.Exchange(ctx, code)
	if err != nil {
		logger.Errorw("provider code exchange failed", "provider", provider.Name, "error", err)
		writeOAuthError(w, http.StatusBadGateway, errInvalidGrant, "provider exchange failed")
		return
	}

	email, name, err := provider.fetchProfile(r, token)
	if err != nil {
		logger.Errorw("profile fetch failed", "provider", provider.Name, "error", err)
		writeOAuthError(w, http.StatusBadGateway, errInvalidGrant, "profile fetch failed")
		return
	}
	if email == "" {
		writeOAuthError(w, http.StatusBadGateway, errInvalidGrant, "provider profile has no email")
		return
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "storage unavailable")
		return
	}
	if user == nil {
		user = &storage.User{
			ID:        uuid.NewString(),
			Email:     email,
			Name:      name,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := s.store.StoreUser(ctx, user); err != nil {
			writeOAuthError(w, http.StatusInternalServerError, "server_error", "storage unavailable")
			return
		}
		logger.Infow("created user from social profile", "provider", provider.Name, "user_id", user.ID)
	}

	sess.UserID = user.ID
	http.Redirect(w, r, "/oauth/consent", http.StatusFound)
}

// fetchProfile reads the provider userinfo document with the freshly
// exchanged token.
func (p *SocialProvider) fetchProfile(r *http.Request, token *oauth2.Token) (string, string, error) {
	client := p.Config.Client(r.Context(), token)
	resp, err := client.Get(p.UserInfoURL)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return "", "", err
	}

	emailPath := p.EmailPath
	if emailPath == "" {
		emailPath = "email"
	}
	namePath := p.NamePath
	if namePath == "" {
		namePath = "name"
	}
	return gjson.GetBytes(body, emailPath).String(), gjson.GetBytes(body, namePath).String(), nil
}
