// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionCookie names the user-agent session cookie.
const sessionCookie = "mcpgate_ua"

// agentSessionTTL bounds how long an in-flight authorization may sit in
// a browser before the user completes consent.
const agentSessionTTL = 30 * time.Minute

// pendingAuthorization is an authorize request parked while the
// user-agent works through login and consent.
type pendingAuthorization struct {
	ClientID            string
	ClientName          string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
	TenantID            string
}

// agentSession is the per-browser state of the authorization UI.
type agentSession struct {
	ID        string
	UserID    string
	Pending   *pendingAuthorization
	ExpiresAt time.Time
}

// agentSessions is an in-process store of user-agent sessions. These are
// deliberately not persisted: an interrupted consent flow simply starts
// over at /authorize.
type agentSessions struct {
	mu       sync.Mutex
	sessions map[string]*agentSession
}

func newAgentSessions() *agentSessions {
	return &agentSessions{sessions: make(map[string]*agentSession)}
}

// get returns the live session identified by the request cookie, or nil.
func (a *agentSessions) get(r *http.Request) *agentSession {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	sess := a.sessions[c.Value]
	if sess == nil {
		return nil
	}
	if time.Now().After(sess.ExpiresAt) {
		delete(a.sessions, c.Value)
		return nil
	}
	return sess
}

// ensure returns the request's session, creating one and setting the
// cookie when absent.
func (a *agentSessions) ensure(w http.ResponseWriter, r *http.Request) *agentSession {
	if sess := a.get(r); sess != nil {
		return sess
	}

	sess := &agentSession{
		ID:        uuid.NewString(),
		ExpiresAt: time.Now().Add(agentSessionTTL),
	}

	a.mu.Lock()
	a.sessions[sess.ID] = sess
	a.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(agentSessionTTL / time.Second),
	})
	return sess
}

// byID returns the live session with the given id, or nil. Used by
// social callbacks that round-trip the id through the state parameter.
func (a *agentSessions) byID(id string) *agentSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	sess := a.sessions[id]
	if sess == nil || time.Now().After(sess.ExpiresAt) {
		delete(a.sessions, id)
		return nil
	}
	return sess
}
