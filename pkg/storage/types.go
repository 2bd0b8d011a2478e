// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Session is an initialized protocol conversation. The id prefix before
// the first underscore always equals ProtocolVersion.
type Session struct {
	ID              string         `json:"id"`
	ProtocolVersion string         `json:"protocol_version"`
	ContextID       string         `json:"context_id,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
}

// Clone returns a defensive copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Data = maps.Clone(s.Data)
	return &c
}

// QueuedMessage is one JSON-RPC envelope awaiting stream delivery.
// Entries are FIFO per session and deleted after the transport writes
// them.
type QueuedMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Data      []byte    `json:"data"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ContextRecord is a tenant context, looked up on every authenticated
// request. The core only cares about Active and Name; Data is opaque.
type ContextRecord struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Active bool           `json:"active"`
	Data   map[string]any `json:"data,omitempty"`
}

// Clone returns a defensive copy.
func (c *ContextRecord) Clone() *ContextRecord {
	if c == nil {
		return nil
	}
	out := *c
	out.Data = maps.Clone(c.Data)
	return &out
}

// Client is a registered OAuth client. An empty Secret marks a public
// client. RedirectURIs form an exact-match set.
type Client struct {
	ID            string    `json:"client_id"`
	Secret        string    `json:"client_secret,omitempty"`
	Name          string    `json:"client_name"`
	RedirectURIs  []string  `json:"redirect_uris"`
	GrantTypes    []string  `json:"grant_types"`
	ResponseTypes []string  `json:"response_types"`
	CreatedAt     time.Time `json:"created_at"`
}

// Public reports whether the client has no secret.
func (c *Client) Public() bool {
	return c.Secret == ""
}

// HasRedirectURI reports whether uri is bit-equal to a registered entry.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// Clone returns a defensive copy.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	out := *c
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.GrantTypes = slices.Clone(c.GrantTypes)
	out.ResponseTypes = slices.Clone(c.ResponseTypes)
	return &out
}

// AuthorizationCode is a short-lived single-use grant. Once Consumed is
// set (or ExpiresAt passes) every exchange against it fails.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope,omitempty"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	Resource            string    `json:"resource,omitempty"`
	UserID              string    `json:"user_id"`
	TenantID            string    `json:"tenant_id,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
	Consumed            bool      `json:"consumed"`
}

// Clone returns a defensive copy.
func (a *AuthorizationCode) Clone() *AuthorizationCode {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

// AccessToken is an issued access/refresh token pair with its RFC 8707
// resource binding. A revoked, expired or unknown token never validates.
type AccessToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ClientID     string    `json:"client_id"`
	Scope        string    `json:"scope,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	TenantID     string    `json:"tenant_id,omitempty"`
	Resource     string    `json:"resource,omitempty"`
	Audience     []string  `json:"aud,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Revoked      bool      `json:"revoked"`
	CreatedAt    time.Time `json:"created_at"`
}

// Valid reports whether the token authorizes anything at the given
// instant.
func (t *AccessToken) Valid(now time.Time) bool {
	return t != nil && !t.Revoked && now.Before(t.ExpiresAt)
}

// HasScope reports whether the space-delimited scope set contains s.
func (t *AccessToken) HasScope(s string) bool {
	return slices.Contains(strings.Fields(t.Scope), s)
}

// HasAudience reports whether aud is listed in the token audience.
func (t *AccessToken) HasAudience(aud string) bool {
	return slices.Contains(t.Audience, aud)
}

// Clone returns a defensive copy.
func (t *AccessToken) Clone() *AccessToken {
	if t == nil {
		return nil
	}
	out := *t
	out.Audience = slices.Clone(t.Audience)
	return &out
}

// User is an account mapped from a social identity provider.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a defensive copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	return &out
}
