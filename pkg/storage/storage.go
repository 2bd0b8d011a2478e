// SPDX-License-Identifier: Apache-2.0

// Package storage defines the persistence contract the core depends on,
// with in-memory and Redis implementations. Lookups return (nil, nil)
// for "not found" rather than an error; errors signal backend failure.
package storage

import (
	"context"
	"time"
)

// Store is the single persistence contract. Implementations must be safe
// for concurrent use and must keep the atomic operations
// (ConsumeAuthorizationCode, RotateRefreshToken) atomic.
type Store interface {
	// Sessions. TouchSession slides the expiry of a live session and
	// returns the refreshed record, or (nil, nil) when the session is
	// unknown or expired.
	GetSession(ctx context.Context, id string) (*Session, error)
	StoreSession(ctx context.Context, session *Session, ttl time.Duration) error
	TouchSession(ctx context.Context, id string, ttl time.Duration) (*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Per-session message queues, FIFO by insertion.
	GetMessages(ctx context.Context, sessionID string) ([]*QueuedMessage, error)
	StoreMessage(ctx context.Context, sessionID string, data []byte, msgContext string) (int64, error)
	DeleteMessage(ctx context.Context, messageID int64) error
	DeleteSessionMessages(ctx context.Context, sessionID string) error

	// Tenant contexts
	GetContextData(ctx context.Context, contextID, contextType string) (*ContextRecord, error)
	StoreContext(ctx context.Context, record *ContextRecord) error

	// OAuth clients
	GetOAuthClient(ctx context.Context, clientID string) (*Client, error)
	StoreOAuthClient(ctx context.Context, client *Client) error

	// Authorization codes. ConsumeAuthorizationCode atomically marks the
	// code used and returns it; a consumed, expired or unknown code
	// returns (nil, nil).
	StoreAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// Tokens. ValidateToken returns (nil, nil) for anything that must not
	// authorize a request. RevokeToken accepts either the access or the
	// refresh token value and always succeeds. RotateRefreshToken
	// atomically revokes the pair identified by refreshToken and stores
	// next; it returns the old record, or (nil, nil) when the refresh
	// token is unknown or already rotated.
	StoreAccessToken(ctx context.Context, token *AccessToken) error
	ValidateToken(ctx context.Context, token string) (*AccessToken, error)
	RevokeToken(ctx context.Context, token string) error
	RotateRefreshToken(ctx context.Context, refreshToken string, next *AccessToken) (*AccessToken, error)

	// Users, for the social-identity trait.
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	StoreUser(ctx context.Context, user *User) error

	// Correlation entries for sampling/roots/elicitation responses,
	// keyed by the server-generated request id.
	StoreClientResponse(ctx context.Context, requestID string, payload []byte) error
	GetClientResponse(ctx context.Context, requestID string) ([]byte, error)

	// Cleanup removes expired sessions, messages and codes, returning
	// the number of entries removed. It is idempotent.
	Cleanup(ctx context.Context) (int, error)

	// Health reports backend availability.
	Health(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
