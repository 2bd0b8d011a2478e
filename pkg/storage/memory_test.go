// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemorySessionLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()

	sess := &Session{
		ID:              "2025-06-18_deadbeef",
		ProtocolVersion: "2025-06-18",
		ContextID:       "tenant-1",
		Data:            map[string]any{"client": "inspector"},
	}
	require.NoError(t, s.StoreSession(ctx, sess, time.Hour))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2025-06-18", got.ProtocolVersion)
	assert.Equal(t, "tenant-1", got.ContextID)
	assert.False(t, got.ExpiresAt.IsZero())

	// Mutating the returned copy must not leak into the store.
	got.Data["client"] = "mutated"
	again, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "inspector", again.Data["client"])

	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	gone, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestMemorySessionExpiry(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreSession(ctx, &Session{ID: "2024-11-05_aa"}, -time.Second))

	got, err := s.GetSession(ctx, "2024-11-05_aa")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryTouchSession(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreSession(ctx, &Session{ID: "2025-06-18_cc"}, time.Minute))
	before, err := s.GetSession(ctx, "2025-06-18_cc")
	require.NoError(t, err)

	touched, err := s.TouchSession(ctx, "2025-06-18_cc", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, touched)
	assert.True(t, touched.ExpiresAt.After(before.ExpiresAt))

	after, err := s.GetSession(ctx, "2025-06-18_cc")
	require.NoError(t, err)
	assert.True(t, after.ExpiresAt.After(before.ExpiresAt))

	// Unknown and expired sessions do not come back to life.
	missing, err := s.TouchSession(ctx, "2025-06-18_nope", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.StoreSession(ctx, &Session{ID: "2025-06-18_dd"}, -time.Second))
	dead, err := s.TouchSession(ctx, "2025-06-18_dd", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, dead)
}

func TestMemoryMessageQueueFIFO(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()
	const sid = "2025-03-26_bb"

	first, err := s.StoreMessage(ctx, sid, []byte(`{"id":1}`), "")
	require.NoError(t, err)
	second, err := s.StoreMessage(ctx, sid, []byte(`{"id":2}`), "")
	require.NoError(t, err)
	third, err := s.StoreMessage(ctx, sid, []byte(`{"id":3}`), "")
	require.NoError(t, err)
	assert.Less(t, first, second)
	assert.Less(t, second, third)

	msgs, err := s.GetMessages(ctx, sid)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []byte(`{"id":1}`), msgs[0].Data)
	assert.Equal(t, []byte(`{"id":3}`), msgs[2].Data)

	// Deleting the middle entry preserves order of the rest.
	require.NoError(t, s.DeleteMessage(ctx, second))
	msgs, err = s.GetMessages(ctx, sid)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first, msgs[0].ID)
	assert.Equal(t, third, msgs[1].ID)

	// Unknown ids are a no-op.
	require.NoError(t, s.DeleteMessage(ctx, 99999))

	require.NoError(t, s.DeleteSessionMessages(ctx, sid))
	msgs, err = s.GetMessages(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryContextRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreContext(ctx, &ContextRecord{
		ID:     "acme",
		Type:   "organization",
		Name:   "Acme Corp",
		Active: true,
	}))

	got, err := s.GetContextData(ctx, "acme", "organization")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Active)

	// Same id under a different type is a distinct record.
	other, err := s.GetContextData(ctx, "acme", "user")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestMemoryAuthorizationCodeSingleUse(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()

	code := &AuthorizationCode{
		Code:                "abc123",
		ClientID:            "client-1",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, s.StoreAuthorizationCode(ctx, code))

	got, err := s.ConsumeAuthorizationCode(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "client-1", got.ClientID)

	// Second consume fails: the code is single use.
	again, err := s.ConsumeAuthorizationCode(ctx, "abc123")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestMemoryAuthorizationCodeExpired(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreAuthorizationCode(ctx, &AuthorizationCode{
		Code:      "expired",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	got, err := s.ConsumeAuthorizationCode(ctx, "expired")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryTokenValidation(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreAccessToken(ctx, &AccessToken{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ClientID:     "client-1",
		Scope:        "mcp:read mcp:write",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	got, err := s.ValidateToken(ctx, "at-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.HasScope("mcp:write"))

	// Refresh token values never validate as access tokens.
	byRefresh, err := s.ValidateToken(ctx, "rt-1")
	require.NoError(t, err)
	assert.Nil(t, byRefresh)

	unknown, err := s.ValidateToken(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestMemoryRevokeByEitherValue(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreAccessToken(ctx, &AccessToken{
		AccessToken:  "at-a",
		RefreshToken: "rt-a",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
	require.NoError(t, s.StoreAccessToken(ctx, &AccessToken{
		AccessToken:  "at-b",
		RefreshToken: "rt-b",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	// Revoke one pair by access value, the other by refresh value.
	require.NoError(t, s.RevokeToken(ctx, "at-a"))
	require.NoError(t, s.RevokeToken(ctx, "rt-b"))

	for _, at := range []string{"at-a", "at-b"} {
		got, err := s.ValidateToken(ctx, at)
		require.NoError(t, err)
		assert.Nil(t, got, "%s should be revoked", at)
	}

	// Revoking an unknown token still succeeds.
	require.NoError(t, s.RevokeToken(ctx, "never-issued"))
}

func TestMemoryRefreshRotation(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreAccessToken(ctx, &AccessToken{
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		ClientID:     "client-1",
		Scope:        "mcp:read",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	next := &AccessToken{
		AccessToken:  "at-new",
		RefreshToken: "rt-new",
		ClientID:     "client-1",
		Scope:        "mcp:read",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	old, err := s.RotateRefreshToken(ctx, "rt-old", next)
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, "at-old", old.AccessToken)

	// The old pair no longer authorizes anything.
	gone, err := s.ValidateToken(ctx, "at-old")
	require.NoError(t, err)
	assert.Nil(t, gone)

	// The replacement does.
	fresh, err := s.ValidateToken(ctx, "at-new")
	require.NoError(t, err)
	require.NotNil(t, fresh)

	// Replay of the rotated refresh token fails.
	replay, err := s.RotateRefreshToken(ctx, "rt-old", &AccessToken{AccessToken: "at-evil"})
	require.NoError(t, err)
	assert.Nil(t, replay)
	stolen, err := s.ValidateToken(ctx, "at-evil")
	require.NoError(t, err)
	assert.Nil(t, stolen)
}

func TestMemoryUsers(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreUser(ctx, &User{ID: "u1", Email: "dev@example.com", Name: "Dev"}))

	byID, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "dev@example.com", byID.Email)

	byEmail, err := s.GetUserByEmail(ctx, "dev@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, "u1", byEmail.ID)

	missing, err := s.GetUserByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryClientResponses(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreClientResponse(ctx, "srv_1", []byte(`{"result":{}}`)))

	got, err := s.GetClientResponse(ctx, "srv_1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"result":{}}`), got)

	missing, err := s.GetClientResponse(ctx, "srv_2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryCleanup(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()

	// An expired session with two queued messages, an expired code and
	// an expired token.
	require.NoError(t, s.StoreSession(ctx, &Session{ID: "2024-11-05_old"}, -time.Minute))
	_, err := s.StoreMessage(ctx, "2024-11-05_old", []byte(`{}`), "")
	require.NoError(t, err)
	_, err = s.StoreMessage(ctx, "2024-11-05_old", []byte(`{}`), "")
	require.NoError(t, err)
	require.NoError(t, s.StoreAuthorizationCode(ctx, &AuthorizationCode{
		Code:      "stale",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, s.StoreAccessToken(ctx, &AccessToken{
		AccessToken: "at-stale",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}))

	// Live entries survive.
	require.NoError(t, s.StoreSession(ctx, &Session{ID: "2025-06-18_live"}, time.Hour))

	removed, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, removed)

	live, err := s.GetSession(ctx, "2025-06-18_live")
	require.NoError(t, err)
	assert.NotNil(t, live)

	// Idempotent: nothing left to sweep.
	removed, err = s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestMemoryCleanupOrphanQueues(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()

	// Messages queued against an id that has no session record.
	_, err := s.StoreMessage(ctx, "2025-06-18_ghost", []byte(`{}`), "")
	require.NoError(t, err)
	_, err = s.StoreMessage(ctx, "2025-06-18_ghost", []byte(`{}`), "")
	require.NoError(t, err)

	require.NoError(t, s.StoreSession(ctx, &Session{ID: "2025-06-18_live"}, time.Hour))
	_, err = s.StoreMessage(ctx, "2025-06-18_live", []byte(`{}`), "")
	require.NoError(t, err)

	removed, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	orphans, err := s.GetMessages(ctx, "2025-06-18_ghost")
	require.NoError(t, err)
	assert.Empty(t, orphans)

	kept, err := s.GetMessages(ctx, "2025-06-18_live")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestMemoryOAuthClientRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreOAuthClient(ctx, &Client{
		ID:           "client-1",
		Name:         "Inspector",
		RedirectURIs: []string{"http://localhost:6274/callback"},
		GrantTypes:   []string{"authorization_code", "refresh_token"},
	}))

	got, err := s.GetOAuthClient(ctx, "client-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Public())
	assert.True(t, got.HasRedirectURI("http://localhost:6274/callback"))
	assert.False(t, got.HasRedirectURI("http://localhost:6274/callback/"))

	missing, err := s.GetOAuthClient(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
