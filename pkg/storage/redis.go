// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// DefaultKeyPrefix namespaces every key this store writes.
const DefaultKeyPrefix = "mcpgate:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// connection string.
	URL string

	// KeyPrefix namespaces keys; defaults to DefaultKeyPrefix.
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements Store on Redis, enabling horizontal scaling:
// every instance behind a load balancer sees the same sessions, queues
// and tokens. Expiry is delegated to Redis TTLs.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: prefix}, nil
}

// NewRedisStoreWithClient wraps a pre-configured client. This is useful
// for testing with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Health checks Redis connectivity.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(kind, id string) string {
	return s.keyPrefix + kind + ":" + id
}

// getJSON loads and unmarshals a record, mapping redis.Nil to (false, nil).
func (s *RedisStore) getJSON(ctx context.Context, key string, out any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// -----------------------
// Sessions
// -----------------------

// GetSession returns the session or (nil, nil) when unknown or expired.
func (s *RedisStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	found, err := s.getJSON(ctx, s.key("session", id), &sess)
	if err != nil || !found {
		return nil, err
	}
	return &sess, nil
}

// StoreSession creates or refreshes a session with the given TTL.
func (s *RedisStore) StoreSession(ctx context.Context, session *Session, ttl time.Duration) error {
	now := time.Now()
	stored := session.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.ExpiresAt = now.Add(ttl)
	return s.setJSON(ctx, s.key("session", stored.ID), stored, ttl)
}

// TouchSession slides the session expiry and returns the refreshed
// record, or (nil, nil) when the session is unknown or expired.
func (s *RedisStore) TouchSession(ctx context.Context, id string, ttl time.Duration) (*Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil || sess == nil {
		return nil, err
	}
	now := time.Now()
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(ttl)
	if err := s.setJSON(ctx, s.key("session", id), sess, ttl); err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteSession removes a session and its queued messages.
func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.DeleteSessionMessages(ctx, id); err != nil {
		return err
	}
	return s.client.Del(ctx, s.key("session", id)).Err()
}

// -----------------------
// Message queues
// -----------------------

// messageTTL bounds orphaned queue entries when a session disappears
// without an explicit delete.
const messageTTL = 24 * time.Hour

// GetMessages returns the session's queued envelopes in insertion order.
// Entries whose payload key already expired are pruned from the queue
// lazily.
func (s *RedisStore) GetMessages(ctx context.Context, sessionID string) ([]*QueuedMessage, error) {
	listKey := s.key("msgs", sessionID)
	ids, err := s.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	out := make([]*QueuedMessage, 0, len(ids))
	for _, id := range ids {
		var msg QueuedMessage
		found, err := s.getJSON(ctx, s.key("msg", id), &msg)
		if err != nil {
			return nil, err
		}
		if !found {
			// Payload expired; drop the stale queue entry.
			_ = s.client.LRem(ctx, listKey, 1, id).Err()
			continue
		}
		out = append(out, &msg)
	}
	return out, nil
}

// StoreMessage appends an envelope to the session queue and returns its
// monotonic id.
func (s *RedisStore) StoreMessage(ctx context.Context, sessionID string, data []byte, msgContext string) (int64, error) {
	id, err := s.client.Incr(ctx, s.keyPrefix+"msgseq").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate message id: %w", err)
	}

	msg := &QueuedMessage{
		ID:        id,
		SessionID: sessionID,
		Data:      data,
		Context:   msgContext,
		CreatedAt: time.Now(),
	}
	idStr := strconv.FormatInt(id, 10)
	if err := s.setJSON(ctx, s.key("msg", idStr), msg, messageTTL); err != nil {
		return 0, err
	}
	if err := s.client.RPush(ctx, s.key("msgs", sessionID), idStr).Err(); err != nil {
		// Compensating delete so the payload cannot be orphaned.
		_ = s.client.Del(ctx, s.key("msg", idStr)).Err()
		return 0, fmt.Errorf("failed to enqueue message: %w", err)
	}
	if err := s.client.Expire(ctx, s.key("msgs", sessionID), messageTTL).Err(); err != nil {
		return 0, fmt.Errorf("failed to set queue expiry: %w", err)
	}
	return id, nil
}

// DeleteMessage removes a single queued envelope. Unknown ids are a no-op.
func (s *RedisStore) DeleteMessage(ctx context.Context, messageID int64) error {
	idStr := strconv.FormatInt(messageID, 10)

	var msg QueuedMessage
	found, err := s.getJSON(ctx, s.key("msg", idStr), &msg)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if err := s.client.Del(ctx, s.key("msg", idStr)).Err(); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return s.client.LRem(ctx, s.key("msgs", msg.SessionID), 1, idStr).Err()
}

// DeleteSessionMessages drains every queued envelope for the session.
func (s *RedisStore) DeleteSessionMessages(ctx context.Context, sessionID string) error {
	listKey := s.key("msgs", sessionID)
	ids, err := s.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to list messages: %w", err)
	}
	for _, id := range ids {
		_ = s.client.Del(ctx, s.key("msg", id)).Err()
	}
	return s.client.Del(ctx, listKey).Err()
}

// -----------------------
// Tenant contexts
// -----------------------

// GetContextData returns the tenant context or (nil, nil) when unknown.
func (s *RedisStore) GetContextData(ctx context.Context, contextID, contextType string) (*ContextRecord, error) {
	var record ContextRecord
	found, err := s.getJSON(ctx, s.key("context", contextKey(contextType, contextID)), &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

// StoreContext creates or replaces a tenant context. Contexts never
// expire.
func (s *RedisStore) StoreContext(ctx context.Context, record *ContextRecord) error {
	return s.setJSON(ctx, s.key("context", contextKey(record.Type, record.ID)), record, 0)
}

// -----------------------
// OAuth clients
// -----------------------

// GetOAuthClient returns the client or (nil, nil) when unknown.
func (s *RedisStore) GetOAuthClient(ctx context.Context, clientID string) (*Client, error) {
	var client Client
	found, err := s.getJSON(ctx, s.key("client", clientID), &client)
	if err != nil || !found {
		return nil, err
	}
	return &client, nil
}

// StoreOAuthClient registers or replaces a client. Clients never
// expire; dynamic registrations are cheap and revocable by deletion.
func (s *RedisStore) StoreOAuthClient(ctx context.Context, client *Client) error {
	return s.setJSON(ctx, s.key("client", client.ID), client, 0)
}

// -----------------------
// Authorization codes
// -----------------------

// StoreAuthorizationCode persists a fresh authorization code with a TTL
// matching its expiry.
func (s *RedisStore) StoreAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	ttl := time.Until(code.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.setJSON(ctx, s.key("code", code.Code), code, ttl)
}

// ConsumeAuthorizationCode atomically claims the code via GETDEL. A
// second consume sees redis.Nil, so replays lose the race by
// construction.
func (s *RedisStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	data, err := s.client.GetDel(ctx, s.key("code", code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	var record AuthorizationCode
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	if record.Consumed || time.Now().After(record.ExpiresAt) {
		return nil, nil
	}
	record.Consumed = true
	return &record, nil
}

// -----------------------
// Tokens
// -----------------------

// StoreAccessToken persists an issued token pair plus a refresh index
// entry for rotation and revocation by refresh value.
func (s *RedisStore) StoreAccessToken(ctx context.Context, token *AccessToken) error {
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	stored := token.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	if err := s.setJSON(ctx, s.key("token", stored.AccessToken), stored, ttl); err != nil {
		return err
	}
	if stored.RefreshToken != "" {
		if err := s.client.Set(ctx, s.key("refresh", stored.RefreshToken), stored.AccessToken, ttl).Err(); err != nil {
			// Compensating delete so the pair is never half-stored.
			_ = s.client.Del(ctx, s.key("token", stored.AccessToken)).Err()
			return fmt.Errorf("failed to index refresh token: %w", err)
		}
	}
	return nil
}

// ValidateToken returns the token record, or (nil, nil) for anything
// revoked, expired or unknown.
func (s *RedisStore) ValidateToken(ctx context.Context, token string) (*AccessToken, error) {
	var record AccessToken
	found, err := s.getJSON(ctx, s.key("token", token), &record)
	if err != nil || !found {
		return nil, err
	}
	if !record.Valid(time.Now()) {
		return nil, nil
	}
	return &record, nil
}

// RevokeToken marks the record identified by an access or refresh token
// value as revoked. Unknown tokens are a no-op.
func (s *RedisStore) RevokeToken(ctx context.Context, token string) error {
	access := token
	var record AccessToken
	found, err := s.getJSON(ctx, s.key("token", access), &record)
	if err != nil {
		return err
	}
	if !found {
		// Try the refresh index.
		access, err = s.client.Get(ctx, s.key("refresh", token)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return fmt.Errorf("failed to look up refresh token: %w", err)
		}
		found, err = s.getJSON(ctx, s.key("token", access), &record)
		if err != nil || !found {
			return err
		}
	}

	record.Revoked = true
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return s.client.Del(ctx, s.key("token", access)).Err()
	}
	// Keep the revoked record until natural expiry so validation keeps
	// rejecting it on every instance.
	return s.setJSON(ctx, s.key("token", access), &record, ttl)
}

// RotateRefreshToken claims the refresh index entry via GETDEL, revokes
// the old pair and stores the replacement. Concurrent rotations against
// the same refresh token race on the GETDEL; the loser gets (nil, nil).
func (s *RedisStore) RotateRefreshToken(ctx context.Context, refreshToken string, next *AccessToken) (*AccessToken, error) {
	access, err := s.client.GetDel(ctx, s.key("refresh", refreshToken)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim refresh token: %w", err)
	}

	var old AccessToken
	found, err := s.getJSON(ctx, s.key("token", access), &old)
	if err != nil {
		return nil, err
	}
	if !found || old.Revoked {
		return nil, nil
	}

	old.Revoked = true
	if ttl := time.Until(old.ExpiresAt); ttl > 0 {
		if err := s.setJSON(ctx, s.key("token", access), &old, ttl); err != nil {
			return nil, err
		}
	}
	if err := s.StoreAccessToken(ctx, next); err != nil {
		return nil, err
	}
	return &old, nil
}

// -----------------------
// Users
// -----------------------

// GetUser returns the user or (nil, nil) when unknown.
func (s *RedisStore) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	found, err := s.getJSON(ctx, s.key("user", id), &user)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail returns the user with the given email, or (nil, nil).
func (s *RedisStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	id, err := s.client.Get(ctx, s.key("useremail", email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up user email: %w", err)
	}
	return s.GetUser(ctx, id)
}

// StoreUser creates or updates a user account with an email index.
func (s *RedisStore) StoreUser(ctx context.Context, user *User) error {
	stored := user.Clone()
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	if err := s.setJSON(ctx, s.key("user", stored.ID), stored, 0); err != nil {
		return err
	}
	if stored.Email != "" {
		return s.client.Set(ctx, s.key("useremail", stored.Email), stored.ID, 0).Err()
	}
	return nil
}

// -----------------------
// Correlation entries
// -----------------------

// StoreClientResponse records a client response keyed by the
// server-generated request id.
func (s *RedisStore) StoreClientResponse(ctx context.Context, requestID string, payload []byte) error {
	return s.client.Set(ctx, s.key("resp", requestID), payload, correlationTTL).Err()
}

// GetClientResponse returns the recorded payload or (nil, nil).
func (s *RedisStore) GetClientResponse(ctx context.Context, requestID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key("resp", requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get client response: %w", err)
	}
	return data, nil
}

// -----------------------
// Cleanup
// -----------------------

// Cleanup is a no-op: every Redis key carries a TTL and expires on its
// own. It exists to satisfy Store and always reports zero removals.
func (*RedisStore) Cleanup(_ context.Context) (int, error) {
	return 0, nil
}

// Compile-time interface compliance check
var _ Store = (*RedisStore)(nil)
