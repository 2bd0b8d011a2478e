// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often the background expiry sweep runs.
const DefaultCleanupInterval = time.Minute

// correlationTTL bounds how long a recorded client response is kept.
const correlationTTL = 10 * time.Minute

type correlationEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryStore implements Store with in-memory maps. It is thread-safe
// and suitable for single-instance deployments and tests; production
// deployments that need shared state use RedisStore.
type MemoryStore struct {
	mu sync.RWMutex

	sessions map[string]*Session

	// messages holds per-session FIFO queues; messageIndex maps a
	// message id back to its session for O(1) deletion.
	messages     map[string][]*QueuedMessage
	messageIndex map[int64]string
	nextMessage  int64

	// contexts is keyed by "<type>:<id>".
	contexts map[string]*ContextRecord

	clients map[string]*Client
	codes   map[string]*AuthorizationCode

	// tokens is keyed by access-token value; refreshIndex maps a refresh
	// token to its access token so rotation and revocation by refresh
	// value are O(1).
	tokens       map[string]*AccessToken
	refreshIndex map[string]string

	users      map[string]*User
	emailIndex map[string]string

	responses map[string]*correlationEntry

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

// MemoryStoreOption configures a MemoryStore instance.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets a custom background cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStore creates a MemoryStore with initialized maps and starts
// the background cleanup goroutine.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		sessions:        make(map[string]*Session),
		messages:        make(map[string][]*QueuedMessage),
		messageIndex:    make(map[int64]string),
		contexts:        make(map[string]*ContextRecord),
		clients:         make(map[string]*Client),
		codes:           make(map[string]*AuthorizationCode),
		tokens:          make(map[string]*AccessToken),
		refreshIndex:    make(map[string]string),
		users:           make(map[string]*User),
		emailIndex:      make(map[string]string),
		responses:       make(map[string]*correlationEntry),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Health is a no-op for in-memory storage since it is always available.
func (*MemoryStore) Health(_ context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			_, _ = s.Cleanup(context.Background())
		}
	}
}

func contextKey(contextType, contextID string) string {
	return contextType + ":" + contextID
}

// -----------------------
// Sessions
// -----------------------

// GetSession returns the session or (nil, nil) when unknown or expired.
func (s *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return nil, nil
	}
	return sess.Clone(), nil
}

// StoreSession creates or refreshes a session with the given TTL.
func (s *MemoryStore) StoreSession(_ context.Context, session *Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	stored := session.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.ExpiresAt = now.Add(ttl)
	s.sessions[stored.ID] = stored
	return nil
}

// TouchSession slides the session expiry and returns the refreshed
// record, or (nil, nil) when the session is unknown or expired.
func (s *MemoryStore) TouchSession(_ context.Context, id string, ttl time.Duration) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	now := time.Now()
	if !ok || now.After(sess.ExpiresAt) {
		return nil, nil
	}
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(ttl)
	return sess.Clone(), nil
}

// DeleteSession removes a session and its queued messages.
func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	s.dropSessionMessagesLocked(id)
	return nil
}

// -----------------------
// Message queues
// -----------------------

// GetMessages returns the session's queued envelopes in insertion order.
func (s *MemoryStore) GetMessages(_ context.Context, sessionID string) ([]*QueuedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queue := s.messages[sessionID]
	out := make([]*QueuedMessage, 0, len(queue))
	for _, m := range queue {
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

// StoreMessage appends an envelope to the session queue and returns its
// monotonic id.
func (s *MemoryStore) StoreMessage(_ context.Context, sessionID string, data []byte, msgContext string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextMessage++
	msg := &QueuedMessage{
		ID:        s.nextMessage,
		SessionID: sessionID,
		Data:      append([]byte(nil), data...),
		Context:   msgContext,
		CreatedAt: time.Now(),
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	s.messageIndex[msg.ID] = sessionID
	return msg.ID, nil
}

// DeleteMessage removes a single queued envelope. Unknown ids are a no-op.
func (s *MemoryStore) DeleteMessage(_ context.Context, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID, ok := s.messageIndex[messageID]
	if !ok {
		return nil
	}
	delete(s.messageIndex, messageID)

	queue := s.messages[sessionID]
	for i, m := range queue {
		if m.ID == messageID {
			s.messages[sessionID] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(s.messages[sessionID]) == 0 {
		delete(s.messages, sessionID)
	}
	return nil
}

// DeleteSessionMessages drains every queued envelope for the session.
func (s *MemoryStore) DeleteSessionMessages(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropSessionMessagesLocked(sessionID)
	return nil
}

func (s *MemoryStore) dropSessionMessagesLocked(sessionID string) {
	for _, m := range s.messages[sessionID] {
		delete(s.messageIndex, m.ID)
	}
	delete(s.messages, sessionID)
}

// -----------------------
// Tenant contexts
// -----------------------

// GetContextData returns the tenant context or (nil, nil) when unknown.
func (s *MemoryStore) GetContextData(_ context.Context, contextID, contextType string) (*ContextRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.contexts[contextKey(contextType, contextID)].Clone(), nil
}

// StoreContext creates or replaces a tenant context.
func (s *MemoryStore) StoreContext(_ context.Context, record *ContextRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contexts[contextKey(record.Type, record.ID)] = record.Clone()
	return nil
}

// -----------------------
// OAuth clients
// -----------------------

// GetOAuthClient returns the client or (nil, nil) when unknown.
func (s *MemoryStore) GetOAuthClient(_ context.Context, clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.clients[clientID].Clone(), nil
}

// StoreOAuthClient registers or replaces a client.
func (s *MemoryStore) StoreOAuthClient(_ context.Context, client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[client.ID] = client.Clone()
	return nil
}

// -----------------------
// Authorization codes
// -----------------------

// StoreAuthorizationCode persists a fresh authorization code.
func (s *MemoryStore) StoreAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[code.Code] = code.Clone()
	return nil
}

// ConsumeAuthorizationCode atomically marks the code used and returns
// it. A consumed, expired or unknown code returns (nil, nil), which the
// token endpoint surfaces as invalid_grant.
func (s *MemoryStore) ConsumeAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.codes[code]
	if !ok || record.Consumed || time.Now().After(record.ExpiresAt) {
		return nil, nil
	}
	record.Consumed = true
	return record.Clone(), nil
}

// -----------------------
// Tokens
// -----------------------

// StoreAccessToken persists an issued token pair.
func (s *MemoryStore) StoreAccessToken(_ context.Context, token *AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.storeTokenLocked(token)
	return nil
}

func (s *MemoryStore) storeTokenLocked(token *AccessToken) {
	stored := token.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.tokens[stored.AccessToken] = stored
	if stored.RefreshToken != "" {
		s.refreshIndex[stored.RefreshToken] = stored.AccessToken
	}
}

// ValidateToken returns the token record, or (nil, nil) for anything
// revoked, expired or unknown.
func (s *MemoryStore) ValidateToken(_ context.Context, token string) (*AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.tokens[token]
	if !ok || !record.Valid(time.Now()) {
		return nil, nil
	}
	return record.Clone(), nil
}

// RevokeToken marks the record identified by an access or refresh token
// value as revoked. Unknown tokens are a no-op; revocation always
// succeeds per RFC 7009.
func (s *MemoryStore) RevokeToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tokens[token]
	if !ok {
		if access, indexed := s.refreshIndex[token]; indexed {
			record = s.tokens[access]
		}
	}
	if record != nil {
		record.Revoked = true
	}
	return nil
}

// RotateRefreshToken atomically revokes the old access+refresh pair and
// stores the replacement. A second rotation against the same refresh
// token returns (nil, nil).
func (s *MemoryStore) RotateRefreshToken(_ context.Context, refreshToken string, next *AccessToken) (*AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	access, ok := s.refreshIndex[refreshToken]
	if !ok {
		return nil, nil
	}
	old := s.tokens[access]
	if old == nil || old.Revoked {
		return nil, nil
	}

	old.Revoked = true
	delete(s.refreshIndex, refreshToken)
	s.storeTokenLocked(next)
	return old.Clone(), nil
}

// -----------------------
// Users
// -----------------------

// GetUser returns the user or (nil, nil) when unknown.
func (s *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.users[id].Clone(), nil
}

// GetUserByEmail returns the user with the given email, or (nil, nil).
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emailIndex[email]
	if !ok {
		return nil, nil
	}
	return s.users[id].Clone(), nil
}

// StoreUser creates or updates a user account.
func (s *MemoryStore) StoreUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := user.Clone()
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.users[stored.ID] = stored
	if stored.Email != "" {
		s.emailIndex[stored.Email] = stored.ID
	}
	return nil
}

// -----------------------
// Correlation entries
// -----------------------

// StoreClientResponse records a client response keyed by the
// server-generated request id.
func (s *MemoryStore) StoreClientResponse(_ context.Context, requestID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.responses[requestID] = &correlationEntry{
		payload:   append([]byte(nil), payload...),
		expiresAt: time.Now().Add(correlationTTL),
	}
	return nil
}

// GetClientResponse returns the recorded payload or (nil, nil).
func (s *MemoryStore) GetClientResponse(_ context.Context, requestID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.responses[requestID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	return append([]byte(nil), entry.payload...), nil
}

// -----------------------
// Cleanup
// -----------------------

// Cleanup removes expired sessions (with their queued messages),
// orphaned queues, codes, tokens and correlation entries, returning the
// number removed. Calling it twice in a row removes nothing the second
// time.
func (s *MemoryStore) Cleanup(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0

	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			removed += 1 + len(s.messages[id])
			delete(s.sessions, id)
			s.dropSessionMessagesLocked(id)
		}
	}

	// Queues whose session record is gone have no delivery path left.
	for id := range s.messages {
		if _, ok := s.sessions[id]; !ok {
			removed += len(s.messages[id])
			s.dropSessionMessagesLocked(id)
		}
	}

	for code, record := range s.codes {
		if record.Consumed || now.After(record.ExpiresAt) {
			delete(s.codes, code)
			removed++
		}
	}

	for access, token := range s.tokens {
		if now.After(token.ExpiresAt) {
			if token.RefreshToken != "" {
				delete(s.refreshIndex, token.RefreshToken)
			}
			delete(s.tokens, access)
			removed++
		}
	}

	for id, entry := range s.responses {
		if now.After(entry.expiresAt) {
			delete(s.responses, id)
			removed++
		}
	}

	return removed, nil
}

// Compile-time interface compliance check
var _ Store = (*MemoryStore)(nil)
