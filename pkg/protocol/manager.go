// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"sync"

	"github.com/mcpgate/mcpgate/pkg/logger"
)

// VersionSource resolves the persisted protocol version of a session.
// The storage layer satisfies this through a thin adapter so the manager
// stays free of storage types.
type VersionSource interface {
	// SessionVersion returns the stored protocol version for the session,
	// or "" when the session is unknown.
	SessionVersion(ctx context.Context, sessionID string) (string, error)
}

// Manager owns version negotiation state: the configured supported list
// and a per-session cache of negotiated versions. The cache must be
// invalidated when a session is destroyed.
type Manager struct {
	supported []string
	source    VersionSource

	mu    sync.RWMutex
	cache map[string]string
}

// NewManager creates a Manager over the ordered supported list (newest
// first) and the given session-version source.
func NewManager(supported []string, source VersionSource) *Manager {
	if len(supported) == 0 {
		supported = DefaultSupportedVersions
	}
	return &Manager{
		supported: supported,
		source:    source,
		cache:     make(map[string]string),
	}
}

// Supported returns the ordered supported list, newest first.
func (m *Manager) Supported() []string {
	return m.supported
}

// Newest returns the newest supported revision.
func (m *Manager) Newest() string {
	return m.supported[0]
}

// Oldest returns the oldest supported revision, the default for
// requests that carry no version signal at all.
func (m *Manager) Oldest() string {
	return m.supported[len(m.supported)-1]
}

// Negotiate applies the negotiation rule against the configured list.
func (m *Manager) Negotiate(requested string) string {
	return Negotiate(requested, m.supported)
}

// SupportsVersion reports whether the exact revision is configured.
func (m *Manager) SupportsVersion(version string) bool {
	for _, v := range m.supported {
		if v == version {
			return true
		}
	}
	return false
}

// Resolve returns the negotiated version for a session. The session
// record is authoritative; the session-id prefix is the fallback when the
// record is missing. Results are cached until Invalidate.
func (m *Manager) Resolve(ctx context.Context, sessionID string) string {
	m.mu.RLock()
	v, ok := m.cache[sessionID]
	m.mu.RUnlock()
	if ok {
		return v
	}

	version := ""
	if m.source != nil {
		stored, err := m.source.SessionVersion(ctx, sessionID)
		if err != nil {
			logger.Warnw("failed to load session version", "session_id", sessionID, "error", err)
		} else {
			version = stored
		}
	}
	if version == "" {
		version = VersionFromSessionID(sessionID)
	}
	if version == "" {
		return ""
	}

	m.mu.Lock()
	m.cache[sessionID] = version
	m.mu.Unlock()
	return version
}

// Remember primes the cache, used right after initialize creates a
// session so the first follow-up request skips a storage read.
func (m *Manager) Remember(sessionID, version string) {
	m.mu.Lock()
	m.cache[sessionID] = version
	m.mu.Unlock()
}

// Invalidate drops the cached version for a destroyed session.
func (m *Manager) Invalidate(sessionID string) {
	m.mu.Lock()
	delete(m.cache, sessionID)
	m.mu.Unlock()
}
