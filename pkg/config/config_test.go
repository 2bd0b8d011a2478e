// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()

	assert.Equal(t, []string{"2025-06-18", "2025-03-26", "2024-11-05"}, cfg.SupportedVersions)
	assert.Equal(t, time.Hour, cfg.SessionLifetime)
	assert.Equal(t, []string{"mcp:read"}, cfg.Auth.RequiredScopes)
	assert.Equal(t, []string{"agency", "user"}, cfg.Auth.ContextTypes)
	assert.Equal(t, time.Second, cfg.SSE.KeepaliveInterval)
	assert.Equal(t, 30*time.Minute, cfg.SSE.MaxConnectionTime)
	assert.Equal(t, "/oauth/token", cfg.OAuth.AuthServer.Endpoints.Token)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "mcpgate.yaml")
	content := `
base_url: https://mcp.example.com
session_lifetime: 120s
supported_versions:
  - "2025-03-26"
  - "2024-11-05"
auth:
  authless: true
  authless_context_id: demo
server_info:
  name: test-server
  version: 1.2.3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://mcp.example.com", cfg.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.SessionLifetime)
	assert.Equal(t, []string{"2025-03-26", "2024-11-05"}, cfg.SupportedVersions)
	assert.True(t, cfg.Auth.Authless)
	assert.Equal(t, "demo", cfg.Auth.AuthlessContextID)
	assert.Equal(t, "test-server", cfg.ServerInfo.Name)
	// Unset keys keep their defaults.
	assert.Equal(t, time.Second, cfg.Streamable.KeepaliveInterval)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty versions", func(c *Config) { c.SupportedVersions = nil }},
		{"unordered versions", func(c *Config) {
			c.SupportedVersions = []string{"2024-11-05", "2025-06-18"}
		}},
		{"zero session lifetime", func(c *Config) { c.SessionLifetime = 0 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "dynamo" }},
		{"redis without url", func(c *Config) { c.Storage.Backend = "redis" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStreamOptionsSelectsTransport(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.SSE.KeepaliveInterval = 2 * time.Second
	cfg.Streamable.KeepaliveInterval = 3 * time.Second

	assert.Equal(t, 2*time.Second, cfg.StreamOptions("2024-11-05").KeepaliveInterval)
	assert.Equal(t, 3*time.Second, cfg.StreamOptions("2025-03-26").KeepaliveInterval)
	assert.Equal(t, 3*time.Second, cfg.StreamOptions("2025-06-18").KeepaliveInterval)

	cfg.TestMode = true
	assert.True(t, cfg.StreamOptions("2024-11-05").TestMode)
}
