// SPDX-License-Identifier: Apache-2.0

// Package config contains the definition of the application config structure
// and the logic required to load it from files, environment and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default values applied when a key is absent from every configuration source.
const (
	DefaultSessionLifetime   = 3600 * time.Second
	DefaultKeepaliveInterval = 1 * time.Second
	DefaultSwitchAfter       = 60 * time.Second
	DefaultMaxInterval       = 5 * time.Second
	DefaultMaxConnectionTime = 1800 * time.Second
	DefaultAuthCodeLifetime  = 10 * time.Minute
	DefaultTokenLifetime     = 3600 * time.Second
)

// Config represents the configuration of the application.
type Config struct {
	// SupportedVersions is the ordered list of protocol versions, newest first.
	SupportedVersions []string `mapstructure:"supported_versions"`

	// BaseURL is the canonical public URL. When set it overrides the
	// request-derived base URL everywhere resource URLs are built.
	BaseURL string `mapstructure:"base_url"`

	// SessionLifetime is how long a session survives after its last touch.
	SessionLifetime time.Duration `mapstructure:"session_lifetime"`

	// ScopesSupported is advertised in discovery metadata.
	ScopesSupported []string `mapstructure:"scopes_supported"`

	Auth       AuthConfig       `mapstructure:"auth"`
	SSE        StreamConfig     `mapstructure:"sse"`
	Streamable StreamConfig     `mapstructure:"streamable_http"`
	OAuth      OAuthConfig      `mapstructure:"oauth"`
	ServerInfo ServerInfoConfig `mapstructure:"server_info"`
	Storage    StorageConfig    `mapstructure:"storage"`

	// TestMode makes transports deliver any queued messages once and
	// return without polling. Used by the test suites.
	TestMode bool `mapstructure:"test_mode"`
}

// AuthConfig controls the resource-server middleware.
type AuthConfig struct {
	// RequiredScopes must all be present on a validated token.
	RequiredScopes []string `mapstructure:"required_scopes"`

	// ContextTypes are tried in order when resolving the tenant context.
	ContextTypes []string `mapstructure:"context_types"`

	// Authless bypasses authentication and injects a synthetic identity.
	Authless bool `mapstructure:"authless"`

	// AuthlessContextID and AuthlessUserID name the synthetic identity.
	AuthlessContextID string `mapstructure:"authless_context_id"`
	AuthlessUserID    string `mapstructure:"authless_user_id"`
}

// StreamConfig holds the polling-loop parameters for one transport.
type StreamConfig struct {
	KeepaliveInterval   time.Duration `mapstructure:"keepalive_interval"`
	SwitchIntervalAfter time.Duration `mapstructure:"switch_interval_after"`
	MaxConnectionTime   time.Duration `mapstructure:"max_connection_time"`
	TestMode            bool          `mapstructure:"test_mode"`
}

// OAuthConfig configures the embedded authorization server.
type OAuthConfig struct {
	AuthServer AuthServerConfig `mapstructure:"auth_server"`

	// CodeLifetime bounds authorization-code validity (≤ 10 minutes).
	CodeLifetime time.Duration `mapstructure:"code_lifetime"`

	// TokenLifetime is the access-token TTL.
	TokenLifetime time.Duration `mapstructure:"token_lifetime"`
}

// AuthServerConfig carries endpoint path overrides.
type AuthServerConfig struct {
	Endpoints EndpointsConfig `mapstructure:"endpoints"`
}

// EndpointsConfig overrides the default OAuth endpoint paths.
type EndpointsConfig struct {
	Authorize string `mapstructure:"authorize"`
	Token     string `mapstructure:"token"`
	Register  string `mapstructure:"register"`
	Revoke    string `mapstructure:"revoke"`
}

// ServerInfoConfig is reported in the initialize response.
type ServerInfoConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Backend is "memory" or "redis".
	Backend string `mapstructure:"backend"`

	// RedisURL is the connection URL for the redis backend.
	RedisURL string `mapstructure:"redis_url"`

	// CleanupInterval is how often the expiry sweep runs.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// setDefaults registers every default on the provided viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("supported_versions", []string{"2025-06-18", "2025-03-26", "2024-11-05"})
	v.SetDefault("session_lifetime", DefaultSessionLifetime)
	v.SetDefault("scopes_supported", []string{"mcp:read", "mcp:write"})
	v.SetDefault("auth.required_scopes", []string{"mcp:read"})
	v.SetDefault("auth.context_types", []string{"agency", "user"})
	v.SetDefault("auth.authless", false)
	v.SetDefault("auth.authless_context_id", "public")
	v.SetDefault("auth.authless_user_id", "anonymous")
	v.SetDefault("sse.keepalive_interval", DefaultKeepaliveInterval)
	v.SetDefault("sse.switch_interval_after", DefaultSwitchAfter)
	v.SetDefault("sse.max_connection_time", DefaultMaxConnectionTime)
	v.SetDefault("streamable_http.keepalive_interval", DefaultKeepaliveInterval)
	v.SetDefault("streamable_http.switch_interval_after", DefaultSwitchAfter)
	v.SetDefault("streamable_http.max_connection_time", DefaultMaxConnectionTime)
	v.SetDefault("oauth.code_lifetime", DefaultAuthCodeLifetime)
	v.SetDefault("oauth.token_lifetime", DefaultTokenLifetime)
	v.SetDefault("oauth.auth_server.endpoints.authorize", "/oauth/authorize")
	v.SetDefault("oauth.auth_server.endpoints.token", "/oauth/token")
	v.SetDefault("oauth.auth_server.endpoints.register", "/oauth/register")
	v.SetDefault("oauth.auth_server.endpoints.revoke", "/oauth/revoke")
	v.SetDefault("server_info.name", "mcpgate")
	v.SetDefault("server_info.version", "dev")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.cleanup_interval", time.Minute)
}

// Load reads configuration from the named file (optional), the MCPGATE_*
// environment and built-in defaults, in that order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MCPGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration with no file or env applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always unmarshal cleanly.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if len(c.SupportedVersions) == 0 {
		return fmt.Errorf("supported_versions must not be empty")
	}
	for i := 1; i < len(c.SupportedVersions); i++ {
		if c.SupportedVersions[i] >= c.SupportedVersions[i-1] {
			return fmt.Errorf("supported_versions must be ordered newest first")
		}
	}
	if c.SessionLifetime <= 0 {
		return fmt.Errorf("session_lifetime must be positive")
	}
	switch c.Storage.Backend {
	case "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// StreamOptions returns the polling parameters for the named protocol
// version, honoring the global test_mode toggle.
func (c *Config) StreamOptions(protocolVersion string) StreamConfig {
	sc := c.Streamable
	if protocolVersion == "2024-11-05" {
		sc = c.SSE
	}
	if c.TestMode {
		sc.TestMode = true
	}
	return sc
}
