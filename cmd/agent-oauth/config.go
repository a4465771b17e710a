package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/planvia/agent-oauth/server"
)

// Config holds the full process configuration, loaded from a config file
// and environment variables.
type Config struct {
	// ListenAddress is the address the HTTP server binds to
	ListenAddress string `mapstructure:"listen_address"`

	// Issuer is the externally visible base URL of this server
	Issuer string `mapstructure:"issuer"`

	// LoginURL is the platform login page for unauthenticated users
	LoginURL string `mapstructure:"login_url"`

	// SigningKey is the HMAC key for access tokens. Required, minimum 32
	// bytes. Set via AGENT_OAUTH_SIGNING_KEY in production.
	SigningKey string `mapstructure:"signing_key"`

	AuthorizationCodeTTL int64 `mapstructure:"authorization_code_ttl"`
	AccessTokenTTL       int64 `mapstructure:"access_token_ttl"`
	RefreshTokenTTL      int64 `mapstructure:"refresh_token_ttl"`

	TrustProxy        bool `mapstructure:"trust_proxy"`
	TrustedProxyCount int  `mapstructure:"trusted_proxy_count"`
	MaxClientsPerIP   int  `mapstructure:"max_clients_per_ip"`

	RequirePKCE       bool `mapstructure:"require_pkce"`
	DisallowPKCEPlain bool `mapstructure:"disallow_pkce_plain"`

	// SupportedScopes lists scopes advertised in discovery metadata
	SupportedScopes []string `mapstructure:"supported_scopes"`

	// StaticClients are deploy-time clients checked before dynamic storage
	StaticClients []StaticClientConfig `mapstructure:"static_clients"`

	Storage   StorageConfig   `mapstructure:"storage"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is "json" or "text"
	LogFormat string `mapstructure:"log_format"`

	// AuditEnabled turns the structured audit trail on or off
	AuditEnabled bool `mapstructure:"audit_enabled"`
}

// StaticClientConfig mirrors server.StaticClient for config file parsing
type StaticClientConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	ClientName   string   `mapstructure:"client_name"`
	RedirectURIs []string `mapstructure:"redirect_uris"`
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	// Backend is "memory" or "redis"
	Backend string `mapstructure:"backend"`

	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis backend
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// IdentityConfig selects how user sessions are resolved
type IdentityConfig struct {
	// Resolver is "header" (trust gateway-injected headers) or "api"
	// (call the platform session endpoint)
	Resolver string `mapstructure:"resolver"`

	// SessionEndpoint is the platform session introspection URL,
	// required when Resolver is "api"
	SessionEndpoint string `mapstructure:"session_endpoint"`
}

// RateLimitConfig configures the per-IP request limiter
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerSecond int  `mapstructure:"requests_per_second"`
	Burst             int  `mapstructure:"burst"`
}

// TelemetryConfig configures OpenTelemetry instrumentation
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig reads configuration from agent-oauth.yaml and the environment.
// Environment variables use the AGENT_OAUTH_ prefix with underscores, e.g.
// AGENT_OAUTH_STORAGE_BACKEND=redis.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENT_OAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("agent-oauth")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/agent-oauth")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			// no config file, environment and defaults only
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_address", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("audit_enabled", true)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.redis.key_prefix", "oauth:")
	v.SetDefault("identity.resolver", "api")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("telemetry.enabled", false)
}

func validateConfig(cfg *Config) error {
	if cfg.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if cfg.LoginURL == "" {
		return fmt.Errorf("login_url is required")
	}
	if cfg.SigningKey == "" {
		return fmt.Errorf("signing_key is required")
	}
	switch cfg.Storage.Backend {
	case "memory":
	case "redis":
		if cfg.Storage.Redis.Address == "" {
			return fmt.Errorf("storage.redis.address is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want memory or redis)", cfg.Storage.Backend)
	}
	switch cfg.Identity.Resolver {
	case "header":
	case "api":
		if cfg.Identity.SessionEndpoint == "" {
			return fmt.Errorf("identity.session_endpoint is required for the api resolver")
		}
	default:
		return fmt.Errorf("unknown identity resolver %q (want header or api)", cfg.Identity.Resolver)
	}
	return nil
}

// serverConfig converts the process configuration into the authorization
// server's configuration.
func (c *Config) serverConfig() *server.Config {
	staticClients := make([]server.StaticClient, 0, len(c.StaticClients))
	for _, sc := range c.StaticClients {
		staticClients = append(staticClients, server.StaticClient{
			ClientID:     sc.ClientID,
			ClientSecret: sc.ClientSecret,
			ClientName:   sc.ClientName,
			RedirectURIs: sc.RedirectURIs,
		})
	}

	return &server.Config{
		Issuer:                c.Issuer,
		LoginURL:              c.LoginURL,
		AccessTokenSigningKey: []byte(c.SigningKey),
		StaticClients:         staticClients,
		AuthorizationCodeTTL:  c.AuthorizationCodeTTL,
		AccessTokenTTL:        c.AccessTokenTTL,
		RefreshTokenTTL:       c.RefreshTokenTTL,
		TrustProxy:            c.TrustProxy,
		TrustedProxyCount:     c.TrustedProxyCount,
		MaxClientsPerIP:       c.MaxClientsPerIP,
		SupportedScopes:       c.SupportedScopes,
		RequirePKCE:           c.RequirePKCE,
		DisallowPKCEPlain:     c.DisallowPKCEPlain,
	}
}
