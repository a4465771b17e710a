package server

import (
	"log/slog"
)

// StaticClient describes a client configured at deploy time instead of
// through dynamic registration. First-party agents use this so their
// credentials survive storage resets.
type StaticClient struct {
	// ClientID is the fixed client identifier
	ClientID string

	// ClientSecret is the plaintext secret, matched with constant-time
	// comparison. Leave empty for a public client.
	ClientSecret string

	// ClientName is the display name reported in audit logs
	ClientName string

	// RedirectURIs are the allowed redirect URIs for this client
	RedirectURIs []string
}

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL). It appears in
	// discovery metadata and as the "iss" claim of every access token.
	Issuer string

	// LoginURL is the platform login page. Authorization requests without a
	// session are redirected here with a return_to parameter.
	LoginURL string

	// AccessTokenSigningKey is the HMAC key used to sign and verify access
	// tokens. All instances sharing an issuer must share this key.
	AccessTokenSigningKey []byte

	// StaticClients are deploy-time clients checked before dynamic storage
	StaticClients []StaticClient

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 2592000 (30 days)

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy; otherwise clients can
	// spoof their IP and dodge per-IP limits.
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used with TrustProxy to pick the right hop out of
	// X-Forwarded-For.
	TrustedProxyCount int // default: 1

	// MaxClientsPerIP limits dynamic registrations per IP address.
	// Prevents DoS via mass client registration. 0 applies the default;
	// set negative to disable the cap.
	MaxClientsPerIP int // default: 20

	// ClockSkewGracePeriod is the grace period for expiry checks (in seconds)
	ClockSkewGracePeriod int64 // seconds, default: 5

	// SupportedScopes lists the scopes advertised in discovery metadata.
	// If empty, all requested scopes are accepted.
	SupportedScopes []string

	// DisallowPKCEPlain rejects the 'plain' code_challenge_method so only
	// S256 is accepted. The zero value accepts both methods.
	DisallowPKCEPlain bool // default: false (both S256 and plain accepted)

	// RequirePKCE makes the code_challenge parameter mandatory on every
	// authorization request. Off by default; clients that send a challenge
	// are always held to it regardless of this setting.
	RequirePKCE bool // default: false
}

// applySecureDefaults fills in default configuration values and logs
// warnings for settings that weaken security.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 2592000 // 30 days
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
	if config.MaxClientsPerIP == 0 {
		config.MaxClientsPerIP = 20
	}

	logSecurityWarnings(config, logger)

	return config
}

// logSecurityWarnings logs warnings for configuration that weakens security
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Info("PKCE is optional for authorization requests",
			"note", "clients that send a code_challenge are still held to it",
			"recommendation", "set RequirePKCE=true once all clients support PKCE")
	}
	if !config.DisallowPKCEPlain {
		logger.Info("Plain PKCE method is accepted",
			"recommendation", "set DisallowPKCEPlain=true to require S256")
	}
	if config.TrustProxy {
		logger.Warn("Trusting proxy headers for client IP extraction",
			"risk", "IP spoofing if the proxy chain is misconfigured",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
}
