package server

import (
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/planvia/agent-oauth/identity"
	"github.com/planvia/agent-oauth/instrumentation"
	"github.com/planvia/agent-oauth/security"
	"github.com/planvia/agent-oauth/storage"
)

const (
	// credentialLogLength is the number of characters of a code or token
	// included in log lines
	credentialLogLength = 8
)

// Server implements the authorization server logic (transport-agnostic).
// It coordinates the flow between the platform identity system and the
// storage backends.
type Server struct {
	identity          identity.Resolver
	clientStore       storage.ClientStore
	codeStore         storage.CodeStore
	refreshTokenStore storage.RefreshTokenStore

	Auditor     *security.Auditor
	RateLimiter *security.RateLimiter // IP-based rate limiter
	Logger      *slog.Logger
	Config      *Config

	instrumentation *instrumentation.Instrumentation
}

// New creates a new authorization server
func New(
	resolver identity.Resolver,
	clientStore storage.ClientStore,
	codeStore storage.CodeStore,
	refreshTokenStore storage.RefreshTokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if resolver == nil {
		return nil, fmt.Errorf("identity resolver is required")
	}
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if codeStore == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if refreshTokenStore == nil {
		return nil, fmt.Errorf("refresh token store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if config.LoginURL == "" {
		return nil, fmt.Errorf("login URL is required")
	}
	if len(config.AccessTokenSigningKey) < minSigningKeyLength {
		return nil, fmt.Errorf("access token signing key must be at least %d bytes", minSigningKeyLength)
	}

	srv := &Server{
		identity:          resolver,
		clientStore:       clientStore,
		codeStore:         codeStore,
		refreshTokenStore: refreshTokenStore,
		Config:            config,
		Logger:            logger,
	}

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetInstrumentation sets OpenTelemetry instrumentation for the server
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
}

// Instrumentation returns the configured instrumentation, which may be nil
func (s *Server) Instrumentation() *instrumentation.Instrumentation {
	return s.instrumentation
}

// Identity returns the configured identity resolver (for use by the HTTP layer)
func (s *Server) Identity() identity.Resolver {
	return s.identity
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for codes and refresh tokens.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
