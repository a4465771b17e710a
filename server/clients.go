package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/planvia/agent-oauth/storage"
)

// Token endpoint authentication method constants (RFC 7591)
const (
	// TokenEndpointAuthMethodNone represents no authentication (public clients)
	TokenEndpointAuthMethodNone = "none"

	// TokenEndpointAuthMethodBasic represents HTTP Basic authentication
	TokenEndpointAuthMethodBasic = "client_secret_basic"

	// TokenEndpointAuthMethodPost represents POST form parameters
	TokenEndpointAuthMethodPost = "client_secret_post"
)

// Grant type constants
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// ClientRegistration carries the RFC 7591 metadata of a registration request
// after the HTTP layer has decoded it.
type ClientRegistration struct {
	ClientName              string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	Scope                   string
	Contacts                []string
	LogoURI                 string
	ClientURI               string
	PolicyURI               string
	TosURI                  string
}

// RegisterClient registers a new OAuth client with per-IP DoS protection.
// Returns the stored client and the plaintext secret, which is shown exactly
// once; only its bcrypt hash is persisted.
//
// Registering the same metadata twice produces two independent clients with
// distinct credentials.
func (s *Server) RegisterClient(ctx context.Context, reg *ClientRegistration, clientIP string) (*storage.Client, string, error) {
	if err := s.clientStore.CheckIPLimit(ctx, clientIP, s.Config.MaxClientsPerIP); err != nil {
		if errors.Is(err, storage.ErrRegistrationLimitReached) {
			if s.Auditor != nil {
				s.Auditor.LogRateLimitExceeded(clientIP, "register")
			}
			return nil, "", ErrRateLimitExceeded("too many client registrations from this address")
		}
		return nil, "", ErrServerError("failed to check registration limit")
	}

	if err := s.validateRegistration(reg); err != nil {
		s.Logger.Warn("Client registration rejected",
			"error", err.Error(),
			"client_ip", clientIP)
		return nil, "", err
	}

	grantTypes := reg.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}
	responseTypes := reg.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}
	authMethod := reg.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = TokenEndpointAuthMethodPost
	}

	clientID := uuid.NewString()
	clientSecret, clientSecretHash, err := generateClientSecret(authMethod)
	if err != nil {
		return nil, "", ErrServerError("failed to generate client credentials")
	}

	client := &storage.Client{
		ClientID:                clientID,
		ClientSecretHash:        clientSecretHash,
		ClientName:              reg.ClientName,
		RedirectURIs:            reg.RedirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		TokenEndpointAuthMethod: authMethod,
		Scope:                   reg.Scope,
		Contacts:                reg.Contacts,
		LogoURI:                 reg.LogoURI,
		ClientURI:               reg.ClientURI,
		PolicyURI:               reg.PolicyURI,
		TosURI:                  reg.TosURI,
		CreatedAt:               time.Now(),
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		s.Logger.Error("Failed to save client", "error", err)
		return nil, "", ErrServerError("failed to save client")
	}

	if err := s.clientStore.TrackClientIP(ctx, clientIP); err != nil {
		s.Logger.Warn("Failed to track client IP", "error", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogClientRegistered(client.ClientID, client.ClientName, clientIP)
	}
	if s.instrumentation != nil {
		clientType := "confidential"
		if authMethod == TokenEndpointAuthMethodNone {
			clientType = "public"
		}
		s.instrumentation.Metrics().RecordClientRegistration(ctx, clientType)
	}

	s.Logger.Info("Registered new OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"token_endpoint_auth_method", client.TokenEndpointAuthMethod,
		"client_ip", clientIP)

	return client, clientSecret, nil
}

// generateClientSecret generates a secret for clients that authenticate.
// Public clients (auth method "none") get no secret.
func generateClientSecret(authMethod string) (string, string, error) {
	if authMethod == TokenEndpointAuthMethodNone {
		return "", "", nil
	}

	clientSecret := generateRandomToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return clientSecret, string(hash), nil
}

// ResolveClient retrieves a client by ID, checking static configuration
// before dynamic storage.
func (s *Server) ResolveClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if static := s.staticClient(clientID); static != nil {
		return static, nil
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidClient("unknown client")
		}
		s.Logger.Error("Failed to look up client", "error", err, "client_id", clientID)
		return nil, ErrServerError("failed to look up client")
	}

	return client, nil
}

// staticClient returns the static client with the given ID as a storage
// record, or nil. The secret hash is left empty; static secrets are matched
// directly in AuthenticateClient.
func (s *Server) staticClient(clientID string) *storage.Client {
	for i := range s.Config.StaticClients {
		sc := &s.Config.StaticClients[i]
		if sc.ClientID == clientID {
			authMethod := TokenEndpointAuthMethodBasic
			if sc.ClientSecret == "" {
				authMethod = TokenEndpointAuthMethodNone
			}
			return &storage.Client{
				ClientID:                sc.ClientID,
				ClientName:              sc.ClientName,
				RedirectURIs:            sc.RedirectURIs,
				GrantTypes:              []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
				ResponseTypes:           []string{"code"},
				TokenEndpointAuthMethod: authMethod,
			}
		}
	}
	return nil
}

// AuthenticateClient authenticates a client at the token endpoint. Public
// clients pass with an empty secret; confidential clients must present their
// secret. Failures always map to invalid_client.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string) error {
	for i := range s.Config.StaticClients {
		sc := &s.Config.StaticClients[i]
		if sc.ClientID != clientID {
			continue
		}
		// An absent caller secret is tolerated even when one is configured,
		// so the static client can be deployed as a public client. A
		// supplied secret must match.
		if sc.ClientSecret == "" || clientSecret == "" {
			return nil
		}
		if subtle.ConstantTimeCompare([]byte(sc.ClientSecret), []byte(clientSecret)) != 1 {
			return ErrInvalidClient("client authentication failed")
		}
		return nil
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			// Still burn a bcrypt comparison below via ValidateClientSecret
			// so unknown and known clients fail in the same time
			_ = s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret)
			return ErrInvalidClient("client authentication failed")
		}
		s.Logger.Error("Failed to look up client", "error", err, "client_id", clientID)
		return ErrServerError("failed to look up client")
	}

	if client.TokenEndpointAuthMethod == TokenEndpointAuthMethodNone {
		return nil // public client, no secret required
	}

	if err := s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, "", "invalid_client_secret")
		}
		return ErrInvalidClient("client authentication failed")
	}

	return nil
}
