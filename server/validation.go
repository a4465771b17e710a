package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// PKCE constants (RFC 7636)
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"

	// MinCodeVerifierLength and MaxCodeVerifierLength bound the
	// code_verifier per RFC 7636 section 4.1
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
)

// validateRegistration checks RFC 7591 metadata. Violations map to
// invalid_client_metadata except redirect URI problems, which get their own
// code so clients can tell the two apart.
func (s *Server) validateRegistration(reg *ClientRegistration) error {
	if reg == nil {
		return ErrInvalidClientMetadata("registration metadata is required")
	}

	if len(reg.RedirectURIs) == 0 {
		return ErrInvalidRedirectURI("redirect_uris is required")
	}
	for _, uri := range reg.RedirectURIs {
		if err := validateRedirectURISecurity(uri); err != nil {
			return ErrInvalidRedirectURI(fmt.Sprintf("redirect URI %q: %v", uri, err))
		}
	}

	for _, gt := range reg.GrantTypes {
		if gt != GrantTypeAuthorizationCode && gt != GrantTypeRefreshToken {
			return ErrInvalidClientMetadata(fmt.Sprintf("unsupported grant type %q", gt))
		}
	}

	for _, rt := range reg.ResponseTypes {
		if rt != "code" {
			return ErrInvalidClientMetadata(fmt.Sprintf("unsupported response type %q", rt))
		}
	}

	switch reg.TokenEndpointAuthMethod {
	case "", TokenEndpointAuthMethodNone, TokenEndpointAuthMethodBasic, TokenEndpointAuthMethodPost:
	default:
		return ErrInvalidClientMetadata(fmt.Sprintf("unsupported token endpoint auth method %q", reg.TokenEndpointAuthMethod))
	}

	return nil
}

// validateRedirectURISecurity rejects URIs that cannot safely receive an
// authorization code: relative URIs, fragments, and cleartext http anywhere
// but loopback. Custom schemes (native app callbacks) are accepted.
func validateRedirectURISecurity(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("not a valid URI")
	}
	if !parsed.IsAbs() {
		return fmt.Errorf("must be absolute")
	}
	if parsed.Fragment != "" {
		return fmt.Errorf("must not contain a fragment")
	}
	if parsed.Scheme == "http" && !isLoopbackHost(parsed.Hostname()) {
		return fmt.Errorf("http is only allowed for loopback addresses")
	}
	if (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func isLoopbackHost(hostname string) bool {
	return hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasSuffix(hostname, ".localhost")
}

// redirectURIMatches reports whether a requested redirect URI is covered by
// a registered one: either an exact match or the registered URI is a prefix
// of the requested one. Prefix matching lets clients register a callback
// base and append their own path or query details.
func redirectURIMatches(registered []string, requested string) bool {
	for _, uri := range registered {
		if uri == requested {
			return true
		}
		if strings.HasPrefix(requested, uri) {
			return true
		}
	}
	return false
}

// validatePKCE verifies a code_verifier against the challenge captured at
// authorization time. A missing verifier is a malformed request
// (invalid_request); a verifier that does not match is a failed grant
// (invalid_grant).
func (s *Server) validatePKCE(ctx context.Context, challenge, method, verifier string) error {
	if challenge == "" {
		// No PKCE bound to this code
		return nil
	}

	if verifier == "" {
		return ErrInvalidRequest("code_verifier is required")
	}

	// RFC 7636: code_verifier must be 43-128 characters of [A-Za-z0-9-._~]
	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return ErrInvalidRequest(fmt.Sprintf("code_verifier must be %d-%d characters", MinCodeVerifierLength, MaxCodeVerifierLength))
	}
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return ErrInvalidRequest("code_verifier contains invalid characters")
		}
	}

	var computedChallenge string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computedChallenge = base64.RawURLEncoding.EncodeToString(hash[:])
	case PKCEMethodPlain:
		computedChallenge = verifier
	default:
		// The method was validated when the code was issued; an unknown
		// method here means the stored code is corrupt
		return ErrServerError("unknown code challenge method")
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(computedChallenge), []byte(challenge)) != 1 {
		if s.instrumentation != nil {
			s.instrumentation.Metrics().RecordPKCEValidationFailed(ctx, method)
		}
		return ErrInvalidGrant("code_verifier does not match code_challenge")
	}

	return nil
}

// validateChallengeMethod checks a code_challenge_method presented at the
// authorization endpoint.
func (s *Server) validateChallengeMethod(method string) error {
	switch method {
	case PKCEMethodS256:
		return nil
	case PKCEMethodPlain:
		if s.Config.DisallowPKCEPlain {
			return ErrInvalidRequest("code_challenge_method 'plain' is not allowed")
		}
		return nil
	default:
		return ErrInvalidRequest(fmt.Sprintf("unsupported code_challenge_method %q", method))
	}
}
