package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/planvia/agent-oauth/identity"
	"github.com/planvia/agent-oauth/internal/util"
	"github.com/planvia/agent-oauth/security"
	"github.com/planvia/agent-oauth/storage"
)

// AuthorizeRequest carries the parameters of an authorization request after
// the HTTP layer has decoded them.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	State               string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ValidateAuthorizeRequest runs the validation that precedes user
// authentication: response type, required parameters, client resolution and
// redirect URI registration. The HTTP layer calls it before redirecting an
// unauthenticated user to login, so malformed requests fail fast instead of
// bouncing through the login flow.
func (s *Server) ValidateAuthorizeRequest(ctx context.Context, req *AuthorizeRequest) error {
	if req.ResponseType != "code" {
		return ErrInvalidRequest(fmt.Sprintf("unsupported response_type %q", req.ResponseType))
	}
	if req.ClientID == "" {
		return ErrInvalidRequest("client_id is required")
	}
	if req.RedirectURI == "" {
		return ErrInvalidRequest("redirect_uri is required")
	}

	client, err := s.ResolveClient(ctx, req.ClientID)
	if err != nil {
		return err
	}

	if !redirectURIMatches(client.RedirectURIs, req.RedirectURI) {
		// Never redirect to an unregistered URI
		s.Logger.Warn("Authorization rejected: redirect URI not registered",
			"client_id", req.ClientID,
			"requested_redirect_uri", req.RedirectURI,
			"registered_redirect_uris", client.RedirectURIs)
		return ErrInvalidRequest("redirect_uri is not registered for this client")
	}

	return nil
}

// Authorize handles an authorization request for an authenticated session.
// On success it returns the full redirect URL carrying the authorization
// code (and the client's state, if any).
//
// Errors are returned, never redirected: until the redirect URI is validated
// against the client's registration there is nowhere safe to send them, and
// after the code is minted there is nothing left to fail.
func (s *Server) Authorize(ctx context.Context, session *identity.Session, req *AuthorizeRequest) (string, error) {
	if session == nil || session.UserID == "" || session.WorkspaceID == "" {
		return "", ErrServerError("missing session")
	}

	if err := s.ValidateAuthorizeRequest(ctx, req); err != nil {
		return "", err
	}

	challengeMethod := req.CodeChallengeMethod
	if req.CodeChallenge != "" {
		if challengeMethod == "" {
			// RFC 7636 section 4.3: the method defaults to plain
			challengeMethod = PKCEMethodPlain
		}
		if err := s.validateChallengeMethod(challengeMethod); err != nil {
			return "", err
		}
	} else {
		if s.Config.RequirePKCE {
			return "", ErrInvalidRequest("code_challenge is required")
		}
		challengeMethod = ""
	}

	now := time.Now()
	code := generateRandomToken()
	authCode := &storage.AuthorizationCode{
		Code:                code,
		ClientID:            req.ClientID,
		UserID:              session.UserID,
		WorkspaceID:         session.WorkspaceID,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: challengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}

	if err := s.codeStore.SaveAuthorizationCode(ctx, authCode); err != nil {
		s.Logger.Error("Failed to save authorization code", "error", err)
		return "", ErrServerError("failed to save authorization code")
	}

	if s.Auditor != nil {
		s.Auditor.LogCodeIssued(session.UserID, session.WorkspaceID, req.ClientID)
	}
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordCodeIssued(ctx, req.ClientID, challengeMethod)
	}

	s.Logger.Info("Issued authorization code",
		"client_id", req.ClientID,
		"user_id", session.UserID,
		"workspace_id", session.WorkspaceID,
		"pkce_method", challengeMethod,
		"code_prefix", util.SafeTruncate(code, credentialLogLength))

	return buildRedirectURL(req.RedirectURI, code, req.State), nil
}

// buildRedirectURL appends code and state to the redirect URI, preserving
// any query parameters the client registered.
func buildRedirectURL(redirectURI, code, state string) string {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		// Already validated; fall back to naive appending
		sep := "?"
		q := url.Values{"code": {code}}
		if state != "" {
			q.Set("state", state)
		}
		return redirectURI + sep + q.Encode()
	}

	q := parsed.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

// ExchangeAuthorizationCode redeems an authorization code for a token pair.
// The client has already been authenticated by the HTTP layer.
//
// Validation happens against a non-destructive read first, then the code is
// atomically consumed. A request that loses the redemption race gets the
// same invalid_grant as one presenting a code that never existed.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier, clientIP string) (*Tokens, error) {
	if code == "" {
		return nil, ErrInvalidRequest("code is required")
	}

	authCode, err := s.codeStore.GetAuthorizationCode(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCodeExpired):
			// Expired codes are destroyed on sight
			_ = s.codeStore.DeleteAuthorizationCode(ctx, code)
			s.logExchangeFailure(clientID, clientIP, code, "authorization_code_expired")
			return nil, ErrInvalidGrant("authorization code expired")
		case errors.Is(err, storage.ErrCodeNotFound):
			s.logExchangeFailure(clientID, clientIP, code, "authorization_code_not_found")
			return nil, ErrInvalidGrant("invalid authorization code")
		default:
			s.Logger.Error("Failed to look up authorization code", "error", err)
			return nil, ErrServerError("failed to look up authorization code")
		}
	}

	// A supplied redirect URI must be the exact one the code was issued for
	if redirectURI != "" && authCode.RedirectURI != redirectURI {
		s.logExchangeFailure(clientID, clientIP, code, "redirect_uri_mismatch")
		return nil, ErrInvalidGrant("redirect_uri does not match authorization request")
	}

	if err := s.validatePKCE(ctx, authCode.CodeChallenge, authCode.CodeChallengeMethod, codeVerifier); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventAuthFailure,
				UserID:   authCode.UserID,
				ClientID: clientID,
				Details: map[string]any{
					"reason": "pkce_validation_failed",
				},
			})
		}
		return nil, err
	}

	// Single-use enforcement: consume the code atomically. When two requests
	// race past the checks above, exactly one gets the record here.
	authCode, err = s.codeStore.GetAndDeleteAuthorizationCode(ctx, code)
	if err != nil {
		// The code vanished between validation and redemption: a concurrent
		// request won the race, which is a replay signal
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventCodeReplayed,
				ClientID:  clientID,
				IPAddress: clientIP,
				Details: map[string]any{
					"code_prefix": util.SafeTruncate(code, credentialLogLength),
				},
			})
		}
		if s.instrumentation != nil {
			s.instrumentation.Metrics().RecordCodeReuseDetected(ctx)
		}
		s.logExchangeFailure(clientID, clientIP, code, "authorization_code_already_redeemed")
		return nil, ErrInvalidGrant("invalid authorization code")
	}

	tokens, err := s.issueTokens(ctx, clientID, authCode.UserID, authCode.WorkspaceID)
	if err != nil {
		s.Logger.Error("Failed to issue tokens", "error", err)
		return nil, ErrServerError("failed to issue tokens")
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(authCode.UserID, authCode.WorkspaceID, clientID, clientIP, GrantTypeAuthorizationCode)
	}
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordCodeExchange(ctx, clientID, authCode.CodeChallengeMethod)
	}

	s.Logger.Info("Exchanged authorization code for tokens",
		"client_id", clientID,
		"user_id", authCode.UserID,
		"workspace_id", authCode.WorkspaceID)

	return tokens, nil
}

// RefreshAccessToken rotates a refresh token into a fresh token pair. The
// presented token is consumed atomically before anything else, so even a
// refresh that subsequently fails leaves the old token dead.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, clientID, clientIP string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	record, err := s.refreshTokenStore.GetAndDeleteRefreshToken(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenExpired):
			if s.Auditor != nil {
				s.Auditor.LogAuthFailure("", clientID, clientIP, "refresh_token_expired")
			}
			return nil, ErrInvalidGrant("refresh token expired")
		case errors.Is(err, storage.ErrTokenNotFound):
			// Unknown and already-rotated tokens are indistinguishable; a
			// rotated one being presented again is the replay case
			if s.Auditor != nil {
				s.Auditor.LogEvent(security.Event{
					Type:      security.EventRefreshReplayed,
					ClientID:  clientID,
					IPAddress: clientIP,
					Details: map[string]any{
						"token_prefix": util.SafeTruncate(refreshToken, credentialLogLength),
					},
				})
			}
			if s.instrumentation != nil {
				s.instrumentation.Metrics().RecordTokenReuseDetected(ctx)
			}
			return nil, ErrInvalidGrant("invalid refresh token")
		default:
			s.Logger.Error("Failed to rotate refresh token", "error", err)
			return nil, ErrServerError("failed to rotate refresh token")
		}
	}

	tokens, err := s.issueTokens(ctx, clientID, record.UserID, record.WorkspaceID)
	if err != nil {
		s.Logger.Error("Failed to issue tokens on refresh", "error", err)
		return nil, ErrServerError("failed to issue tokens")
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(record.UserID, record.WorkspaceID, clientID, clientIP)
	}
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordTokenRefresh(ctx, clientID)
	}

	s.Logger.Info("Refreshed tokens",
		"client_id", clientID,
		"user_id", record.UserID,
		"workspace_id", record.WorkspaceID)

	return tokens, nil
}

// logExchangeFailure logs a failed code exchange for debugging and audit
func (s *Server) logExchangeFailure(clientID, clientIP, code, reason string) {
	s.Logger.Debug("Authorization code exchange failed",
		"reason", reason,
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(code, credentialLogLength))

	if s.Auditor != nil {
		s.Auditor.LogAuthFailure("", clientID, clientIP, reason)
	}
}
