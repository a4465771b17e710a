package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/planvia/agent-oauth/internal/util"
	"github.com/planvia/agent-oauth/storage"
)

const (
	// minSigningKeyLength is the minimum accepted HMAC key length. HS256
	// keys shorter than the hash output weaken the MAC.
	minSigningKeyLength = 32

	// tokenTypeBearer is the token_type value in token responses
	tokenTypeBearer = "Bearer"

	// claimTypeAccess is the "type" claim value stamped into access tokens,
	// so a refresh token or any other JWT can never pass verification
	claimTypeAccess = "access"

	// signingMethod is the only accepted JWT algorithm
	signingMethod = "HS256"
)

// ErrInvalidAccessToken is returned by VerifyAccessToken for any token that
// fails verification. Callers get no detail about which check failed.
var ErrInvalidAccessToken = errors.New("invalid access token")

// Grant is the verified identity carried by an access token. Resource
// servers use it to scope every operation to the workspace.
type Grant struct {
	UserID      string
	WorkspaceID string
}

// Tokens is the result of successful token issuance
type Tokens struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64 // seconds until the access token expires
	RefreshToken string
}

// accessTokenClaims is the claim set of issued access tokens
type accessTokenClaims struct {
	WorkspaceID string `json:"workspace_id"`
	TokenType   string `json:"type"`
	jwt.RegisteredClaims
}

// signAccessToken mints a signed access token for the user and workspace.
// Verification is stateless: nothing about the token is stored.
func (s *Server) signAccessToken(userID, workspaceID string, now time.Time) (string, error) {
	claims := accessTokenClaims{
		WorkspaceID: workspaceID,
		TokenType:   claimTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.Config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.Config.AccessTokenSigningKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return signed, nil
}

// issueTokens mints an access token and a fresh refresh token for the given
// grant. Both the code exchange and the refresh flow end here, so the two
// grant types can never drift apart in what they issue.
func (s *Server) issueTokens(ctx context.Context, clientID, userID, workspaceID string) (*Tokens, error) {
	now := time.Now()

	accessToken, err := s.signAccessToken(userID, workspaceID, now)
	if err != nil {
		return nil, err
	}

	refreshToken := generateRandomToken()
	record := &storage.RefreshToken{
		Token:       refreshToken,
		ClientID:    clientID,
		UserID:      userID,
		WorkspaceID: workspaceID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second),
	}
	if err := s.refreshTokenStore.SaveRefreshToken(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.Logger.Debug("Issued token pair",
		"user_id", userID,
		"workspace_id", workspaceID,
		"client_id", clientID,
		"refresh_prefix", util.SafeTruncate(refreshToken, credentialLogLength))

	return &Tokens{
		AccessToken:  accessToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    s.Config.AccessTokenTTL,
		RefreshToken: refreshToken,
	}, nil
}

// VerifyAccessToken verifies a presented access token and returns the grant
// it carries. Verification is purely cryptographic; no storage is consulted,
// so resource servers can call this on every request.
//
// All failures map to ErrInvalidAccessToken: bad signature, wrong algorithm,
// expired, wrong issuer, or a JWT that is not an access token.
func (s *Server) VerifyAccessToken(ctx context.Context, tokenString string) (*Grant, error) {
	claims := &accessTokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (any, error) {
			return s.Config.AccessTokenSigningKey, nil
		},
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithIssuer(s.Config.Issuer),
		jwt.WithLeeway(time.Duration(s.Config.ClockSkewGracePeriod)*time.Second),
	)
	if err != nil || !token.Valid {
		if s.instrumentation != nil {
			s.instrumentation.Metrics().RecordTokenVerification(ctx, false)
		}
		return nil, ErrInvalidAccessToken
	}

	// A refresh token or foreign JWT must never verify as an access token
	if claims.TokenType != claimTypeAccess || claims.Subject == "" || claims.WorkspaceID == "" {
		if s.instrumentation != nil {
			s.instrumentation.Metrics().RecordTokenVerification(ctx, false)
		}
		return nil, ErrInvalidAccessToken
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordTokenVerification(ctx, true)
	}

	return &Grant{
		UserID:      claims.Subject,
		WorkspaceID: claims.WorkspaceID,
	}, nil
}
