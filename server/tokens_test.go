package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/planvia/agent-oauth/internal/testutil"
)

func TestSignAccessToken_Claims(t *testing.T) {
	srv, _ := newTestServer(t)
	now := time.Now()

	signed, err := srv.signAccessToken("user-1", "ws-1", now)
	if err != nil {
		t.Fatalf("signAccessToken() error = %v", err)
	}

	claims := &accessTokenClaims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(_ *jwt.Token) (any, error) {
		return testutil.TestSigningKey, nil
	})
	if err != nil {
		t.Fatalf("ParseWithClaims() error = %v", err)
	}

	if alg := token.Method.Alg(); alg != "HS256" {
		t.Errorf("alg = %q, want HS256", alg)
	}
	if claims.Subject != "user-1" {
		t.Errorf("sub = %q, want %q", claims.Subject, "user-1")
	}
	if claims.WorkspaceID != "ws-1" {
		t.Errorf("workspace_id = %q, want %q", claims.WorkspaceID, "ws-1")
	}
	if claims.TokenType != "access" {
		t.Errorf("type = %q, want %q", claims.TokenType, "access")
	}
	if claims.Issuer != "https://auth.example.com" {
		t.Errorf("iss = %q, want %q", claims.Issuer, "https://auth.example.com")
	}

	wantExpiry := now.Add(time.Hour)
	if diff := claims.ExpiresAt.Time.Sub(wantExpiry); diff < -time.Second || diff > time.Second {
		t.Errorf("exp = %v, want about %v", claims.ExpiresAt.Time, wantExpiry)
	}
}

func TestVerifyAccessToken(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	signed, err := srv.signAccessToken("user-1", "ws-1", time.Now())
	if err != nil {
		t.Fatalf("signAccessToken() error = %v", err)
	}

	grant, err := srv.VerifyAccessToken(ctx, signed)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if grant.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", grant.UserID, "user-1")
	}
	if grant.WorkspaceID != "ws-1" {
		t.Errorf("WorkspaceID = %q, want %q", grant.WorkspaceID, "ws-1")
	}
}

// mintToken signs an arbitrary claim set with the given key and method
func mintToken(t *testing.T, key []byte, method jwt.SigningMethod, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

func TestVerifyAccessToken_Rejections(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	now := time.Now()

	goodClaims := func() accessTokenClaims {
		return accessTokenClaims{
			WorkspaceID: "ws-1",
			TokenType:   "access",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				Issuer:    "https://auth.example.com",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
	}

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "garbage",
			token: "not-a-jwt",
		},
		{
			name: "wrong key",
			token: mintToken(t, []byte("ffffffffffffffffffffffffffffffff"),
				jwt.SigningMethodHS256, goodClaims()),
		},
		{
			name: "wrong algorithm",
			token: mintToken(t, testutil.TestSigningKey,
				jwt.SigningMethodHS512, goodClaims()),
		},
		{
			name: "expired",
			token: func() string {
				claims := goodClaims()
				claims.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
				return mintToken(t, testutil.TestSigningKey, jwt.SigningMethodHS256, claims)
			}(),
		},
		{
			name: "wrong issuer",
			token: func() string {
				claims := goodClaims()
				claims.Issuer = "https://other.example.com"
				return mintToken(t, testutil.TestSigningKey, jwt.SigningMethodHS256, claims)
			}(),
		},
		{
			name: "wrong type claim",
			token: func() string {
				claims := goodClaims()
				claims.TokenType = "refresh"
				return mintToken(t, testutil.TestSigningKey, jwt.SigningMethodHS256, claims)
			}(),
		},
		{
			name: "missing subject",
			token: func() string {
				claims := goodClaims()
				claims.Subject = ""
				return mintToken(t, testutil.TestSigningKey, jwt.SigningMethodHS256, claims)
			}(),
		},
		{
			name: "missing workspace",
			token: func() string {
				claims := goodClaims()
				claims.WorkspaceID = ""
				return mintToken(t, testutil.TestSigningKey, jwt.SigningMethodHS256, claims)
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.VerifyAccessToken(ctx, tt.token)
			if !errors.Is(err, ErrInvalidAccessToken) {
				t.Errorf("VerifyAccessToken() error = %v, want ErrInvalidAccessToken", err)
			}
		})
	}
}

// A token that expired moments ago still verifies inside the skew grace
// period.
func TestVerifyAccessToken_ClockSkewLeeway(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	claims := accessTokenClaims{
		WorkspaceID: "ws-1",
		TokenType:   "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "https://auth.example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-2 * time.Second)),
		},
	}

	token := mintToken(t, testutil.TestSigningKey, jwt.SigningMethodHS256, claims)
	if _, err := srv.VerifyAccessToken(ctx, token); err != nil {
		t.Errorf("VerifyAccessToken() within leeway error = %v", err)
	}
}

func TestIssueTokens_StoresRefreshRecord(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	tokens, err := srv.issueTokens(ctx, "client-1", "user-1", "ws-1")
	if err != nil {
		t.Fatalf("issueTokens() error = %v", err)
	}

	record, err := store.GetAndDeleteRefreshToken(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("GetAndDeleteRefreshToken() error = %v", err)
	}
	if record.ClientID != "client-1" || record.UserID != "user-1" || record.WorkspaceID != "ws-1" {
		t.Errorf("refresh record = %+v, want issued identity", record)
	}

	wantExpiry := time.Now().Add(30 * 24 * time.Hour)
	if diff := record.ExpiresAt.Sub(wantExpiry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("refresh expiry = %v, want about %v", record.ExpiresAt, wantExpiry)
	}
}
