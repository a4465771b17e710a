package server

import (
	"context"
	"strings"
	"testing"

	"github.com/planvia/agent-oauth/internal/testutil"
)

func TestValidateRedirectURISecurity(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{"https", "https://example.com/callback", false},
		{"http loopback", "http://localhost:8080/callback", false},
		{"http loopback IPv4", "http://127.0.0.1/callback", false},
		{"http localhost subdomain", "http://agent.localhost/callback", false},
		{"custom scheme", "myagent://callback", false},
		{"http non-loopback", "http://example.com/callback", true},
		{"relative", "/callback", true},
		{"fragment", "https://example.com/callback#frag", true},
		{"https without host", "https:///callback", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRedirectURISecurity(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRedirectURISecurity(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
		})
	}
}

func TestRedirectURIMatches(t *testing.T) {
	registered := []string{"https://example.com/callback"}

	tests := []struct {
		name      string
		requested string
		want      bool
	}{
		{"exact", "https://example.com/callback", true},
		{"extra path", "https://example.com/callback/done", true},
		{"extra query", "https://example.com/callback?session=1", true},
		{"different path", "https://example.com/other", false},
		{"different host", "https://evil.example.net/callback", false},
		{"prefix of registered", "https://example.com/call", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redirectURIMatches(registered, tt.requested); got != tt.want {
				t.Errorf("redirectURIMatches(%q) = %v, want %v", tt.requested, got, tt.want)
			}
		})
	}
}

func TestValidatePKCE(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	challenge, verifier := testutil.GeneratePKCEPair()

	tests := []struct {
		name      string
		challenge string
		method    string
		verifier  string
		wantCode  string // empty means no error
	}{
		{"no challenge bound", "", "", "anything", ""},
		{"S256 match", challenge, PKCEMethodS256, verifier, ""},
		{"plain match", verifier, PKCEMethodPlain, verifier, ""},
		{"missing verifier", challenge, PKCEMethodS256, "", ErrorCodeInvalidRequest},
		{"too short", challenge, PKCEMethodS256, "short", ErrorCodeInvalidRequest},
		{"too long", challenge, PKCEMethodS256, strings.Repeat("a", 129), ErrorCodeInvalidRequest},
		{"bad characters", challenge, PKCEMethodS256, strings.Repeat("a", 43) + "$", ErrorCodeInvalidRequest},
		{"S256 mismatch", challenge, PKCEMethodS256, testutil.GenerateRandomString(50), ErrorCodeInvalidGrant},
		{"plain mismatch", verifier, PKCEMethodPlain, testutil.GenerateRandomString(50), ErrorCodeInvalidGrant},
		{"corrupt stored method", challenge, "S999", verifier, ErrorCodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := srv.validatePKCE(ctx, tt.challenge, tt.method, tt.verifier)
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("validatePKCE() error = %v, want nil", err)
				}
				return
			}
			assertOAuthError(t, err, tt.wantCode)
		})
	}
}

func TestValidateChallengeMethod(t *testing.T) {
	srv, _ := newTestServer(t)

	if err := srv.validateChallengeMethod(PKCEMethodS256); err != nil {
		t.Errorf("validateChallengeMethod(S256) error = %v", err)
	}
	if err := srv.validateChallengeMethod(PKCEMethodPlain); err != nil {
		t.Errorf("validateChallengeMethod(plain) error = %v", err)
	}
	assertOAuthError(t, srv.validateChallengeMethod("S512"), ErrorCodeInvalidRequest)

	strict, _ := newTestServerWithConfig(t, &Config{
		Issuer:                "https://auth.example.com",
		LoginURL:              "https://app.example.com/login",
		AccessTokenSigningKey: testutil.TestSigningKey,
		DisallowPKCEPlain:     true,
	})
	assertOAuthError(t, strict.validateChallengeMethod(PKCEMethodPlain), ErrorCodeInvalidRequest)
	if err := strict.validateChallengeMethod(PKCEMethodS256); err != nil {
		t.Errorf("validateChallengeMethod(S256) with plain disallowed error = %v", err)
	}
}
