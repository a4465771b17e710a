package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/planvia/agent-oauth/storage"
	"golang.org/x/crypto/bcrypt"
)

// TestSigningKey is a deterministic 32-byte HMAC key for token tests
var TestSigningKey = []byte("0123456789abcdef0123456789abcdef")

// TestClientSecret is the plaintext secret of the client returned by
// GenerateTestClient.
const TestClientSecret = "secret"

// testClientSecretHash is computed once at MinCost so validation tests stay
// fast.
var testClientSecretHash = func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte(TestClientSecret), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("failed to hash test client secret: %v", err))
	}
	return string(hash)
}()

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid PKCE challenge and verifier pair.
// Returns (challenge, verifier) where challenge is the S256 hash of the
// verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// GenerateTestClient creates a confidential test client
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:                "test-client-id",
		ClientSecretHash:        testClientSecretHash,
		ClientName:              "Test Client",
		RedirectURIs:            []string{"https://example.com/callback"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_basic",
		Scope:                   "agent:read agent:write",
		CreatedAt:               time.Now(),
	}
}

// GeneratePublicTestClient creates a public (PKCE-only) test client
func GeneratePublicTestClient() *storage.Client {
	client := GenerateTestClient()
	client.ClientID = "test-public-client-id"
	client.ClientSecretHash = ""
	client.TokenEndpointAuthMethod = "none"
	return client
}

// GenerateTestAuthorizationCode creates a test authorization code valid for
// ten minutes
func GenerateTestAuthorizationCode() *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:                GenerateRandomString(32),
		ClientID:            "test-client-id",
		UserID:              "test-user-123",
		WorkspaceID:         "test-workspace-456",
		RedirectURI:         "https://example.com/callback",
		CodeChallenge:       "",
		CodeChallengeMethod: "",
		CreatedAt:           now,
		ExpiresAt:           now.Add(10 * time.Minute),
	}
}

// GenerateTestRefreshToken creates a test refresh token valid for 30 days
func GenerateTestRefreshToken() *storage.RefreshToken {
	now := time.Now()
	return &storage.RefreshToken{
		Token:       GenerateRandomString(43),
		ClientID:    "test-client-id",
		UserID:      "test-user-123",
		WorkspaceID: "test-workspace-456",
		CreatedAt:   now,
		ExpiresAt:   now.Add(30 * 24 * time.Hour),
	}
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertStringContains fails the test if s does not contain substr
func AssertStringContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("string %q does not contain %q", s, substr)
	}
}
