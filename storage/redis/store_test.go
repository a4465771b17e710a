package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/planvia/agent-oauth/storage"
)

const (
	testUserID      = "test-user"
	testWorkspaceID = "test-workspace"
)

// testStore connects to a local Redis instance. Tests are skipped when no
// instance is reachable, so the suite stays runnable without infrastructure.
// Each test gets a unique key prefix for isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("oauthtest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Redis at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			t.Logf("Warning: failed to delete key %s: %v", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		t.Logf("Warning: failed to scan for cleanup: %v", err)
	}
}

func testClient(t *testing.T) *storage.Client {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}
	return &storage.Client{
		ClientID:                "redis-test-client",
		ClientSecretHash:        string(hash),
		ClientName:              "Redis Test Client",
		RedirectURIs:            []string{"https://example.com/callback"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_basic",
		CreatedAt:               time.Now(),
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("New() with empty address should fail")
	}
}

func TestSaveAndGetClient(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	client := testClient(t)
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := store.GetClient(ctx, client.ClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.ClientID != client.ClientID {
		t.Errorf("ClientID = %q, want %q", got.ClientID, client.ClientID)
	}
	if got.ClientName != client.ClientName {
		t.Errorf("ClientName = %q, want %q", got.ClientName, client.ClientName)
	}
	if len(got.RedirectURIs) != 1 || got.RedirectURIs[0] != client.RedirectURIs[0] {
		t.Errorf("RedirectURIs = %v, want %v", got.RedirectURIs, client.RedirectURIs)
	}
}

func TestGetClient_NotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetClient(context.Background(), "does-not-exist")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient() error = %v, want ErrClientNotFound", err)
	}
}

func TestSaveClient_Invalid(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveClient(ctx, nil); err == nil {
		t.Error("SaveClient(nil) should fail")
	}
	if err := store.SaveClient(ctx, &storage.Client{}); err == nil {
		t.Error("SaveClient() with empty ClientID should fail")
	}
}

func TestValidateClientSecret(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	client := testClient(t)
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	if err := store.ValidateClientSecret(ctx, client.ClientID, "secret"); err != nil {
		t.Errorf("ValidateClientSecret() with correct secret error = %v", err)
	}
	if err := store.ValidateClientSecret(ctx, client.ClientID, "wrong"); !errors.Is(err, storage.ErrInvalidClientSecret) {
		t.Errorf("ValidateClientSecret() with wrong secret error = %v, want ErrInvalidClientSecret", err)
	}
	if err := store.ValidateClientSecret(ctx, "does-not-exist", "secret"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("ValidateClientSecret() for unknown client error = %v, want ErrClientNotFound", err)
	}
}

func TestListClients(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		client := testClient(t)
		client.ClientID = fmt.Sprintf("list-client-%d", i)
		if err := store.SaveClient(ctx, client); err != nil {
			t.Fatalf("SaveClient() error = %v", err)
		}
	}

	// IP tracking keys share the client: prefix and must not show up
	if err := store.TrackClientIP(ctx, "192.0.2.1"); err != nil {
		t.Fatalf("TrackClientIP() error = %v", err)
	}

	clients, err := store.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients() error = %v", err)
	}
	if len(clients) != 3 {
		t.Errorf("ListClients() returned %d clients, want 3", len(clients))
	}
}

func TestIPLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	ip := "203.0.113.7"

	if err := store.CheckIPLimit(ctx, ip, 2); err != nil {
		t.Fatalf("CheckIPLimit() before any registration error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.TrackClientIP(ctx, ip); err != nil {
			t.Fatalf("TrackClientIP() error = %v", err)
		}
	}

	if err := store.CheckIPLimit(ctx, ip, 2); !errors.Is(err, storage.ErrRegistrationLimitReached) {
		t.Errorf("CheckIPLimit() at limit error = %v, want ErrRegistrationLimitReached", err)
	}

	// Zero disables the limit entirely
	if err := store.CheckIPLimit(ctx, ip, 0); err != nil {
		t.Errorf("CheckIPLimit() with limit disabled error = %v", err)
	}

	// A different IP is unaffected
	if err := store.CheckIPLimit(ctx, "203.0.113.8", 2); err != nil {
		t.Errorf("CheckIPLimit() for fresh IP error = %v", err)
	}
}

func testCode(code string, ttl time.Duration) *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:                code,
		ClientID:            "redis-test-client",
		UserID:              testUserID,
		WorkspaceID:         testWorkspaceID,
		RedirectURI:         "https://example.com/callback",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		CreatedAt:           now,
		ExpiresAt:           now.Add(ttl),
	}
}

func TestAuthorizationCodeLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	code := testCode("lifecycle-code", 10*time.Minute)
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	// Peek does not consume
	for i := 0; i < 2; i++ {
		got, err := store.GetAuthorizationCode(ctx, code.Code)
		if err != nil {
			t.Fatalf("GetAuthorizationCode() error = %v", err)
		}
		if got.UserID != testUserID || got.WorkspaceID != testWorkspaceID {
			t.Errorf("got identity %q/%q, want %q/%q", got.UserID, got.WorkspaceID, testUserID, testWorkspaceID)
		}
	}

	got, err := store.GetAndDeleteAuthorizationCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("GetAndDeleteAuthorizationCode() error = %v", err)
	}
	if got.Code != code.Code {
		t.Errorf("Code = %q, want %q", got.Code, code.Code)
	}

	if _, err := store.GetAndDeleteAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("second GetAndDeleteAuthorizationCode() error = %v, want ErrCodeNotFound", err)
	}
}

func TestGetAndDeleteAuthorizationCode_Concurrent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	code := testCode("concurrent-code", 10*time.Minute)
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.GetAndDeleteAuthorizationCode(ctx, code.Code)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, storage.ErrCodeNotFound) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("got %d successful redemptions, want exactly 1", successes)
	}
}

func TestDeleteAuthorizationCode_Idempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	code := testCode("delete-code", 10*time.Minute)
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}
	if err := store.DeleteAuthorizationCode(ctx, code.Code); err != nil {
		t.Errorf("DeleteAuthorizationCode() error = %v", err)
	}
	if err := store.DeleteAuthorizationCode(ctx, code.Code); err != nil {
		t.Errorf("DeleteAuthorizationCode() of absent code error = %v", err)
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	now := time.Now()
	token := &storage.RefreshToken{
		Token:       "lifecycle-refresh-token",
		ClientID:    "redis-test-client",
		UserID:      testUserID,
		WorkspaceID: testWorkspaceID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(30 * 24 * time.Hour),
	}
	if err := store.SaveRefreshToken(ctx, token); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	got, err := store.GetAndDeleteRefreshToken(ctx, token.Token)
	if err != nil {
		t.Fatalf("GetAndDeleteRefreshToken() error = %v", err)
	}
	if got.UserID != testUserID || got.WorkspaceID != testWorkspaceID {
		t.Errorf("got identity %q/%q, want %q/%q", got.UserID, got.WorkspaceID, testUserID, testWorkspaceID)
	}

	if _, err := store.GetAndDeleteRefreshToken(ctx, token.Token); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("second GetAndDeleteRefreshToken() error = %v, want ErrTokenNotFound", err)
	}
}

func TestGetAndDeleteRefreshToken_Concurrent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	now := time.Now()
	token := &storage.RefreshToken{
		Token:       "concurrent-refresh-token",
		ClientID:    "redis-test-client",
		UserID:      testUserID,
		WorkspaceID: testWorkspaceID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	if err := store.SaveRefreshToken(ctx, token); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.GetAndDeleteRefreshToken(ctx, token.Token)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("got %d successful rotations, want exactly 1", successes)
	}
}

func TestDeleteRefreshToken_Idempotent(t *testing.T) {
	store := testStore(t)

	if err := store.DeleteRefreshToken(context.Background(), "never-existed"); err != nil {
		t.Errorf("DeleteRefreshToken() of absent token error = %v", err)
	}
}

func TestKeyPrefixIsolation(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	other, err := New(Config{
		Address:   addrForTest(),
		KeyPrefix: store.prefix + "other:",
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Redis: %v", err)
	}
	t.Cleanup(func() {
		cleanupTestKeys(t, other)
		other.Close()
	})

	code := testCode("prefix-code", 10*time.Minute)
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	if _, err := other.GetAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("GetAuthorizationCode() across prefixes error = %v, want ErrCodeNotFound", err)
	}
}

func addrForTest() string {
	if addr := os.Getenv("REDIS_TEST_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}
