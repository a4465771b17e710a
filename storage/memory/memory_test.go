package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/planvia/agent-oauth/internal/testutil"
	"github.com/planvia/agent-oauth/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := New()
	t.Cleanup(store.Stop)
	return store
}

func TestSaveAndGetClient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
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

	// The returned record is a copy; mutating it must not touch the store
	got.ClientName = "mutated"
	again, err := store.GetClient(ctx, client.ClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if again.ClientName == "mutated" {
		t.Error("GetClient() returned a reference to the stored record")
	}
}

func TestGetClient_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetClient(context.Background(), "no-such-client")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient() error = %v, want ErrClientNotFound", err)
	}
}

func TestSaveClient_Invalid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveClient(ctx, nil); err == nil {
		t.Error("SaveClient(nil) should fail")
	}
	if err := store.SaveClient(ctx, &storage.Client{}); err == nil {
		t.Error("SaveClient() without client ID should fail")
	}
}

func TestValidateClientSecret(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	if err := store.ValidateClientSecret(ctx, client.ClientID, testutil.TestClientSecret); err != nil {
		t.Errorf("ValidateClientSecret() with correct secret error = %v", err)
	}
	if err := store.ValidateClientSecret(ctx, client.ClientID, "wrong"); !errors.Is(err, storage.ErrInvalidClientSecret) {
		t.Errorf("ValidateClientSecret() with wrong secret error = %v, want ErrInvalidClientSecret", err)
	}
	if err := store.ValidateClientSecret(ctx, "no-such-client", "secret"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("ValidateClientSecret() for unknown client error = %v, want ErrClientNotFound", err)
	}

	public := testutil.GeneratePublicTestClient()
	if err := store.SaveClient(ctx, public); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	if err := store.ValidateClientSecret(ctx, public.ClientID, ""); !errors.Is(err, storage.ErrInvalidClientSecret) {
		t.Errorf("ValidateClientSecret() for secretless client error = %v, want ErrInvalidClientSecret", err)
	}
}

func TestListClients(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"client-a", "client-b", "client-c"} {
		client := testutil.GenerateTestClient()
		client.ClientID = id
		if err := store.SaveClient(ctx, client); err != nil {
			t.Fatalf("SaveClient(%s) error = %v", id, err)
		}
	}

	clients, err := store.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients() error = %v", err)
	}
	if len(clients) != 3 {
		t.Errorf("len(clients) = %d, want 3", len(clients))
	}
}

func TestIPLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CheckIPLimit(ctx, "192.0.2.1", 2); err != nil {
		t.Fatalf("CheckIPLimit() on fresh IP error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.TrackClientIP(ctx, "192.0.2.1"); err != nil {
			t.Fatalf("TrackClientIP() error = %v", err)
		}
	}

	if err := store.CheckIPLimit(ctx, "192.0.2.1", 2); !errors.Is(err, storage.ErrRegistrationLimitReached) {
		t.Errorf("CheckIPLimit() at cap error = %v, want ErrRegistrationLimitReached", err)
	}

	// Non-positive limit disables the cap
	if err := store.CheckIPLimit(ctx, "192.0.2.1", -1); err != nil {
		t.Errorf("CheckIPLimit() with disabled cap error = %v", err)
	}
}

func TestAuthorizationCodeLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	// Peek does not consume
	for i := 0; i < 2; i++ {
		got, err := store.GetAuthorizationCode(ctx, code.Code)
		if err != nil {
			t.Fatalf("GetAuthorizationCode() error = %v", err)
		}
		if got.UserID != code.UserID {
			t.Errorf("UserID = %q, want %q", got.UserID, code.UserID)
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
		t.Errorf("second redemption error = %v, want ErrCodeNotFound", err)
	}
}

func TestGetAuthorizationCode_Expired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	code.ExpiresAt = time.Now().Add(-time.Minute)
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	if _, err := store.GetAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeExpired) {
		t.Errorf("GetAuthorizationCode() error = %v, want ErrCodeExpired", err)
	}

	// The atomic path also reports expiry and removes the entry
	if _, err := store.GetAndDeleteAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeExpired) {
		t.Errorf("GetAndDeleteAuthorizationCode() error = %v, want ErrCodeExpired", err)
	}
	if _, err := store.GetAndDeleteAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("expired code not removed, error = %v, want ErrCodeNotFound", err)
	}
}

func TestGetAndDeleteAuthorizationCode_Concurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	const workers = 32
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.GetAndDeleteAuthorizationCode(ctx, code.Code)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
		} else if !errors.Is(err, storage.ErrCodeNotFound) {
			t.Errorf("unexpected error = %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("successful redemptions = %d, want exactly 1", successes)
	}
}

func TestDeleteAuthorizationCode_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	if err := store.DeleteAuthorizationCode(ctx, code.Code); err != nil {
		t.Errorf("DeleteAuthorizationCode() error = %v", err)
	}
	if err := store.DeleteAuthorizationCode(ctx, code.Code); err != nil {
		t.Errorf("second DeleteAuthorizationCode() error = %v", err)
	}
	if err := store.DeleteAuthorizationCode(ctx, "never-existed"); err != nil {
		t.Errorf("DeleteAuthorizationCode() for absent code error = %v", err)
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestRefreshToken()
	if err := store.SaveRefreshToken(ctx, token); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	got, err := store.GetAndDeleteRefreshToken(ctx, token.Token)
	if err != nil {
		t.Fatalf("GetAndDeleteRefreshToken() error = %v", err)
	}
	if got.UserID != token.UserID || got.WorkspaceID != token.WorkspaceID {
		t.Errorf("record = %+v, want saved identity", got)
	}

	if _, err := store.GetAndDeleteRefreshToken(ctx, token.Token); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("second rotation error = %v, want ErrTokenNotFound", err)
	}
}

func TestGetAndDeleteRefreshToken_Expired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestRefreshToken()
	token.ExpiresAt = time.Now().Add(-time.Hour)
	if err := store.SaveRefreshToken(ctx, token); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	if _, err := store.GetAndDeleteRefreshToken(ctx, token.Token); !errors.Is(err, storage.ErrTokenExpired) {
		t.Errorf("GetAndDeleteRefreshToken() error = %v, want ErrTokenExpired", err)
	}
	// Consumed even though expired
	if _, err := store.GetAndDeleteRefreshToken(ctx, token.Token); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expired token not removed, error = %v, want ErrTokenNotFound", err)
	}
}

func TestGetAndDeleteRefreshToken_Concurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestRefreshToken()
	if err := store.SaveRefreshToken(ctx, token); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	const workers = 32
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.GetAndDeleteRefreshToken(ctx, token.Token)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("successful rotations = %d, want exactly 1", successes)
	}
}

func TestCleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expired := testutil.GenerateTestAuthorizationCode()
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	live := testutil.GenerateTestAuthorizationCode()

	if err := store.SaveAuthorizationCode(ctx, expired); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}
	if err := store.SaveAuthorizationCode(ctx, live); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	deadToken := testutil.GenerateTestRefreshToken()
	deadToken.ExpiresAt = time.Now().Add(-time.Minute)
	if err := store.SaveRefreshToken(ctx, deadToken); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	store.cleanup()

	if _, err := store.GetAuthorizationCode(ctx, expired.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("expired code survived cleanup, error = %v", err)
	}
	if _, err := store.GetAuthorizationCode(ctx, live.Code); err != nil {
		t.Errorf("live code removed by cleanup, error = %v", err)
	}
	if _, err := store.GetAndDeleteRefreshToken(ctx, deadToken.Token); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expired refresh token survived cleanup, error = %v", err)
	}
}

func TestStop_Idempotent(t *testing.T) {
	store := New()
	store.Stop()
	store.Stop()
}
