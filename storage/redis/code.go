package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/planvia/agent-oauth/internal/util"
	"github.com/planvia/agent-oauth/security"
	"github.com/planvia/agent-oauth/storage"
)

// SaveAuthorizationCode persists a freshly minted code with a TTL matching
// its lifetime, so Redis removes it even if it is never redeemed.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := calculateTTL(code.ExpiresAt)
	if err := s.client.Set(ctx, s.codeKey(code.Code), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, credentialLogLength),
		"ttl", ttl)
	return nil
}

// GetAuthorizationCode retrieves a code without consuming it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	data, err := s.client.Get(ctx, s.codeKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var authCode storage.AuthorizationCode
	if err := json.Unmarshal(data, &authCode); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	// TTL should handle this, but double-check against the stored expiry
	if security.IsExpired(authCode.ExpiresAt) {
		return nil, storage.ErrCodeExpired
	}

	return &authCode, nil
}

// GetAndDeleteAuthorizationCode atomically retrieves and removes a code
// using GETDEL, so when two instances race on the same code exactly one wins.
func (s *Store) GetAndDeleteAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	data, err := s.client.GetDel(ctx, s.codeKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to redeem authorization code: %w", err)
	}

	var authCode storage.AuthorizationCode
	if err := json.Unmarshal(data, &authCode); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	if security.IsExpired(authCode.ExpiresAt) {
		return nil, storage.ErrCodeExpired
	}

	s.logger.Debug("Atomically redeemed authorization code",
		"code_prefix", util.SafeTruncate(code, credentialLogLength))

	return &authCode, nil
}

// DeleteAuthorizationCode removes a code. Deleting an absent code is not an error.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if err := s.client.Del(ctx, s.codeKey(code)).Err(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}
