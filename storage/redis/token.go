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

// SaveRefreshToken persists a freshly issued refresh token with a TTL
// matching its lifetime.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid refresh token")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	ttl := calculateTTL(token.ExpiresAt)
	if err := s.client.Set(ctx, s.refreshKey(token.Token), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.logger.Debug("Saved refresh token",
		"token_prefix", util.SafeTruncate(token.Token, credentialLogLength),
		"user_id", token.UserID,
		"ttl", ttl)
	return nil
}

// GetAndDeleteRefreshToken atomically retrieves and removes a refresh token
// using GETDEL. Rotation depends on this: a presented token is consumed in
// the same command that reads it, so it can never be redeemed twice even
// across server instances.
func (s *Store) GetAndDeleteRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	data, err := s.client.GetDel(ctx, s.refreshKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: refresh token not found or already used", storage.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	var refreshToken storage.RefreshToken
	if err := json.Unmarshal(data, &refreshToken); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}

	if security.IsExpired(refreshToken.ExpiresAt) {
		return nil, storage.ErrTokenExpired
	}

	s.logger.Debug("Atomically rotated refresh token", "user_id", refreshToken.UserID)

	return &refreshToken, nil
}

// DeleteRefreshToken removes a refresh token. Deleting an absent token is not
// an error.
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.refreshKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}
