package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/planvia/agent-oauth/storage"
)

const (
	// clientIPTrackingTTL is the TTL for per-IP registration counters. The
	// cap effectively resets daily.
	clientIPTrackingTTL = 24 * time.Hour

	// dummyBcryptHash is a pre-computed hash of a throwaway value, compared
	// against when the client does not exist so secret validation takes the
	// same time on every path
	dummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
)

// SaveClient persists a registered client. Client records carry no TTL;
// registrations live until explicitly removed.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	if err := s.client.Set(ctx, s.clientKey(client.ClientID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	data, err := s.client.Get(ctx, s.clientKey(clientID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var client storage.Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	return &client, nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// A bcrypt comparison always runs, against a dummy hash when the client is
// unknown, so failures take the same time on every path.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, getErr := s.GetClient(ctx, clientID)

	hashToCompare := dummyBcryptHash
	if getErr == nil && client.ClientSecretHash != "" {
		hashToCompare = client.ClientSecretHash
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if getErr != nil {
		if errors.Is(getErr, storage.ErrClientNotFound) {
			return getErr
		}
		return fmt.Errorf("failed to validate client secret: %w", getErr)
	}
	if client.ClientSecretHash == "" || bcryptErr != nil {
		return storage.ErrInvalidClientSecret
	}

	return nil
}

// ListClients lists all registered clients using SCAN to avoid blocking the
// server on large keyspaces.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	var clients []*storage.Client

	iter := s.client.Scan(ctx, 0, s.prefix+"client:*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // expired between SCAN and GET
			}
			return nil, fmt.Errorf("failed to get client %s: %w", key, err)
		}

		var client storage.Client
		if err := json.Unmarshal(data, &client); err != nil {
			// IP counter keys share the prefix; skip anything that is not a
			// client record
			continue
		}
		if client.ClientID == "" {
			continue
		}

		clients = append(clients, &client)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan clients: %w", err)
	}

	return clients, nil
}

// CheckIPLimit checks if an IP has reached the client registration limit
func (s *Store) CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error {
	if maxClientsPerIP <= 0 {
		return nil // No limit
	}

	count, err := s.client.Get(ctx, s.clientIPKey(ip)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to check IP limit: %w", err)
	}

	if count >= maxClientsPerIP {
		return fmt.Errorf("%w: %s (%d/%d clients)", storage.ErrRegistrationLimitReached, ip, count, maxClientsPerIP)
	}

	return nil
}

// TrackClientIP increments the registration count for an IP address
func (s *Store) TrackClientIP(ctx context.Context, ip string) error {
	key := s.clientIPKey(ip)

	if err := s.client.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to track client IP: %w", err)
	}

	// Reset the counter daily
	if err := s.client.Expire(ctx, key, clientIPTrackingTTL).Err(); err != nil {
		s.logger.Warn("Failed to set TTL on client IP tracking key", "error", err)
	}

	return nil
}
