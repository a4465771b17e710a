// Package mock provides mock implementations of storage interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/planvia/agent-oauth/security"
	"github.com/planvia/agent-oauth/storage"
)

// ClientStore is a mock implementation of storage.ClientStore for testing.
type ClientStore struct {
	mu                      sync.RWMutex
	clients                 map[string]*storage.Client
	clientsPerIP            map[string]int
	SaveClientFunc          func(ctx context.Context, client *storage.Client) error
	GetClientFunc           func(ctx context.Context, clientID string) (*storage.Client, error)
	ValidateSecretFunc      func(ctx context.Context, clientID, clientSecret string) error
	ListClientsFunc         func(ctx context.Context) ([]*storage.Client, error)
	CheckIPLimitFunc        func(ctx context.Context, ip string, maxClientsPerIP int) error
	TrackClientIPFunc       func(ctx context.Context, ip string) error
	CallCounts              map[string]int
}

// NewClientStore creates a new mock client store
func NewClientStore() *ClientStore {
	m := &ClientStore{
		clients:      make(map[string]*storage.Client),
		clientsPerIP: make(map[string]int),
		CallCounts:   make(map[string]int),
	}

	// Set default implementations
	m.SaveClientFunc = func(_ context.Context, client *storage.Client) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.clients[client.ClientID] = client
		return nil
	}

	m.GetClientFunc = func(_ context.Context, clientID string) (*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		client, ok := m.clients[clientID]
		if !ok {
			return nil, storage.ErrClientNotFound
		}
		return client, nil
	}

	m.ValidateSecretFunc = func(ctx context.Context, clientID, clientSecret string) error {
		client, err := m.GetClientFunc(ctx, clientID)
		if err != nil {
			return err
		}
		if client.ClientSecretHash == "" {
			return storage.ErrInvalidClientSecret
		}
		if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
			return storage.ErrInvalidClientSecret
		}
		return nil
	}

	m.ListClientsFunc = func(_ context.Context) ([]*storage.Client, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		clients := make([]*storage.Client, 0, len(m.clients))
		for _, client := range m.clients {
			clients = append(clients, client)
		}
		return clients, nil
	}

	m.CheckIPLimitFunc = func(_ context.Context, ip string, maxClientsPerIP int) error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		if maxClientsPerIP <= 0 {
			return nil
		}
		if m.clientsPerIP[ip] >= maxClientsPerIP {
			return fmt.Errorf("%w: %s", storage.ErrRegistrationLimitReached, ip)
		}
		return nil
	}

	m.TrackClientIPFunc = func(_ context.Context, ip string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.clientsPerIP[ip]++
		return nil
	}

	return m
}

func (m *ClientStore) count(method string) {
	m.mu.Lock()
	m.CallCounts[method]++
	m.mu.Unlock()
}

// SaveClient implements storage.ClientStore
func (m *ClientStore) SaveClient(ctx context.Context, client *storage.Client) error {
	m.count("SaveClient")
	return m.SaveClientFunc(ctx, client)
}

// GetClient implements storage.ClientStore
func (m *ClientStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.count("GetClient")
	return m.GetClientFunc(ctx, clientID)
}

// ValidateClientSecret implements storage.ClientStore
func (m *ClientStore) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	m.count("ValidateClientSecret")
	return m.ValidateSecretFunc(ctx, clientID, clientSecret)
}

// ListClients implements storage.ClientStore
func (m *ClientStore) ListClients(ctx context.Context) ([]*storage.Client, error) {
	m.count("ListClients")
	return m.ListClientsFunc(ctx)
}

// CheckIPLimit implements storage.ClientStore
func (m *ClientStore) CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error {
	m.count("CheckIPLimit")
	return m.CheckIPLimitFunc(ctx, ip, maxClientsPerIP)
}

// TrackClientIP implements storage.ClientStore
func (m *ClientStore) TrackClientIP(ctx context.Context, ip string) error {
	m.count("TrackClientIP")
	return m.TrackClientIPFunc(ctx, ip)
}

// CodeStore is a mock implementation of storage.CodeStore for testing.
type CodeStore struct {
	mu                sync.RWMutex
	codes             map[string]*storage.AuthorizationCode
	SaveCodeFunc      func(ctx context.Context, code *storage.AuthorizationCode) error
	GetCodeFunc       func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	GetAndDeleteFunc  func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	DeleteCodeFunc    func(ctx context.Context, code string) error
	CallCounts        map[string]int
}

// NewCodeStore creates a new mock code store
func NewCodeStore() *CodeStore {
	m := &CodeStore{
		codes:      make(map[string]*storage.AuthorizationCode),
		CallCounts: make(map[string]int),
	}

	m.SaveCodeFunc = func(_ context.Context, code *storage.AuthorizationCode) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.codes[code.Code] = code
		return nil
	}

	m.GetCodeFunc = func(_ context.Context, code string) (*storage.AuthorizationCode, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		authCode, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrCodeNotFound
		}
		if security.IsExpired(authCode.ExpiresAt) {
			return nil, storage.ErrCodeExpired
		}
		return authCode, nil
	}

	m.GetAndDeleteFunc = func(_ context.Context, code string) (*storage.AuthorizationCode, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		authCode, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrCodeNotFound
		}
		delete(m.codes, code)
		if security.IsExpired(authCode.ExpiresAt) {
			return nil, storage.ErrCodeExpired
		}
		return authCode, nil
	}

	m.DeleteCodeFunc = func(_ context.Context, code string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.codes, code)
		return nil
	}

	return m
}

func (m *CodeStore) count(method string) {
	m.mu.Lock()
	m.CallCounts[method]++
	m.mu.Unlock()
}

// SaveAuthorizationCode implements storage.CodeStore
func (m *CodeStore) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	m.count("SaveAuthorizationCode")
	return m.SaveCodeFunc(ctx, code)
}

// GetAuthorizationCode implements storage.CodeStore
func (m *CodeStore) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.count("GetAuthorizationCode")
	return m.GetCodeFunc(ctx, code)
}

// GetAndDeleteAuthorizationCode implements storage.CodeStore
func (m *CodeStore) GetAndDeleteAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.count("GetAndDeleteAuthorizationCode")
	return m.GetAndDeleteFunc(ctx, code)
}

// DeleteAuthorizationCode implements storage.CodeStore
func (m *CodeStore) DeleteAuthorizationCode(ctx context.Context, code string) error {
	m.count("DeleteAuthorizationCode")
	return m.DeleteCodeFunc(ctx, code)
}

// RefreshTokenStore is a mock implementation of storage.RefreshTokenStore for testing.
type RefreshTokenStore struct {
	mu               sync.RWMutex
	tokens           map[string]*storage.RefreshToken
	SaveTokenFunc    func(ctx context.Context, token *storage.RefreshToken) error
	GetAndDeleteFunc func(ctx context.Context, token string) (*storage.RefreshToken, error)
	DeleteTokenFunc  func(ctx context.Context, token string) error
	CallCounts       map[string]int
}

// NewRefreshTokenStore creates a new mock refresh token store
func NewRefreshTokenStore() *RefreshTokenStore {
	m := &RefreshTokenStore{
		tokens:     make(map[string]*storage.RefreshToken),
		CallCounts: make(map[string]int),
	}

	m.SaveTokenFunc = func(_ context.Context, token *storage.RefreshToken) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.tokens[token.Token] = token
		return nil
	}

	m.GetAndDeleteFunc = func(_ context.Context, token string) (*storage.RefreshToken, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		refreshToken, ok := m.tokens[token]
		if !ok {
			return nil, storage.ErrTokenNotFound
		}
		delete(m.tokens, token)
		if security.IsExpired(refreshToken.ExpiresAt) {
			return nil, storage.ErrTokenExpired
		}
		return refreshToken, nil
	}

	m.DeleteTokenFunc = func(_ context.Context, token string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.tokens, token)
		return nil
	}

	return m
}

func (m *RefreshTokenStore) count(method string) {
	m.mu.Lock()
	m.CallCounts[method]++
	m.mu.Unlock()
}

// SaveRefreshToken implements storage.RefreshTokenStore
func (m *RefreshTokenStore) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	m.count("SaveRefreshToken")
	return m.SaveTokenFunc(ctx, token)
}

// GetAndDeleteRefreshToken implements storage.RefreshTokenStore
func (m *RefreshTokenStore) GetAndDeleteRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	m.count("GetAndDeleteRefreshToken")
	return m.GetAndDeleteFunc(ctx, token)
}

// DeleteRefreshToken implements storage.RefreshTokenStore
func (m *RefreshTokenStore) DeleteRefreshToken(ctx context.Context, token string) error {
	m.count("DeleteRefreshToken")
	return m.DeleteTokenFunc(ctx, token)
}
