// Package mock provides a mock identity resolver for testing.
package mock

import (
	"context"
	"net/http"
	"sync"

	"github.com/planvia/agent-oauth/identity"
)

// Resolver is a mock implementation of identity.Resolver for testing.
type Resolver struct {
	mu                 sync.Mutex
	Session            *identity.Session
	Err                error
	ResolveSessionFunc func(ctx context.Context, r *http.Request) (*identity.Session, error)
	CallCount          int
}

// NewResolver creates a mock resolver that returns the given session. Pass
// nil to simulate an unauthenticated request.
func NewResolver(session *identity.Session) *Resolver {
	m := &Resolver{Session: session}
	m.ResolveSessionFunc = func(_ context.Context, _ *http.Request) (*identity.Session, error) {
		if m.Err != nil {
			return nil, m.Err
		}
		if m.Session == nil {
			return nil, identity.ErrNoSession
		}
		return m.Session, nil
	}
	return m
}

// ResolveSession implements identity.Resolver.
func (m *Resolver) ResolveSession(ctx context.Context, r *http.Request) (*identity.Session, error) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()
	return m.ResolveSessionFunc(ctx, r)
}
