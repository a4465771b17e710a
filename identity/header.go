package identity

import (
	"context"
	"net/http"
)

// Default header names for HeaderResolver.
const (
	DefaultUserIDHeader      = "X-Auth-User-ID"
	DefaultWorkspaceIDHeader = "X-Auth-Workspace-ID"
	DefaultEmailHeader       = "X-Auth-Email"
	DefaultNameHeader        = "X-Auth-Name"
)

// HeaderResolver trusts identity headers set by an authenticating reverse
// proxy in front of the server. It must never be used on an endpoint reachable
// without passing through that proxy, since the headers are then attacker
// controlled.
type HeaderResolver struct {
	// UserIDHeader and WorkspaceIDHeader default to the X-Auth-* names above
	// when empty.
	UserIDHeader      string
	WorkspaceIDHeader string
	EmailHeader       string
	NameHeader        string
}

// NewHeaderResolver returns a HeaderResolver using the default header names.
func NewHeaderResolver() *HeaderResolver {
	return &HeaderResolver{
		UserIDHeader:      DefaultUserIDHeader,
		WorkspaceIDHeader: DefaultWorkspaceIDHeader,
		EmailHeader:       DefaultEmailHeader,
		NameHeader:        DefaultNameHeader,
	}
}

// ResolveSession implements Resolver.
func (h *HeaderResolver) ResolveSession(_ context.Context, r *http.Request) (*Session, error) {
	userHeader := h.UserIDHeader
	if userHeader == "" {
		userHeader = DefaultUserIDHeader
	}
	workspaceHeader := h.WorkspaceIDHeader
	if workspaceHeader == "" {
		workspaceHeader = DefaultWorkspaceIDHeader
	}
	emailHeader := h.EmailHeader
	if emailHeader == "" {
		emailHeader = DefaultEmailHeader
	}
	nameHeader := h.NameHeader
	if nameHeader == "" {
		nameHeader = DefaultNameHeader
	}

	userID := r.Header.Get(userHeader)
	workspaceID := r.Header.Get(workspaceHeader)
	if userID == "" || workspaceID == "" {
		return nil, ErrNoSession
	}

	return &Session{
		UserID:      userID,
		WorkspaceID: workspaceID,
		Email:       r.Header.Get(emailHeader),
		Name:        r.Header.Get(nameHeader),
	}, nil
}
