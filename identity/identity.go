// Package identity defines the interface to the platform's user/session
// system. The authorization server never authenticates humans itself; it
// asks the surrounding platform who the signed-in user is and which
// workspace they are acting in, and binds that pair into everything it
// issues.
package identity

import (
	"context"
	"errors"
	"net/http"
)

// ErrNoSession is returned by a Resolver when the request carries no
// authenticated platform session. The authorization endpoint treats this as
// a normal, resumable interruption and redirects the user to the login page
// with a return-to URL, never as an OAuth error.
var ErrNoSession = errors.New("no authenticated session")

// Session identifies the signed-in user and their active workspace.
type Session struct {
	// UserID is the platform's unique identifier for the user
	UserID string

	// WorkspaceID is the tenant the user is currently acting in. The client
	// never supplies this; it is derived from the session so a client cannot
	// request access to a workspace its user is not in.
	WorkspaceID string

	// Email and Name are informational only and never enter issued tokens
	Email string
	Name  string
}

// Resolver resolves the platform session attached to an HTTP request.
// Implementations typically read the platform's session cookie and consult
// its session store, or trust headers injected by the platform's
// authenticating reverse proxy.
type Resolver interface {
	// ResolveSession returns the session for the request, or ErrNoSession if
	// the user is not signed in. Any other error is an internal failure of
	// the identity system.
	ResolveSession(ctx context.Context, r *http.Request) (*Session, error)
}
