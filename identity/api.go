package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultSessionCookie = "platform_session"

// APIResolver resolves sessions by forwarding the platform session cookie to
// the platform's session introspection endpoint.
type APIResolver struct {
	// SessionURL is the introspection endpoint, e.g.
	// https://platform.internal/api/v1/session
	SessionURL string

	// CookieName is the platform session cookie to forward. Defaults to
	// "platform_session".
	CookieName string

	// HTTPClient defaults to a client with a 10 second timeout.
	HTTPClient *http.Client
}

// NewAPIResolver returns an APIResolver for the given introspection endpoint.
func NewAPIResolver(sessionURL string) *APIResolver {
	return &APIResolver{
		SessionURL: sessionURL,
		CookieName: defaultSessionCookie,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type sessionResponse struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
}

// ResolveSession implements Resolver. A missing cookie or a 401/403 from the
// introspection endpoint maps to ErrNoSession; anything else is an internal
// error.
func (a *APIResolver) ResolveSession(ctx context.Context, r *http.Request) (*Session, error) {
	cookieName := a.CookieName
	if cookieName == "" {
		cookieName = defaultSessionCookie
	}

	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return nil, ErrNoSession
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.SessionURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session request: %w", err)
	}
	req.AddCookie(cookie)

	client := a.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrNoSession
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("session lookup returned status %d", resp.StatusCode)
	}

	var body sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	if body.UserID == "" || body.WorkspaceID == "" {
		return nil, ErrNoSession
	}

	return &Session{
		UserID:      body.UserID,
		WorkspaceID: body.WorkspaceID,
		Email:       body.Email,
		Name:        body.Name,
	}, nil
}
