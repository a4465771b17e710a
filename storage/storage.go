package storage

import (
	"context"
	"time"
)

// ClientStore manages dynamically registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient persists a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID.
	// Returns ErrClientNotFound for unknown IDs.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret checks a presented secret against the stored hash.
	// Returns ErrClientNotFound or ErrInvalidClientSecret on failure.
	// Implementations must take the same amount of time whether or not the
	// client exists, to avoid leaking registration state through timing.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients (for admin tooling)
	ListClients(ctx context.Context) ([]*Client, error)

	// CheckIPLimit returns ErrRegistrationLimitReached when the IP already
	// owns maxClientsPerIP registrations. A maxClientsPerIP of 0 disables
	// the check.
	CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error

	// TrackClientIP records one successful registration against the IP
	TrackClientIP(ctx context.Context, ip string) error
}

// CodeStore manages short-lived, single-use authorization codes.
type CodeStore interface {
	// SaveAuthorizationCode persists a freshly minted code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode reads a code without consuming it. Returns
	// ErrCodeNotFound for unknown codes and ErrCodeExpired for codes past
	// their expiry. The code is left in place either way; expiry deletion
	// is the caller's decision.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// GetAndDeleteAuthorizationCode atomically retrieves and removes a code.
	// This is the single-use enforcement point: when two requests race on
	// the same code, exactly one receives the record and the other gets
	// ErrCodeNotFound. Expired codes are removed and reported as
	// ErrCodeExpired.
	GetAndDeleteAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code. Deleting an absent code is not
	// an error.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// RefreshTokenStore manages long-lived refresh tokens with rotation.
type RefreshTokenStore interface {
	// SaveRefreshToken persists a freshly issued refresh token
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetAndDeleteRefreshToken atomically retrieves and removes a refresh
	// token. Rotation depends on this being atomic: a presented token is
	// consumed whether or not issuance of its replacement succeeds, so it
	// can never be redeemed twice. Expired tokens are removed and reported
	// as ErrTokenExpired; unknown (or already rotated) tokens as
	// ErrTokenNotFound.
	GetAndDeleteRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// DeleteRefreshToken removes a refresh token. Deleting an absent token
	// is not an error.
	DeleteRefreshToken(ctx context.Context, token string) error
}

// Client represents a registered OAuth client.
type Client struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash; the plaintext secret is never stored
	ClientName              string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	Scope                   string
	Contacts                []string
	LogoURI                 string
	ClientURI               string
	PolicyURI               string
	TosURI                  string
	CreatedAt               time.Time
}

// AuthorizationCode is a single-use proof that a user authorized a client
// for a specific redirect URI within their active workspace.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              string
	WorkspaceID         string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// RefreshToken is an opaque long-lived credential bound to the user and
// workspace it was issued for. It is replaced on every use.
type RefreshToken struct {
	Token       string
	ClientID    string
	UserID      string
	WorkspaceID string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}
