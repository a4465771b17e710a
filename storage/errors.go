package storage

import "errors"

// Sentinel errors returned by storage implementations. The server layer
// translates these into the OAuth error taxonomy; callers should match with
// errors.Is rather than comparing messages.
var (
	// ErrClientNotFound indicates the client ID is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrInvalidClientSecret indicates the presented secret does not match
	ErrInvalidClientSecret = errors.New("invalid client secret")

	// ErrCodeNotFound indicates the authorization code does not exist or was
	// already redeemed (the two cases are deliberately indistinguishable)
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeExpired indicates the authorization code exists but is past its expiry
	ErrCodeExpired = errors.New("authorization code expired")

	// ErrTokenNotFound indicates the refresh token does not exist or was
	// already rotated away
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrTokenExpired indicates the refresh token exists but is past its expiry
	ErrTokenExpired = errors.New("refresh token expired")

	// ErrRegistrationLimitReached indicates an IP hit the per-IP client cap
	ErrRegistrationLimitReached = errors.New("client registration limit reached for IP")
)
