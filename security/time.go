package security

import "time"

// DefaultClockSkewGracePeriod is the default grace period applied to expiry
// checks. It keeps tokens minted by one instance from being rejected by
// another whose clock drifted a few seconds; the cost is that a credential
// stays usable for at most this long past its true expiry.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired checks expiry with the default clock skew grace period
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks expiry with a custom grace period.
// A zero expiresAt means "never expires".
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}
