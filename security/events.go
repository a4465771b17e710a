package security

// Audit event types emitted by the authorization server. These are stable
// identifiers intended for log-based alerting; renaming one is a breaking
// change for downstream dashboards.
const (
	// EventClientRegistered is emitted when a dynamic client registers
	EventClientRegistered = "client_registered"

	// EventCodeIssued is emitted when an authorization code is minted
	EventCodeIssued = "authorization_code_issued"

	// EventTokenIssued is emitted when an access/refresh token pair is issued
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is emitted when a refresh grant succeeds
	EventTokenRefreshed = "token_refreshed"

	// EventAuthFailure is emitted on any failed client authentication or
	// grant validation
	EventAuthFailure = "auth_failure"

	// EventCodeReplayed is emitted when an authorization code is presented
	// after it was already redeemed. This is a token-theft indicator.
	EventCodeReplayed = "authorization_code_replayed"

	// EventRefreshReplayed is emitted when a rotated-away refresh token is
	// presented again. This is a token-theft indicator.
	EventRefreshReplayed = "refresh_token_replayed"

	// EventRateLimitExceeded is emitted when a request is rejected by a
	// rate limiter
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventLoginRedirect is emitted when an unauthenticated user is sent to
	// the platform login page from the authorization endpoint
	EventLoginRedirect = "login_redirect"
)
