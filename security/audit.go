package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
// User identifiers are hashed before they reach the log stream so that audit
// logs can be retained longer than application logs.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type        string
	UserID      string
	WorkspaceID string
	ClientID    string
	IPAddress   string
	Details     map[string]any
	Timestamp   time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"workspace_id", event.WorkspaceID,
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogClientRegistered logs a successful dynamic client registration
func (a *Auditor) LogClientRegistered(clientID, clientName, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"client_name": clientName,
		},
	})
}

// LogCodeIssued logs the minting of an authorization code
func (a *Auditor) LogCodeIssued(userID, workspaceID, clientID string) {
	a.LogEvent(Event{
		Type:        EventCodeIssued,
		UserID:      userID,
		WorkspaceID: workspaceID,
		ClientID:    clientID,
	})
}

// LogTokenIssued logs the issuance of an access/refresh token pair
func (a *Auditor) LogTokenIssued(userID, workspaceID, clientID, ipAddress, grantType string) {
	a.LogEvent(Event{
		Type:        EventTokenIssued,
		UserID:      userID,
		WorkspaceID: workspaceID,
		ClientID:    clientID,
		IPAddress:   ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
		},
	})
}

// LogTokenRefreshed logs a successful refresh grant (the presented token was
// rotated away and replaced)
func (a *Auditor) LogTokenRefreshed(userID, workspaceID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:        EventTokenRefreshed,
		UserID:      userID,
		WorkspaceID: workspaceID,
		ClientID:    clientID,
		IPAddress:   ipAddress,
	})
}

// LogAuthFailure logs an authentication or grant validation failure
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// hashForLogging produces a short stable hash of a sensitive value so that
// events for the same user can be correlated without exposing the ID.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(sum[:8])
}
