// Package security provides security features for the authorization server
// including encryption, rate limiting, audit logging, and secure header
// management.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with sensitive-value protection.
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
	Type      string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogClientRegistered logs when a new client is registered
func (a *Auditor) LogClientRegistered(clientID, clientType, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"client_type": clientType,
		},
	})
}

// LogClientDeactivated logs when a client is deactivated
func (a *Auditor) LogClientDeactivated(clientID string) {
	a.LogEvent(Event{
		Type:     EventClientDeactivated,
		ClientID: clientID,
	})
}

// LogScopesDropped logs when unrecognized scopes are silently dropped at
// registration. Silent dropping is the documented contract, but the drop
// itself must remain auditable.
func (a *Auditor) LogScopesDropped(clientID string, dropped []string) {
	if len(dropped) == 0 {
		return
	}
	a.LogEvent(Event{
		Type:     EventScopesDropped,
		ClientID: clientID,
		Details: map[string]any{
			"dropped_scopes": dropped,
		},
	})
}

// LogAuthorizationCodeIssued logs when an authorization code is issued
func (a *Auditor) LogAuthorizationCodeIssued(clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeIssued,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogAuthorizationCodeReuse logs a detected authorization code replay
func (a *Auditor) LogAuthorizationCodeReuse(clientID, ipAddress string, tokensRevoked int) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeReuseDetected,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"tokens_revoked": tokensRevoked,
		},
	})
}

// LogTokenIssued logs when an access token is issued
func (a *Auditor) LogTokenIssued(clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenRefreshed logs when an access token is refreshed
func (a *Auditor) LogTokenRefreshed(clientID, ipAddress string, rotated bool) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogRefreshTokenReuse logs a detected reuse of a rotated refresh token
func (a *Auditor) LogRefreshTokenReuse(clientID, ipAddress, tokenValue string) {
	a.LogEvent(Event{
		Type:      EventRefreshTokenReuseDetected,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_hash": HashForLogging(tokenValue),
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(clientID, ipAddress, tokenType string) {
	a.LogEvent(Event{
		Type:      EventTokenRevoked,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogConsentDecision logs the outcome of a consent evaluation
func (a *Auditor) LogConsentDecision(clientID string, required, trusted bool) {
	a.LogEvent(Event{
		Type:     EventConsentEvaluated,
		ClientID: clientID,
		Details: map[string]any{
			"consent_required": required,
			"trusted_client":   trusted,
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
	})
}

// HashForLogging creates a truncated SHA256 hash of sensitive data so token
// and secret values never appear in logs in the clear.
func HashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
