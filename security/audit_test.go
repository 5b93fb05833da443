package security

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturedAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewAuditor(logger, enabled), &buf
}

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{name: "enabled with logger", logger: slog.Default(), enabled: true},
		{name: "disabled with logger", logger: slog.Default(), enabled: false},
		{name: "enabled with nil logger", logger: nil, enabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			require.NotNil(t, auditor)
			assert.Equal(t, tt.enabled, auditor.enabled)
			assert.NotNil(t, auditor.logger)
		})
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	event := Event{
		Type:      "test_event",
		ClientID:  "client-456",
		IPAddress: "192.168.1.1",
		Details:   map[string]any{"key": "value"},
	}

	t.Run("enabled", func(t *testing.T) {
		auditor, buf := newCapturedAuditor(true)
		auditor.LogEvent(event)
		assert.Contains(t, buf.String(), "security_audit")
		assert.Contains(t, buf.String(), "client-456")
	})

	t.Run("disabled", func(t *testing.T) {
		auditor, buf := newCapturedAuditor(false)
		auditor.LogEvent(event)
		assert.Zero(t, buf.Len())
	})
}

func TestAuditor_EventHelpers(t *testing.T) {
	tests := []struct {
		name string
		log  func(a *Auditor)
		want string
	}{
		{
			name: "client registered",
			log:  func(a *Auditor) { a.LogClientRegistered("client-1", "confidential", "192.168.1.1") },
			want: EventClientRegistered,
		},
		{
			name: "client deactivated",
			log:  func(a *Auditor) { a.LogClientDeactivated("client-1") },
			want: EventClientDeactivated,
		},
		{
			name: "code issued",
			log:  func(a *Auditor) { a.LogAuthorizationCodeIssued("client-1", "192.168.1.1", "read write") },
			want: EventAuthorizationCodeIssued,
		},
		{
			name: "code reuse detected",
			log:  func(a *Auditor) { a.LogAuthorizationCodeReuse("client-1", "192.168.1.1", 3) },
			want: EventAuthorizationCodeReuseDetected,
		},
		{
			name: "token issued",
			log:  func(a *Auditor) { a.LogTokenIssued("client-1", "192.168.1.1", "read") },
			want: EventTokenIssued,
		},
		{
			name: "token refreshed",
			log:  func(a *Auditor) { a.LogTokenRefreshed("client-1", "192.168.1.1", true) },
			want: EventTokenRefreshed,
		},
		{
			name: "refresh reuse detected",
			log:  func(a *Auditor) { a.LogRefreshTokenReuse("client-1", "192.168.1.1", "tok-value") },
			want: EventRefreshTokenReuseDetected,
		},
		{
			name: "token revoked",
			log:  func(a *Auditor) { a.LogTokenRevoked("client-1", "192.168.1.1", "refresh_token") },
			want: EventTokenRevoked,
		},
		{
			name: "consent decision",
			log:  func(a *Auditor) { a.LogConsentDecision("client-1", true, false) },
			want: EventConsentEvaluated,
		},
		{
			name: "auth failure",
			log:  func(a *Auditor) { a.LogAuthFailure("client-1", "192.168.1.1", "invalid credentials") },
			want: EventAuthFailure,
		},
		{
			name: "rate limit exceeded",
			log:  func(a *Auditor) { a.LogRateLimitExceeded("192.168.1.1") },
			want: EventRateLimitExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor, buf := newCapturedAuditor(true)
			tt.log(auditor)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestAuditor_LogScopesDropped(t *testing.T) {
	auditor, buf := newCapturedAuditor(true)

	auditor.LogScopesDropped("client-1", nil)
	assert.Zero(t, buf.Len(), "no event for empty drop list")

	auditor.LogScopesDropped("client-1", []string{"delete"})
	assert.Contains(t, buf.String(), EventScopesDropped)
	assert.Contains(t, buf.String(), "delete")
}

func TestAuditor_LogRefreshTokenReuseHashesValue(t *testing.T) {
	auditor, buf := newCapturedAuditor(true)

	auditor.LogRefreshTokenReuse("client-1", "192.168.1.1", "super-secret-token")

	out := buf.String()
	assert.NotContains(t, out, "super-secret-token")
	assert.Contains(t, out, HashForLogging("super-secret-token"))
}

func TestHashForLogging(t *testing.T) {
	assert.Equal(t, "<empty>", HashForLogging(""))

	got := HashForLogging("sensitive-data")
	assert.Len(t, got, 16)
	assert.NotEqual(t, "sensitive-data", got)

	assert.Equal(t, HashForLogging("test-data"), HashForLogging("test-data"))
	assert.NotEqual(t, HashForLogging("data1"), HashForLogging("data2"))
}
