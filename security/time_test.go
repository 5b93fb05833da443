package security

import (
	"testing"
	"time"
)

func TestIsTokenExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"expires in an hour", now.Add(time.Hour), false},
		{"zero time never expires", time.Time{}, false},
		{"expired 10 minutes ago", now.Add(-10 * time.Minute), true},
		{"just expired, inside grace period", now.Add(-time.Second), false},
		{"expired past grace period", now.Add(-DefaultClockSkewGracePeriod - time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTokenExpired(tt.expiresAt); got != tt.want {
				t.Errorf("IsTokenExpired(%v) = %v, want %v", tt.expiresAt, got, tt.want)
			}
		})
	}
}

func TestIsTokenExpiredWithGracePeriod(t *testing.T) {
	now := time.Now()

	if !IsTokenExpiredWithGracePeriod(now.Add(-time.Second), 0) {
		t.Error("expired token with zero grace period should report expired")
	}
	if IsTokenExpiredWithGracePeriod(now.Add(-time.Second), time.Minute) {
		t.Error("token inside the grace period should not report expired")
	}
	if IsTokenExpiredWithGracePeriod(time.Time{}, 0) {
		t.Error("zero time should never expire")
	}
}
