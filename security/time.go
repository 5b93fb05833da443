package security

import "time"

// DefaultClockSkewGracePeriod is the default grace period for expiry checks.
// Tokens remain valid for this long past their recorded expiry so minor NTP
// drift between instances does not produce false expirations.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsTokenExpired reports whether expiresAt has passed, allowing the default
// clock skew grace period. A zero time means no expiration.
func IsTokenExpired(expiresAt time.Time) bool {
	return IsTokenExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsTokenExpiredWithGracePeriod reports whether expiresAt has passed by more
// than gracePeriod.
func IsTokenExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}
