package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the client IP for rate limiting and audit records.
//
// With trustProxy disabled the connection's RemoteAddr is used, which cannot
// be spoofed. With trustProxy enabled, X-Forwarded-For is consulted first
// and X-Real-IP second; trustedProxyCount says how many proxies in front of
// the server are under our control, counted from the right of the
// X-Forwarded-For chain. Entries to the left of the trusted suffix are
// attacker-controllable, so only the first untrusted hop is taken.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientIPFromForwardedChain(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port, as seen in tests and unix sockets
		return r.RemoteAddr
	}
	return host
}

// clientIPFromForwardedChain picks the client entry out of an
// X-Forwarded-For header of the form "client, proxyN, ..., proxy1" where
// the rightmost trustedProxyCount entries were appended by proxies we run.
func clientIPFromForwardedChain(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	hops := strings.Split(xff, ",")

	trusted := trustedProxyCount
	if trusted == 0 {
		trusted = 1
	}

	// The client is immediately left of the trusted suffix. Short chains
	// fall back to the leftmost entry.
	idx := len(hops) - trusted - 1
	if idx < 0 {
		idx = 0
	}

	return parseIP(strings.TrimSpace(hops[idx]))
}

// parseIP returns the input when it is a well-formed IP, empty otherwise.
// Malformed header values are discarded rather than passed to limiters.
func parseIP(value string) string {
	if value == "" || net.ParseIP(value) == nil {
		return ""
	}
	return value
}
