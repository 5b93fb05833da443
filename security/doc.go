// Package security holds the cross-cutting security primitives shared by
// the HTTP layer, the authorization server core, and the storage backends:
// per-IP rate limiting, client registration throttling, token encryption
// at rest, client IP extraction, response security headers, request ID
// correlation, and audit logging.
//
// # Rate limiting
//
// RateLimiter applies a token bucket per identifier (normally the client
// IP). The tracked set is bounded with least-recently-used eviction and a
// background idle sweep, so rotating source addresses cannot grow memory
// without bound.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // 429 Too Many Requests
//	}
//
// ClientRegistrationRateLimiter is the stricter sliding-window variant
// for dynamic client registration, which creates persistent state per
// call and therefore gets a far lower cap than ordinary requests.
//
// # Token encryption
//
// Encryptor seals refresh tokens with AES-256-GCM before they reach a
// storage backend. Constructed without a key it passes values through
// unchanged, so stores hold one unconditionally and encryption stays an
// operator decision.
//
// # Audit logging
//
// Auditor emits structured security events (token grants, revocations,
// authentication failures, rate limit hits) through slog so they can be
// shipped to whatever sink the deployment already drains logs into.
package security
