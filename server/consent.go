package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/scope"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
)

const defaultConsentCacheEntries = 1000

// consentCache remembers approved consent decisions per client and scope set
// so repeat authorizations inside the TTL skip the interactive prompt.
type consentCache struct {
	mu         sync.RWMutex
	entries    map[string]time.Time // key -> expiry
	maxEntries int
	ttl        time.Duration
}

// newConsentCache creates a consent decision cache
func newConsentCache(ttl time.Duration) *consentCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &consentCache{
		entries:    make(map[string]time.Time),
		maxEntries: defaultConsentCacheEntries,
		ttl:        ttl,
	}
}

// consentKey builds the cache key from a client and its granted scope set.
// Scopes are canonicalized so "read write" and "write read" share an entry.
func consentKey(clientID string, granted []string) string {
	return clientID + "|" + scope.Join(scope.Canonical(granted))
}

// Approved reports whether a matching consent approval is cached and fresh
func (c *consentCache) Approved(clientID string, granted []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	expiry, ok := c.entries[consentKey(clientID, granted)]
	if !ok {
		return false
	}
	return time.Now().Before(expiry)
}

// Approve records a consent approval for the cache TTL
func (c *consentCache) Approve(clientID string, granted []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	c.entries[consentKey(clientID, granted)] = time.Now().Add(c.ttl)
}

// Revoke forgets all cached approvals for a client
func (c *consentCache) Revoke(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := clientID + "|"
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
}

// evictOldest removes the entry closest to expiry.
// Caller must hold write lock.
//
// Note: This is O(n) eviction. For the default max of 1000 entries this is
// acceptable and keeps the implementation simple.
func (c *consentCache) evictOldest() {
	var oldestKey string
	var oldestExpiry time.Time

	for key, expiry := range c.entries {
		if oldestKey == "" || expiry.Before(oldestExpiry) {
			oldestKey = key
			oldestExpiry = expiry
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// CleanupExpired removes all expired entries from the cache
func (c *consentCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, expiry := range c.entries {
		if now.After(expiry) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// RequiresConsent decides whether an authorization for the given client and
// granted scope set needs an interactive consent step. Trusted clients bypass
// consent entirely; otherwise the client's registration flag decides, softened
// by recently cached approvals.
func (s *Server) RequiresConsent(client *storage.Client, granted []string) bool {
	trusted := s.Config.IsTrustedClient(client.ClientID)

	required := false
	switch {
	case trusted:
		required = false
	case !client.RequiresConsent:
		required = false
	case s.consent.Approved(client.ClientID, granted):
		required = false
	default:
		required = true
	}

	if s.Auditor != nil {
		s.Auditor.LogConsentDecision(client.ClientID, required, trusted)
	}

	return required
}

// ApproveConsent completes a pending authorization after an interactive
// approval: the decision is cached and the authorization code is minted.
func (s *Server) ApproveConsent(ctx context.Context, consent *ConsentRequest) (*AuthorizationRedirect, error) {
	if consent == nil {
		return nil, fmt.Errorf("%s: missing consent request", ErrorCodeInvalidRequest)
	}

	client, err := s.clientStore.GetClient(ctx, consent.ClientID)
	if err != nil {
		s.Logger.Debug("Consent approval for unknown client", "client_id", consent.ClientID)
		return nil, fmt.Errorf("%s: unknown client", ErrorCodeInvalidClient)
	}
	if !client.Active {
		return nil, fmt.Errorf("%s: client is deactivated", ErrorCodeInvalidClient)
	}

	granted := scope.Parse(consent.Scope)
	s.consent.Approve(client.ClientID, granted)

	s.Logger.Info("Consent approved",
		"client_id", client.ClientID,
		"scope", consent.Scope)

	return s.issueAuthorizationCode(ctx, client, consent.Scope, consent.RedirectURI,
		consent.State, consent.CodeChallenge, consent.CodeChallengeMethod, consent.ClientIP)
}

// DenyConsent rejects a pending authorization. The caller redirects back to
// the client with an access_denied error per RFC 6749 Section 4.1.2.1.
func (s *Server) DenyConsent(consent *ConsentRequest) error {
	if consent == nil {
		return fmt.Errorf("%s: missing consent request", ErrorCodeInvalidRequest)
	}

	s.Logger.Info("Consent denied",
		"client_id", consent.ClientID,
		"scope", consent.Scope)

	return fmt.Errorf("%s: resource owner denied the request", ErrorCodeAccessDenied)
}
