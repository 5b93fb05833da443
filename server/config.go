package server

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// SigningKey is the Ed25519 private key used to sign access tokens.
	// When nil, an ephemeral key is generated at startup and issued tokens
	// will not survive a restart.
	SigningKey ed25519.PrivateKey

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 2592000 (30 days)

	// RotateRefreshTokens enables refresh token rotation: every refresh
	// consumes the presented token and issues a replacement. Reuse of a
	// rotated token is treated as a theft indicator.
	// Default: true (secure by default)
	RotateRefreshTokens bool // default: true

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy (nginx, HAProxy, etc.)
	// When false, uses direct connection IP (secure by default)
	// Default: false
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Used with TrustProxy to correctly extract client IP from X-Forwarded-For
	// Default: 1
	TrustedProxyCount int // default: 1

	// MaxClientsPerIP limits client registrations per IP address
	// Prevents DoS via mass client registration
	// Default: 10
	MaxClientsPerIP int // default: 10

	// ClockSkewGracePeriod is the grace period for token expiration checks (in seconds)
	// This prevents false expiration errors due to time synchronization issues
	// Default: 5 seconds
	ClockSkewGracePeriod int64 // seconds, default: 5

	// SupportedScopes is the fixed catalog of scope strings the server
	// recognizes. Scopes requested at registration or authorization that are
	// not in the catalog are dropped silently.
	// Default: ["read", "write", "delete", "admin"]
	SupportedScopes []string

	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED)
	// WARNING: The 'plain' method is insecure and deprecated in OAuth 2.1
	// Only enable for backward compatibility with legacy clients
	// When false, only S256 method is accepted (secure by default)
	// Default: false
	AllowPKCEPlain bool // default: false

	// RequirePKCE enforces PKCE for all authorization requests
	// WARNING: Disabling this significantly weakens security
	// When true, code_challenge parameter is mandatory (secure by default)
	// Default: true
	RequirePKCE bool // default: true

	// RequireConsent marks newly registered clients as requiring an
	// interactive consent step before authorization codes are issued.
	// Default: false
	RequireConsent bool // default: false

	// TrustedClients lists client IDs that bypass the consent step entirely.
	// The list is logged at startup so the bypass is always visible.
	TrustedClients []string

	// ConsentCacheTTL is how long approved consent decisions are remembered
	// so repeat authorizations for the same client and scope skip the prompt
	ConsentCacheTTL int64 // seconds, default: 300 (5 minutes)

	// AllowInsecureHTTP permits a non-localhost http:// issuer.
	// WARNING: Tokens and credentials are exposed to interception over HTTP.
	// Default: false
	AllowInsecureHTTP bool // default: false

	// ProductionMode enforces HTTPS for non-loopback redirect URIs
	ProductionMode bool

	// AllowLocalhostRedirectURIs permits loopback redirect URIs
	// (RFC 8252 Section 7.3 allows these for native apps)
	// Default: true
	AllowLocalhostRedirectURIs bool // default: true

	// AllowPrivateIPRedirectURIs permits redirect URIs pointing at RFC 1918
	// addresses. Leave disabled unless serving an internal/VPN deployment.
	// Default: false (SSRF protection)
	AllowPrivateIPRedirectURIs bool // default: false

	// AllowLinkLocalRedirectURIs permits link-local redirect URIs.
	// WARNING: Link-local addresses can target cloud metadata services.
	// Default: false
	AllowLinkLocalRedirectURIs bool // default: false

	// BlockedRedirectSchemes lists URI schemes never allowed as redirect
	// targets regardless of other settings
	// Default: ["javascript", "data", "file", "vbscript", "about"]
	BlockedRedirectSchemes []string

	// AllowedCustomSchemes is a list of allowed custom URI scheme patterns (regex)
	// Used for validating custom redirect URIs (e.g., myapp://, com.example.app://)
	// Empty list allows all RFC 3986 compliant schemes
	AllowedCustomSchemes []string

	// DNSValidation resolves redirect URI hostnames at registration time and
	// rejects hostnames resolving to private or link-local addresses
	// Default: false
	DNSValidation bool

	// DNSValidationTimeout bounds DNS resolution during redirect URI validation
	DNSValidationTimeout time.Duration // default: 5s

	// trustedClientsMap is the pre-computed lookup for TrustedClients
	trustedClientsMap map[string]bool
}

// DefaultScopes is the scope catalog used when none is configured.
var DefaultScopes = []string{"read", "write", "delete", "admin"}

// applySecureDefaults applies secure-by-default configuration values
// This follows the principle: secure by default, opt-in for less secure options
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applySecurityDefaults(config, logger)

	config.trustedClientsMap = make(map[string]bool, len(config.TrustedClients))
	for _, id := range config.TrustedClients {
		if id == "" {
			continue
		}
		config.trustedClientsMap[id] = true
	}

	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 2592000 // 30 days
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
	if config.MaxClientsPerIP == 0 {
		config.MaxClientsPerIP = 10
	}
	if config.ConsentCacheTTL == 0 {
		config.ConsentCacheTTL = 300 // 5 minutes
	}
	if config.DNSValidationTimeout == 0 {
		config.DNSValidationTimeout = 5 * time.Second
	}
	if len(config.SupportedScopes) == 0 {
		config.SupportedScopes = DefaultScopes
	}
	if len(config.BlockedRedirectSchemes) == 0 {
		config.BlockedRedirectSchemes = []string{"javascript", "data", "file", "vbscript", "about"}
	}
}

// applySecurityDefaults sets secure defaults for security-related configuration
// Uses a heuristic to detect if config is new (all security bools false) vs explicitly configured
func applySecurityDefaults(config *Config, logger *slog.Logger) {
	// Heuristic: if all security bools are false, it's likely a fresh config
	isDefaultConfig := !config.RotateRefreshTokens &&
		!config.RequirePKCE &&
		!config.AllowPKCEPlain &&
		!config.TrustProxy &&
		!config.AllowLocalhostRedirectURIs

	if isDefaultConfig {
		// Apply secure defaults for fresh config
		config.RotateRefreshTokens = true
		config.RequirePKCE = true
		config.AllowPKCEPlain = false
		config.TrustProxy = false
		config.AllowLocalhostRedirectURIs = true
		return
	}

	// User has explicitly configured security - log warnings for insecure settings
	logSecurityWarnings(config, logger)
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Warn("⚠️  SECURITY WARNING: PKCE is DISABLED",
			"risk", "Authorization code interception attacks",
			"recommendation", "Set RequirePKCE=true for OAuth 2.1 compliance",
			"learn_more", "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-v2-1-10#section-7.6")
	}
	if config.AllowPKCEPlain {
		logger.Warn("⚠️  SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc7636#section-4.2")
	}
	if !config.RotateRefreshTokens {
		logger.Warn("⚠️  SECURITY WARNING: Refresh token rotation is DISABLED",
			"risk", "Stolen refresh tokens remain usable until expiry",
			"recommendation", "Set RotateRefreshTokens=true")
	}
	if config.TrustProxy {
		logger.Warn("⚠️  SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
	if config.AllowPrivateIPRedirectURIs {
		logger.Warn("⚠️  SECURITY NOTICE: Private IP redirect URIs are ALLOWED",
			"risk", "SSRF against internal services via registered redirect URIs",
			"recommendation", "Only enable for internal/VPN deployments")
	}
	if config.AllowLinkLocalRedirectURIs {
		logger.Warn("⚠️  SECURITY WARNING: Link-local redirect URIs are ALLOWED",
			"risk", "Access to cloud metadata services (169.254.169.254)",
			"recommendation", "Set AllowLinkLocalRedirectURIs=false")
	}
}

// Validate checks configuration consistency beyond what defaults can repair.
// Called from New after defaults are applied.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if _, err := url.Parse(c.Issuer); err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	if c.AuthorizationCodeTTL < 0 || c.AccessTokenTTL < 0 || c.RefreshTokenTTL < 0 {
		return fmt.Errorf("token TTLs must not be negative")
	}
	if c.AuthorizationCodeTTL > c.RefreshTokenTTL {
		return fmt.Errorf("authorization code TTL (%ds) exceeds refresh token TTL (%ds)",
			c.AuthorizationCodeTTL, c.RefreshTokenTTL)
	}
	return nil
}

// IsTrustedClient reports whether a client ID is on the consent bypass list
func (c *Config) IsTrustedClient(clientID string) bool {
	return c.trustedClientsMap[clientID]
}

// secondsToDuration converts a seconds-denominated config value
func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}
