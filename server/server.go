package server

import (
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/instrumentation"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/scope"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/security"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/token"
)

// OAuth error code constants used in flow error messages.
// These are intentionally duplicated from the root package to avoid circular
// imports (root package imports server, server can't import root).
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeServerError             = "server_error"
)

// safeTruncate safely truncates a string to maxLen characters without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen characters. This prevents index out of bounds errors when logging.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server implements the authorization server core: client registry,
// authorization code flow, token service, and consent evaluation.
// HTTP concerns live in the root package; Server works in terms of
// requests, grants, and storage records.
type Server struct {
	clientStore storage.ClientStore
	flowStore   storage.FlowStore
	tokenStore  storage.TokenStore
	issuer      *token.Issuer
	catalog     *scope.Catalog
	consent     *consentCache

	Auditor                  *security.Auditor
	RateLimiter              *security.RateLimiter                   // IP-based rate limiter
	RegistrationRateLimiter  *security.ClientRegistrationRateLimiter // registration burst limiter
	SecurityEventRateLimiter *security.RateLimiter                   // Rate limiter for security event logging (DoS prevention)
	Instrumentation          *instrumentation.Instrumentation        // optional, nil-safe
	Logger                   *slog.Logger
	Config                   *Config
}

// New creates a new authorization server core
func New(
	clientStore storage.ClientStore,
	flowStore storage.FlowStore,
	tokenStore storage.TokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config == nil {
		config = &Config{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	// Apply secure defaults
	config = applySecureDefaults(config, logger)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	signingKey := config.SigningKey
	if signingKey == nil {
		key, err := token.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		signingKey = key
		logger.Warn("No signing key configured, generated an ephemeral key",
			"consequence", "Issued access tokens will not survive a restart")
	}

	issuer, err := token.NewIssuer(
		config.Issuer,
		signingKey,
		secondsToDuration(config.AccessTokenTTL),
		secondsToDuration(config.ClockSkewGracePeriod),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build token issuer: %w", err)
	}

	srv := &Server{
		clientStore: clientStore,
		flowStore:   flowStore,
		tokenStore:  tokenStore,
		issuer:      issuer,
		catalog:     scope.NewCatalog(config.SupportedScopes),
		consent:     newConsentCache(secondsToDuration(config.ConsentCacheTTL)),
		Config:      config,
		Logger:      logger,
	}

	// Validate HTTPS enforcement (OAuth 2.1 security requirement)
	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	// Consent bypass must always be visible in logs
	if len(config.TrustedClients) > 0 {
		logger.Info("Consent bypass enabled for trusted clients",
			"trusted_clients", config.TrustedClients)
	}

	return srv, nil
}

// Issuer exposes the access token issuer (for the handler's verifier needs)
func (s *Server) Issuer() *token.Issuer {
	return s.issuer
}

// Catalog exposes the scope catalog (for discovery metadata)
func (s *Server) Catalog() *scope.Catalog {
	return s.catalog
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetRegistrationRateLimiter sets the registration burst limiter
func (s *Server) SetRegistrationRateLimiter(rl *security.ClientRegistrationRateLimiter) {
	s.RegistrationRateLimiter = rl
}

// SetSecurityEventRateLimiter sets the rate limiter for security event logging
// This prevents DoS attacks via log flooding from repeated security events
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetInstrumentation attaches OpenTelemetry instrumentation. All metric
// recording is nil-safe, so this is optional.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
}

// metrics returns the metrics recorder, or nil when instrumentation is off
func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

// allowSecurityEventLog reports whether a security event for the given key
// should be logged, honoring the security event rate limiter when configured
func (s *Server) allowSecurityEventLog(key string) bool {
	if s.SecurityEventRateLimiter == nil {
		return true
	}
	return s.SecurityEventRateLimiter.Allow(key)
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for codes, client IDs, and tokens.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
