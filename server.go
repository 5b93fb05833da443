// Package sallyport assembles a self-contained OAuth 2.1 authorization
// server: dynamic client registration, authorization-code grant with PKCE,
// token issuance with refresh rotation and reuse detection, scope-based
// request authorization, RFC 7009 revocation semantics, and discovery
// metadata. The root package is a thin facade over the protocol core in
// server/ plus an HTTP adapter.
package sallyport

import (
	"fmt"
	"log/slog"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/security"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/server"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage/memory"
)

// securityEventLogRate caps the rate of high-severity log lines produced by
// attack-indicator events (code reuse, refresh reuse) so an attacker cannot
// flood the logs.
const (
	securityEventLogRate  = 1
	securityEventLogBurst = 5
)

// NewServer assembles the protocol core with storage and the optional
// security components configured in cfg. The returned *server.Server is
// handed to NewHandler for the HTTP surface, or used directly for embedding.
func NewServer(config *Config) (*server.Server, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.Server == nil {
		return nil, fmt.Errorf("server config is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := config.Store
	if store == nil {
		store = memory.New()
	}

	srv, err := server.New(store, store, store, config.Server, logger)
	if err != nil {
		return nil, err
	}

	if config.EnableAuditLogging {
		srv.SetAuditor(security.NewAuditor(logger, true))
	}

	if config.RateLimit.Rate > 0 {
		srv.SetRateLimiter(security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, logger))
	}

	if config.RateLimit.RegistrationsPerWindow > 0 {
		srv.SetRegistrationRateLimiter(security.NewClientRegistrationRateLimiterWithConfig(
			config.RateLimit.RegistrationsPerWindow,
			config.RateLimit.RegistrationWindow,
			config.RateLimit.MaxTrackedIPs,
			logger))
	} else {
		srv.SetRegistrationRateLimiter(security.NewClientRegistrationRateLimiter(logger))
	}

	srv.SetSecurityEventRateLimiter(security.NewRateLimiter(securityEventLogRate, securityEventLogBurst, logger))

	if config.Instrumentation != nil {
		srv.SetInstrumentation(config.Instrumentation)
	}

	return srv, nil
}
