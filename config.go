package sallyport

import (
	"log/slog"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/instrumentation"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/server"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
)

// Config holds the configuration for the assembled authorization server
// Structured using composition for better organization and maintainability
type Config struct {
	// Server is the protocol core configuration: issuer, token lifetimes,
	// PKCE policy, consent policy, redirect URI validation (required)
	Server *server.Config

	// Store is the storage backend for clients, codes, and tokens.
	// If not provided, an in-memory store is created.
	Store storage.Store

	// RateLimit holds rate limiting configuration
	RateLimit RateLimitConfig

	// EnableAuditLogging enables security audit logging.
	// Logs registrations, grants, rotations, reuse detections, and
	// revocations (sensitive values hashed).
	EnableAuditLogging bool

	// Instrumentation provides optional OpenTelemetry metrics and tracing
	Instrumentation *instrumentation.Instrumentation

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP at protected endpoints.
	// Zero disables IP rate limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// RegistrationsPerWindow limits client registrations per IP within
	// RegistrationWindow. Zero uses the limiter's built-in default.
	RegistrationsPerWindow int

	// RegistrationWindow is the sliding window for registration limiting.
	RegistrationWindow time.Duration

	// MaxTrackedIPs bounds the limiter's memory; least recently seen
	// entries are evicted past this point.
	MaxTrackedIPs int
}
