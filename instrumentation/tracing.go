package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never log actual sensitive values (access tokens, refresh
// tokens, authorization codes, client secrets, PKCE verifiers) in traces or
// metrics. Only log metadata such as token types, expiry times, and validation
// results. Traces are often persisted for extended periods, accessible to
// wider audiences than production systems, and subject to compliance
// requirements (GDPR, PCI-DSS, etc.).
const (
	// Flow attributes - SAFE to use for metadata only
	AttrClientID         = "auth.client_id"          // Client identifier (non-secret)
	AttrScope            = "auth.scope"              // Requested scopes
	AttrPKCEMethod       = "auth.pkce.method"        // PKCE method used (S256, plain)
	AttrCodeReuse        = "auth.code.reuse"         // Whether code reuse was detected (boolean)
	AttrTokenReuse       = "auth.token.reuse"        //nolint:gosec // Whether token reuse was detected (boolean)
	AttrTokenRotated     = "auth.token.rotated"      //nolint:gosec // Whether the refresh token was rotated (boolean)
	AttrGrantType        = "auth.grant_type"         // Grant type
	AttrResponseType     = "auth.response_type"      // Response type
	AttrClientType       = "auth.client_type"        // Client type (public/confidential)
	AttrConsentRequired  = "auth.consent.required"   // Whether interactive consent gated the request
	AttrTokenType        = "auth.token_type"         //nolint:gosec // Token type (Bearer, etc.) - NOT the actual token
	AttrExpiresIn        = "auth.expires_in"         // Token expiry duration
	AttrError            = "auth.error"              // Error code
	AttrErrorDescription = "auth.error_description"  // Error description

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrRateLimiterType = "security.rate_limiter.type"
	AttrClientIP        = "security.client_ip"
	AttrAuditEventType  = "security.audit.event_type"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFlowAttributes adds common grant-flow attributes to a span (nil-safe)
func AddFlowAttributes(span trace.Span, clientID, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddPKCEAttributes adds PKCE-related attributes to a span (nil-safe)
func AddPKCEAttributes(span trace.Span, method string) {
	if method != "" {
		SetSpanAttributes(span, attribute.String(AttrPKCEMethod, method))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds security-related attributes to a span (nil-safe)
//
// PRIVACY NOTE: Client IP addresses may be considered PII. Check
// instrumentation.ShouldLogClientIPs() before calling this function.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
