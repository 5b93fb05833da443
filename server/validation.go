package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
)

// Note: PKCE and URI validation constants are intentionally duplicated from
// the root package to avoid circular imports (root imports server, server
// can't import root). Keep these in sync.

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// DefaultRFC3986SchemePattern is the default regex pattern for custom URI schemes (RFC 3986)
var DefaultRFC3986SchemePattern = []string{"^[a-z][a-z0-9+.-]*$"}

const oauth21SecurityBestPracticesURL = "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-v2-1-10#section-4.1.1"

// validateHTTPSEnforcement ensures that the authorization server is running
// over HTTPS outside of localhost development. OAuth over HTTP exposes all
// tokens, authorization codes, and client credentials to interception.
//
// The validation logic:
// - HTTPS URLs: Always allowed (secure)
// - HTTP on localhost: Allowed with warning (development)
// - HTTP on non-localhost: Blocked unless AllowInsecureHTTP=true (production)
func (s *Server) validateHTTPSEnforcement() error {
	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	if issuerURL.Scheme == SchemeHTTPS {
		return nil
	}

	if issuerURL.Scheme == SchemeHTTP {
		hostname := issuerURL.Hostname()

		// Allow localhost for development (with warning)
		if isLocalhostHostname(hostname) {
			if !s.Config.AllowInsecureHTTP {
				s.Logger.Warn("⚠️  DEVELOPMENT WARNING: Running OAuth over HTTP on localhost",
					"issuer", s.Config.Issuer,
					"risk", "Credentials exposed on local network",
					"recommendation", "Use HTTPS even in development for production-like testing",
					"to_suppress", "Set AllowInsecureHTTP=true in Config",
					"learn_more", oauth21SecurityBestPracticesURL)
			}
			return nil
		}

		// Non-localhost HTTP is blocked unless explicitly allowed
		if !s.Config.AllowInsecureHTTP {
			return fmt.Errorf(
				"SECURITY ERROR: Issuer must use HTTPS in production (got %s://%s). "+
					"OAuth over HTTP exposes tokens and credentials to interception. "+
					"To run on localhost for development, set AllowInsecureHTTP=true. "+
					"For production, use HTTPS",
				issuerURL.Scheme,
				hostname,
			)
		}

		s.Logger.Error("🚨 CRITICAL SECURITY WARNING: Running OAuth server over HTTP",
			"issuer", s.Config.Issuer,
			"hostname", hostname,
			"risk", "All tokens and credentials exposed to network sniffing and MITM attacks",
			"action_required", "Switch to HTTPS immediately",
			"compliance", "OAuth 2.1 requires HTTPS for all production endpoints",
			"learn_more", oauth21SecurityBestPracticesURL)

		return nil
	}

	return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
}

// isLocalhostHostname checks if a hostname refers to the local machine.
// This includes IPv4 loopback (entire 127.0.0.0/8 range per RFC 1122),
// IPv6 loopback (::1), localhost hostname, and 0.0.0.0 (bind-all in dev).
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}

	// Strip brackets from IPv6 addresses for parsing
	cleanHostname := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		cleanHostname = hostname[1 : len(hostname)-1]
	}

	if ip := net.ParseIP(cleanHostname); ip != nil {
		return ip.IsLoopback()
	}

	return false
}

// validateRedirectURI validates that a redirect URI is registered for the
// client. Matching is exact per OAuth 2.1; no prefix or wildcard matching.
func (s *Server) validateRedirectURI(client *storage.Client, redirectURI string) error {
	if redirectURI == "" {
		return fmt.Errorf("redirect_uri is required")
	}
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return nil
		}
	}
	return fmt.Errorf("redirect URI not registered for client")
}

// validateCodeChallenge validates the PKCE challenge parameters at
// authorization time. The verifier itself is checked later at redemption.
func (s *Server) validateCodeChallenge(challenge, method string) error {
	if challenge == "" {
		if s.Config.RequirePKCE {
			return fmt.Errorf("%s: code_challenge is required", ErrorCodeInvalidRequest)
		}
		return nil
	}

	switch method {
	case PKCEMethodS256:
		// base64url(SHA256) is always 43 characters
		if len(challenge) != 43 {
			return fmt.Errorf("%s: malformed S256 code_challenge", ErrorCodeInvalidRequest)
		}
	case PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain {
			return fmt.Errorf("%s: 'plain' code_challenge_method is not allowed", ErrorCodeInvalidRequest)
		}
		if len(challenge) < MinCodeVerifierLength || len(challenge) > MaxCodeVerifierLength {
			return fmt.Errorf("%s: code_challenge must be %d-%d characters", ErrorCodeInvalidRequest,
				MinCodeVerifierLength, MaxCodeVerifierLength)
		}
	case "":
		return fmt.Errorf("%s: code_challenge_method is required with code_challenge", ErrorCodeInvalidRequest)
	default:
		return fmt.Errorf("%s: unsupported code_challenge_method: %s", ErrorCodeInvalidRequest, method)
	}

	return nil
}

// validatePKCE validates the PKCE code verifier against the challenge per RFC 7636
func (s *Server) validatePKCE(challenge, method, verifier string) error {
	if challenge == "" {
		// No PKCE bound to this code
		if verifier != "" {
			return fmt.Errorf("code_verifier provided but no code_challenge was bound")
		}
		return nil
	}

	if verifier == "" {
		return fmt.Errorf("code_verifier is required when code_challenge is present")
	}

	// RFC 7636: code_verifier must be 43-128 characters
	if len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters (RFC 7636)", MinCodeVerifierLength)
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters (RFC 7636)", MaxCodeVerifierLength)
	}

	// RFC 7636: code_verifier can only contain [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~"
	// Security: Also prevents null bytes, control characters, or Unicode that could cause issues
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	var computedChallenge string

	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computedChallenge = base64.RawURLEncoding.EncodeToString(hash[:])

	case PKCEMethodPlain:
		// Deprecated but allowed if configured for backward compatibility
		if !s.Config.AllowPKCEPlain {
			return fmt.Errorf("'%s' code_challenge_method is not allowed (configure AllowPKCEPlain=true if needed for legacy clients)", PKCEMethodPlain)
		}
		computedChallenge = verifier
		s.Logger.Warn("Using insecure 'plain' PKCE method",
			"recommendation", "Upgrade client to use S256")

	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(computedChallenge), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}

	return nil
}

// validateCustomScheme validates a custom URI scheme against allowed patterns
// Returns an error if the scheme is not in the allowed list
func validateCustomScheme(scheme string, allowedSchemes []string) error {
	schemeLower := strings.ToLower(scheme)

	// If no allowed schemes configured, allow all RFC 3986 compliant schemes
	if len(allowedSchemes) == 0 {
		allowedSchemes = DefaultRFC3986SchemePattern
	}

	for _, pattern := range allowedSchemes {
		matched, err := regexp.MatchString(pattern, schemeLower)
		if err != nil {
			return fmt.Errorf("invalid scheme pattern '%s': %w", pattern, err)
		}
		if matched {
			return nil
		}
	}

	return fmt.Errorf("redirect_uri scheme '%s' does not match allowed patterns (must match one of: %v)",
		scheme, allowedSchemes)
}

// isLoopbackAddress checks if a hostname is a loopback address
func isLoopbackAddress(hostname string) bool {
	hostname = strings.Trim(hostname, "[]")
	hostname = strings.TrimSpace(hostname)

	if hostname == "localhost" {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return strings.HasPrefix(hostname, "127.")
}
