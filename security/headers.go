package security

import (
	"net/http"
	"net/url"
)

// hstsPolicy applies for one year and covers subdomains
const hstsPolicy = "max-age=31536000; includeSubDomains"

// SetSecurityHeaders applies the response header set shared by every
// endpoint. Token and registration responses carry credentials, so caching
// is disabled unconditionally; endpoints serving public documents override
// Cache-Control after calling this.
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	h := w.Header()

	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-XSS-Protection", "1; mode=block")

	// No endpoint serves active content; lock the policy all the way down
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	// HSTS is only meaningful when the issuer itself is HTTPS
	if parsed, err := url.Parse(serverURL); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", hstsPolicy)
	}

	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")
}
