package sallyport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"

	// Middleware error codes: 401 means the token itself is unusable,
	// 403 means the token is fine but lacks the required scope.
	ErrorCodeUnauthorized      = "unauthorized"
	ErrorCodeForbidden         = "forbidden"
	ErrorCodeInsufficientScope = "insufficient_scope"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid or expired
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidScope indicates the requested scope is invalid or unsupported
	ErrInvalidScope = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrAccessDenied indicates the authorization server or resource owner denied the request
	ErrAccessDenied = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
	}

	// ErrUnauthorized indicates the request carried no usable credentials
	ErrUnauthorized = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnauthorized, desc, http.StatusUnauthorized)
	}

	// ErrForbidden indicates valid credentials without the required scope
	ErrForbidden = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeForbidden, desc, http.StatusForbidden)
	}
)

// statusForCode maps OAuth error codes from the protocol core to HTTP status codes
var statusForCode = map[string]int{
	ErrorCodeInvalidRequest:          http.StatusBadRequest,
	ErrorCodeInvalidGrant:            http.StatusBadRequest,
	ErrorCodeInvalidClient:           http.StatusUnauthorized,
	ErrorCodeInvalidScope:            http.StatusBadRequest,
	ErrorCodeInvalidRedirectURI:      http.StatusBadRequest,
	ErrorCodeUnsupportedGrantType:    http.StatusBadRequest,
	ErrorCodeUnsupportedResponseType: http.StatusBadRequest,
	ErrorCodeAccessDenied:            http.StatusForbidden,
}

// mapServerError converts an error from the protocol core into an OAuthError.
// The core prefixes client-safe errors with their OAuth error code
// ("invalid_grant: ..."); anything unprefixed is an internal failure and is
// reported as a generic server_error so internals never cross the wire.
func mapServerError(err error) *OAuthError {
	if err == nil {
		return nil
	}

	if errors.Is(err, storage.ErrIPLimitExceeded) {
		return NewOAuthError(ErrorCodeInvalidRequest,
			"Client registration limit exceeded. Please try again later.",
			http.StatusTooManyRequests)
	}

	msg := err.Error()
	if code, desc, ok := strings.Cut(msg, ": "); ok {
		if status, known := statusForCode[code]; known {
			return NewOAuthError(code, desc, status)
		}
	}

	return ErrServerError("Internal server error")
}
