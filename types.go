package sallyport

import (
	"time"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/server"
)

// Well-known discovery path for server metadata
const MetadataPath = "/.well-known/server-metadata"

// SupportedTokenAuthMethods lists the token endpoint auth methods this server accepts
var SupportedTokenAuthMethods = []string{
	server.TokenEndpointAuthMethodBasic,
	server.TokenEndpointAuthMethodPost,
	server.TokenEndpointAuthMethodNone,
}

// ErrorResponse represents an OAuth error response body
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenResponse represents an OAuth 2.0 token response
type TokenResponse struct {
	// AccessToken is the access token
	AccessToken string `json:"access_token"`

	// TokenType is the type of token (always "Bearer")
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshToken is the refresh token (optional)
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the scope of the access token
	Scope string `json:"scope,omitempty"`
}

// RevocationResponse is the body returned by the revocation endpoint.
// Revocation never fails from the caller's point of view.
type RevocationResponse struct {
	Success bool `json:"success"`
}

// ==================== Dynamic Client Registration (RFC 7591) Types ====================

// ClientRegistrationRequest represents a dynamic client registration request
type ClientRegistrationRequest struct {
	// ClientName is the human-readable name of the client
	ClientName string `json:"client_name,omitempty"`

	// ClientType indicates if this is a "public" or "confidential" client.
	// Public clients (mobile, CLI) use the "none" auth method and never
	// receive a secret.
	ClientType string `json:"client_type,omitempty"`

	// TokenEndpointAuthMethod is the requested authentication method for the token endpoint
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// RedirectURIs is the array of redirection URIs for use in redirect-based flows
	RedirectURIs []string `json:"redirect_uris,omitempty"`

	// Scope is the space-separated list of requested scope values.
	// Unknown scopes are dropped silently; an empty request grants the
	// full catalog.
	Scope string `json:"scope,omitempty"`

	// RequiresApproval overrides the server's default consent policy for
	// this client. Absent means the server default applies.
	RequiresApproval *bool `json:"requires_approval,omitempty"`

	// Metadata is free-form developer metadata stored with the client and
	// surfaced in consent prompts
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ClientRegistrationResponse represents a dynamic client registration response
type ClientRegistrationResponse struct {
	// ClientID is the unique client identifier
	ClientID string `json:"client_id"`

	// ClientSecret is the client secret, returned exactly once for
	// confidential clients and never again
	ClientSecret string `json:"client_secret,omitempty"`

	// ClientIDIssuedAt is the time the client_id was issued (Unix seconds)
	ClientIDIssuedAt int64 `json:"client_id_issued_at,omitempty"`

	// ClientSecretExpiresAt is when the client_secret expires. Always 0
	// (never expires) for confidential clients, absent for public clients.
	// A pointer so the zero value survives encoding.
	ClientSecretExpiresAt *int64 `json:"client_secret_expires_at,omitempty"`

	// RedirectURIs is the array of redirection URIs
	RedirectURIs []string `json:"redirect_uris,omitempty"`

	// TokenEndpointAuthMethod is the authentication method for the token endpoint
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// GrantTypes is the array of OAuth 2.0 grant types
	GrantTypes []string `json:"grant_types,omitempty"`

	// ResponseTypes is the array of OAuth 2.0 response types
	ResponseTypes []string `json:"response_types,omitempty"`

	// ClientName is the human-readable name of the client
	ClientName string `json:"client_name,omitempty"`

	// Scope is the space-separated list of granted scope values
	Scope string `json:"scope,omitempty"`

	// ClientType indicates if this is a "public" or "confidential" client
	ClientType string `json:"client_type,omitempty"`
}

// ==================== Consent Types ====================

// ConsentResponse is returned from the authorization endpoint when the
// request is gated on an interactive consent decision. The caller re-submits
// the same authorization parameters with consent=approved or consent=denied.
type ConsentResponse struct {
	ConsentRequired bool              `json:"consent_required"`
	ClientID        string            `json:"client_id"`
	ClientName      string            `json:"client_name,omitempty"`
	Scope           string            `json:"scope"`
	State           string            `json:"state,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// ==================== Discovery Metadata ====================

// ServerMetadata is the discovery document served at MetadataPath.
// The shape follows RFC 8414 Authorization Server Metadata.
type ServerMetadata struct {
	// Issuer is the authorization server's issuer identifier URL
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint
	TokenEndpoint string `json:"token_endpoint"`

	// RegistrationEndpoint is the URL of the dynamic client registration endpoint (RFC 7591)
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`

	// RevocationEndpoint is the URL of the token revocation endpoint (RFC 7009)
	RevocationEndpoint string `json:"revocation_endpoint,omitempty"`

	// ScopesSupported lists the full scope catalog
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// ResponseTypesSupported lists the OAuth response types supported
	ResponseTypesSupported []string `json:"response_types_supported"`

	// GrantTypesSupported lists the OAuth grant types supported
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// TokenEndpointAuthMethodsSupported lists the client authentication methods supported
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the PKCE code challenge methods supported
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// ==================== Middleware Context ====================

// ClientContext describes the authenticated client attached to the request
// context by the ValidateToken middleware.
type ClientContext struct {
	// ClientID is the subject of the access token
	ClientID string

	// ClientName is the registered human-readable name, when known
	ClientName string

	// Scopes are the scopes granted to the token
	Scopes []string

	// TokenID is the unique token identifier (JWT ID)
	TokenID string

	// ExpiresAt is when the token expires
	ExpiresAt time.Time
}
