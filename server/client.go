package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/scope"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/security"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
)

// Client type constants (also defined in root package constants)
// These are duplicated to avoid import cycles since root package imports server package
const (
	// ClientTypeConfidential represents a confidential OAuth client
	ClientTypeConfidential = "confidential"

	// ClientTypePublic represents a public OAuth client
	ClientTypePublic = "public"
)

// Token endpoint authentication method constants (RFC 7591)
// These are duplicated to avoid import cycles since root package imports server package
const (
	// TokenEndpointAuthMethodNone represents no authentication (public clients)
	TokenEndpointAuthMethodNone = "none"

	// TokenEndpointAuthMethodBasic represents HTTP Basic authentication
	TokenEndpointAuthMethodBasic = "client_secret_basic"

	// TokenEndpointAuthMethodPost represents POST form parameters
	TokenEndpointAuthMethodPost = "client_secret_post"
)

// ClientRegistration carries the parameters of a dynamic client
// registration request.
type ClientRegistration struct {
	ClientName              string
	ClientType              string
	TokenEndpointAuthMethod string
	RedirectURIs            []string
	Scopes                  []string

	// RequiresConsent overrides the server's RequireConsent default for
	// this client. nil means the server default applies.
	RequiresConsent *bool

	// Metadata is free-form developer metadata stored with the client and
	// surfaced in consent prompts
	Metadata map[string]string

	ClientIP string
}

// Register registers a new OAuth client with IP-based DoS protection.
// TokenEndpointAuthMethod determines how the client authenticates at the token endpoint:
// - "none": Public client (no secret, PKCE-only auth) - used by native/CLI apps
// - "client_secret_basic": Confidential client (Basic Auth with secret) - default
// - "client_secret_post": Confidential client (POST form with secret)
//
// Requested scopes outside the catalog are dropped silently; the drop is
// audited. An empty grant after filtering is an invalid_scope error. Public
// clients never receive a secret; confidential clients receive one exactly
// once, in the return value, and only its bcrypt hash is stored.
func (s *Server) Register(ctx context.Context, reg *ClientRegistration) (*storage.Client, string, error) {
	clientIP := reg.ClientIP

	if s.RegistrationRateLimiter != nil && !s.RegistrationRateLimiter.Allow(clientIP) {
		if s.Auditor != nil {
			s.Auditor.LogRateLimitExceeded(clientIP)
		}
		if m := s.metrics(); m != nil {
			m.RecordRateLimitExceeded(ctx, "registration")
		}
		return nil, "", fmt.Errorf("%w: %s", storage.ErrIPLimitExceeded, clientIP)
	}

	if err := s.clientStore.CheckIPLimit(ctx, clientIP, s.Config.MaxClientsPerIP); err != nil {
		if errors.Is(err, storage.ErrIPLimitExceeded) && s.Auditor != nil {
			s.Auditor.LogRateLimitExceeded(clientIP)
		}
		return nil, "", err
	}

	if err := s.validateRedirectURIsWithAudit(ctx, reg.RedirectURIs, clientIP); err != nil {
		return nil, "", err
	}

	granted, err := s.filterRegistrationScopes(reg.Scopes)
	if err != nil {
		return nil, "", err
	}

	clientID := generateRandomToken()
	clientType, tokenEndpointAuthMethod := resolveClientTypeAndAuthMethod(reg.ClientType, reg.TokenEndpointAuthMethod)
	clientSecret, clientSecretHash, err := generateClientSecret(clientType)
	if err != nil {
		return nil, "", err
	}

	requiresConsent := s.Config.RequireConsent
	if reg.RequiresConsent != nil {
		requiresConsent = *reg.RequiresConsent
	}

	client := &storage.Client{
		ClientID:                clientID,
		ClientSecretHash:        clientSecretHash,
		ClientType:              clientType,
		RedirectURIs:            reg.RedirectURIs,
		TokenEndpointAuthMethod: tokenEndpointAuthMethod,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		ClientName:              reg.ClientName,
		Scopes:                  granted,
		RequiresConsent:         requiresConsent,
		Metadata:                reg.Metadata,
		Active:                  true,
		CreatedAt:               time.Now(),
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	s.auditScopesDropped(clientID, reg.Scopes, granted)
	s.logClientRegistered(ctx, client, clientIP)
	return client, clientSecret, nil
}

// RegisterClient registers a client with the server's default consent policy
// and no developer metadata. See Register.
func (s *Server) RegisterClient(ctx context.Context, clientName, clientType, tokenEndpointAuthMethod string, redirectURIs []string, scopes []string, clientIP string) (*storage.Client, string, error) {
	return s.Register(ctx, &ClientRegistration{
		ClientName:              clientName,
		ClientType:              clientType,
		TokenEndpointAuthMethod: tokenEndpointAuthMethod,
		RedirectURIs:            redirectURIs,
		Scopes:                  scopes,
		ClientIP:                clientIP,
	})
}

// filterRegistrationScopes intersects requested scopes with the catalog.
// No requested scopes means the full catalog is granted; a non-empty request
// that filters down to nothing is an error.
func (s *Server) filterRegistrationScopes(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return s.catalog.All(), nil
	}

	granted := s.catalog.Filter(requested)
	if len(granted) == 0 {
		return nil, fmt.Errorf("%s: no requested scope is recognized", ErrorCodeInvalidScope)
	}
	return granted, nil
}

// auditScopesDropped audits the difference between requested and granted scopes
func (s *Server) auditScopesDropped(clientID string, requested, granted []string) {
	if s.Auditor == nil || len(requested) == 0 {
		return
	}

	var dropped []string
	for _, sc := range requested {
		if !scope.Has(granted, sc) {
			dropped = append(dropped, sc)
		}
	}
	s.Auditor.LogScopesDropped(clientID, dropped)
}

// validateRedirectURIsWithAudit validates redirect URIs and logs failures for auditing.
func (s *Server) validateRedirectURIsWithAudit(ctx context.Context, redirectURIs []string, clientIP string) error {
	if err := s.ValidateRedirectURIsForRegistration(ctx, redirectURIs); err != nil {
		if s.Auditor != nil {
			category := GetRedirectURIErrorCategory(err)
			s.Auditor.LogEvent(security.Event{
				Type: security.EventClientRegistrationRejected,
				Details: map[string]any{
					"reason":    "redirect_uri_validation_failed",
					"category":  category,
					"client_ip": clientIP,
				},
			})
		}
		s.Logger.Warn("Client registration rejected: redirect URI validation failed",
			"error", err.Error(),
			"client_ip", clientIP)
		return fmt.Errorf("%s: %w", ErrorCodeInvalidRedirectURI, err)
	}
	return nil
}

// resolveClientTypeAndAuthMethod determines the client type and auth method.
// Per RFC 7591 Section 2: token_endpoint_auth_method determines client type.
func resolveClientTypeAndAuthMethod(clientType, tokenEndpointAuthMethod string) (string, string) {
	if tokenEndpointAuthMethod == TokenEndpointAuthMethodNone {
		clientType = ClientTypePublic
	} else if clientType == "" {
		clientType = ClientTypeConfidential
	}

	if tokenEndpointAuthMethod == "" {
		if clientType == ClientTypePublic {
			tokenEndpointAuthMethod = TokenEndpointAuthMethodNone
		} else {
			tokenEndpointAuthMethod = TokenEndpointAuthMethodBasic
		}
	}

	return clientType, tokenEndpointAuthMethod
}

// generateClientSecret generates a secret for confidential clients.
// Public clients get no secret at all.
func generateClientSecret(clientType string) (string, string, error) {
	if clientType != ClientTypeConfidential {
		return "", "", nil
	}

	clientSecret := generateRandomToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return clientSecret, string(hash), nil
}

// logClientRegistered audits and logs a successful registration.
// The client secret is never logged.
func (s *Server) logClientRegistered(ctx context.Context, client *storage.Client, clientIP string) {
	if s.Auditor != nil {
		s.Auditor.LogClientRegistered(client.ClientID, client.ClientType, clientIP)
	}
	if m := s.metrics(); m != nil {
		m.RecordClientRegistration(ctx, client.ClientType)
	}

	s.Logger.Info("Registered new OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"client_type", client.ClientType,
		"token_endpoint_auth_method", client.TokenEndpointAuthMethod,
		"scope", scope.Join(client.Scopes),
		"client_ip", clientIP)
}

// ValidateClientCredentials validates client credentials for the token endpoint
func (s *Server) ValidateClientCredentials(ctx context.Context, clientID, clientSecret string) error {
	return s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret)
}

// GetClient retrieves a client by ID (for use by the handler)
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clientStore.GetClient(ctx, clientID)
}

// DeactivateClient marks a client inactive. New issuance stops immediately;
// tokens already issued run out on their own expiry. Cached consent
// approvals for the client are dropped.
func (s *Server) DeactivateClient(ctx context.Context, clientID string) error {
	if err := s.clientStore.DeactivateClient(ctx, clientID); err != nil {
		return err
	}

	s.consent.Revoke(clientID)

	if s.Auditor != nil {
		s.Auditor.LogClientDeactivated(clientID)
	}
	s.Logger.Info("Deactivated client", "client_id", clientID)
	return nil
}
