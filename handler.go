package sallyport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/instrumentation"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/internal/util"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/scope"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/security"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/server"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
)

const (
	tokenTypeBearer = "Bearer"

	// MinStateLength is the minimum accepted state parameter length.
	// Short states make CSRF token guessing practical.
	MinStateLength = 8

	// metadataCacheMaxAge is how long clients may cache the discovery document
	metadataCacheMaxAge = 3600
)

// Handler is a thin HTTP adapter for the authorization server core.
// It parses requests, authenticates clients, and delegates to *server.Server
// for all protocol logic.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for the HTTP layer
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// RegisterRoutes mounts all endpoints on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/register", h.ServeClientRegistration)
	mux.HandleFunc("/authorize", h.ServeAuthorization)
	mux.HandleFunc("/token", h.ServeToken)
	mux.HandleFunc("/revoke", h.ServeRevocation)
	mux.HandleFunc(MetadataPath, h.ServeMetadata)
}

// clientIP extracts the caller's IP honoring the proxy trust configuration
func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

// ServeClientRegistration handles dynamic client registration (RFC 7591)
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.client_registration")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "invalid JSON")
		h.writeError(w, ErrInvalidRequest("Invalid JSON"))
		return
	}

	if req.TokenEndpointAuthMethod != "" && !isValidAuthMethod(req.TokenEndpointAuthMethod) {
		h.logger.Warn("Unsupported token_endpoint_auth_method requested",
			"method", req.TokenEndpointAuthMethod,
			"supported_methods", SupportedTokenAuthMethods,
			"ip", clientIP)
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "unsupported auth method")
		h.writeError(w, ErrInvalidRequest(
			fmt.Sprintf("Unsupported token_endpoint_auth_method: %s", req.TokenEndpointAuthMethod)))
		return
	}

	client, clientSecret, err := h.server.Register(ctx, &server.ClientRegistration{
		ClientName:              req.ClientName,
		ClientType:              req.ClientType,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		RedirectURIs:            req.RedirectURIs,
		Scopes:                  scope.Parse(req.Scope),
		RequiresConsent:         req.RequiresApproval,
		Metadata:                req.Metadata,
		ClientIP:                clientIP,
	})
	if err != nil {
		oauthErr := mapServerError(err)
		if oauthErr.Status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "60")
		}
		if oauthErr.Code == ErrorCodeServerError {
			h.logger.Error("Failed to register client", "ip", clientIP, "error", err)
		} else {
			h.logger.Warn("Client registration rejected", "ip", clientIP, "error", err)
		}
		h.recordHTTPMetrics(ctx, "register", r.Method, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "registration failed")
		h.writeError(w, oauthErr)
		return
	}

	h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrClientType, client.ClientType),
	)
	instrumentation.SetSpanSuccess(span)

	// Confidential secrets never expire; the field is still required on the
	// wire so callers can tell "never" from "not a confidential client"
	var secretExpiresAt *int64
	if clientSecret != "" {
		secretExpiresAt = new(int64)
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            clientSecret,
		ClientSecretExpiresAt:   secretExpiresAt,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		ClientName:              client.ClientName,
		Scope:                   scope.Join(client.Scopes),
		ClientType:              client.ClientType,
	})
}

// ServeAuthorization handles the authorization endpoint (GET or POST).
//
// When the request is gated on consent, a ConsentResponse is returned and
// the caller re-submits the same parameters with consent=approved or
// consent=denied to complete or abort the flow. Successful authorizations
// redirect to the registered redirect URI with code and echoed state.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.authorization")
		defer span.End()
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	req := &server.AuthorizationRequest{
		ClientID:            r.FormValue("client_id"),
		RedirectURI:         r.FormValue("redirect_uri"),
		ResponseType:        r.FormValue("response_type"),
		Scope:               r.FormValue("scope"),
		State:               r.FormValue("state"),
		CodeChallenge:       r.FormValue("code_challenge"),
		CodeChallengeMethod: r.FormValue("code_challenge_method"),
		ClientIP:            h.clientIP(r),
	}

	if req.ClientID == "" {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "client_id missing")
		h.writeError(w, ErrInvalidRequest("client_id is required"))
		return
	}

	// SECURITY: Short state values make CSRF token guessing practical
	if req.State != "" && len(req.State) < MinStateLength {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "state too short")
		h.writeError(w, ErrInvalidRequest(
			fmt.Sprintf("state parameter must be at least %d characters", MinStateLength)))
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrPKCEMethod, req.CodeChallengeMethod),
	)

	result, err := h.server.Authorize(ctx, req)
	if err != nil {
		oauthErr := mapServerError(err)
		h.recordHTTPMetrics(ctx, "authorize", r.Method, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "authorization failed")
		h.writeError(w, oauthErr)
		return
	}

	if result.ConsentRequired() {
		h.serveConsentDecision(ctx, w, r, result.Consent, startTime, span)
		return
	}

	h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, result.Redirect.Location(), http.StatusFound)
}

// serveConsentDecision resolves a pending consent: either applies the
// caller's decision or describes what is being asked.
func (h *Handler) serveConsentDecision(ctx context.Context, w http.ResponseWriter, r *http.Request, consent *server.ConsentRequest, startTime time.Time, span trace.Span) {
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrConsentRequired, true))

	switch r.FormValue("consent") {
	case "approved":
		redirect, err := h.server.ApproveConsent(ctx, consent)
		if err != nil {
			oauthErr := mapServerError(err)
			h.recordHTTPMetrics(ctx, "authorize", r.Method, oauthErr.Status, startTime)
			instrumentation.RecordError(span, err)
			h.writeError(w, oauthErr)
			return
		}
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusFound, startTime)
		instrumentation.SetSpanSuccess(span)
		http.Redirect(w, r, redirect.Location(), http.StatusFound)

	case "denied":
		err := h.server.DenyConsent(consent)
		oauthErr := mapServerError(err)
		h.recordHTTPMetrics(ctx, "authorize", r.Method, oauthErr.Status, startTime)
		instrumentation.SetSpanError(span, "consent denied")
		h.writeError(w, oauthErr)

	default:
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusOK, startTime)
		instrumentation.SetSpanSuccess(span)
		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ConsentResponse{
			ConsentRequired: true,
			ClientID:        consent.ClientID,
			ClientName:      consent.ClientName,
			Scope:           consent.Scope,
			State:           consent.State,
			Metadata:        consent.ClientMetadata,
		})
	}
}

// ServeToken handles the OAuth token endpoint
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	grantType := r.FormValue("grant_type")

	switch grantType {
	case "authorization_code":
		h.handleAuthorizationCodeGrant(w, r)
	case "refresh_token":
		h.handleRefreshTokenGrant(w, r)
	default:
		h.writeError(w, ErrUnsupportedGrantType(fmt.Sprintf("Grant type %q not supported", grantType)))
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.token_exchange")
		defer span.End()
	}

	clientIP := h.clientIP(r)
	code := r.FormValue("code")
	redirectURI := r.FormValue("redirect_uri")
	codeVerifier := r.FormValue("code_verifier")

	if code == "" {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "code missing")
		h.writeError(w, ErrInvalidRequest("Required parameter 'code' missing"))
		return
	}

	client, err := h.authenticateClient(r, clientIP)
	if err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusUnauthorized, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeAuthError(w, err)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrClientType, client.ClientType),
	)

	grant, err := h.server.ExchangeAuthorizationCode(ctx, code, client.ClientID, redirectURI, codeVerifier, clientIP)
	if err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "code exchange failed")
		// SECURITY: detail stays in the core's logs; the wire gets a
		// generic invalid_grant regardless of the failure mode
		h.writeError(w, mapServerError(err))
		return
	}

	h.logger.Info("Token exchange successful", "client_id", client.ClientID, "ip", clientIP)
	h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, grant)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.token_refresh")
		defer span.End()
	}

	clientIP := h.clientIP(r)
	refreshToken := r.FormValue("refresh_token")
	requestedScope := r.FormValue("scope")

	if refreshToken == "" {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "refresh_token missing")
		h.writeError(w, ErrInvalidRequest("refresh_token is required"))
		return
	}

	client, err := h.authenticateClient(r, clientIP)
	if err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusUnauthorized, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeAuthError(w, err)
		return
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.ClientID))

	grant, err := h.server.RefreshAccessToken(ctx, refreshToken, client.ClientID, requestedScope, clientIP)
	if err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "token refresh failed")
		h.writeError(w, mapServerError(err))
		return
	}

	h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, grant)
}

// ServeRevocation handles the token revocation endpoint.
//
// Per RFC 7009 the endpoint never tells a caller whether the token existed:
// the response body is always {"success":true}. Only client authentication
// failures are surfaced.
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "auth.http.token_revocation")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	_ = r.ParseForm()
	clientIP := h.clientIP(r)

	// Credentials are validated when presented, but revocation itself
	// does not require them: the token value is the capability.
	if authClientID, authClientSecret, ok := r.BasicAuth(); ok {
		if err := h.server.ValidateClientCredentials(ctx, authClientID, authClientSecret); err != nil {
			h.logger.Warn("Client authentication failed for revocation",
				"client_id", authClientID, "ip", clientIP)
			h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusUnauthorized, startTime)
			instrumentation.SetSpanError(span, "client authentication failed")
			h.writeError(w, ErrInvalidClient("Client authentication failed"))
			return
		}
	}

	if err := h.server.RevokeToken(ctx, r.FormValue("token"), clientIP); err != nil {
		// Backend trouble only; the caller still gets success per RFC 7009
		h.logger.Error("Token revocation backend failure", "ip", clientIP, "error", err)
		instrumentation.RecordError(span, err)
	}

	h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RevocationResponse{Success: true})
}

// ServeMetadata serves the discovery document (RFC 8414 shape)
func (h *Handler) ServeMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := util.NormalizeURL(h.server.Config.Issuer)

	codeChallengeMethods := []string{server.PKCEMethodS256}
	if h.server.Config.AllowPKCEPlain {
		codeChallengeMethods = append(codeChallengeMethods, server.PKCEMethodPlain)
	}

	metadata := ServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/authorize",
		TokenEndpoint:                     issuer + "/token",
		RegistrationEndpoint:              issuer + "/register",
		RevocationEndpoint:                issuer + "/revoke",
		ScopesSupported:                   h.server.Catalog().All(),
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: SupportedTokenAuthMethods,
		CodeChallengeMethodsSupported:     codeChallengeMethods,
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	// The discovery document is public and stable; let clients cache it
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", metadataCacheMaxAge))
	w.Header().Del("Pragma")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metadata)
}

// ValidateToken is middleware that authenticates requests with a Bearer
// access token and requires the given scope.
//
// A missing, malformed, invalid, or expired token yields 401 with a
// WWW-Authenticate challenge. A valid token lacking the required scope
// yields 403: the caller is known, just not allowed. On success the
// authenticated client is attached to the request context and retrievable
// with ClientFromContext.
func (h *Handler) ValidateToken(next http.Handler, requiredScope string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := h.clientIP(r)

		if h.server.RateLimiter != nil && !h.server.RateLimiter.Allow(clientIP) {
			h.logger.Warn("Rate limit exceeded", "ip", clientIP)
			if h.server.Instrumentation != nil {
				h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
			}
			if h.server.Auditor != nil {
				h.server.Auditor.LogRateLimitExceeded(clientIP)
			}
			w.Header().Set("Retry-After", "60")
			h.writeError(w, NewOAuthError(ErrorCodeRateLimitExceeded,
				"Rate limit exceeded. Please try again later.", http.StatusTooManyRequests))
			return
		}

		raw, ok := h.extractBearerToken(r)
		if !ok {
			h.writeUnauthorized(w, "Missing or malformed Authorization header")
			return
		}

		info, err := h.server.VerifyAccessToken(r.Context(), raw, requiredScope)
		if err != nil {
			if errors.Is(err, server.ErrInsufficientScope) {
				h.writeForbidden(w, requiredScope)
				return
			}
			h.logger.Debug("Token validation failed", "ip", clientIP, "error", err)
			h.writeUnauthorized(w, "Token is invalid or expired")
			return
		}

		ctx := ContextWithClient(r.Context(), &ClientContext{
			ClientID:   info.ClientID,
			ClientName: info.ClientName,
			Scopes:     info.Scopes,
			TokenID:    info.TokenID,
			ExpiresAt:  info.ExpiresAt,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken pulls the Bearer token from the Authorization header.
// The scheme comparison is case-insensitive per RFC 6750.
func (h *Handler) extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], tokenTypeBearer) || parts[1] == "" {
		return "", false
	}

	return parts[1], true
}

// Context key for the authenticated client
type contextKey string

const clientContextKey contextKey = "auth_client"

// ClientFromContext retrieves the authenticated client attached by the
// ValidateToken middleware.
func ClientFromContext(ctx context.Context) (*ClientContext, bool) {
	cc, ok := ctx.Value(clientContextKey).(*ClientContext)
	return cc, ok
}

// ContextWithClient creates a context carrying the given client.
//
// WARNING: intended for tests. In production the only writer should be the
// ValidateToken middleware after token verification.
func ContextWithClient(ctx context.Context, cc *ClientContext) context.Context {
	return context.WithValue(ctx, clientContextKey, cc)
}

// Helper methods

// authenticateClient validates client credentials from either Basic Auth or
// form parameters. Confidential clients must present their secret; public
// clients must not present one at all.
func (h *Handler) authenticateClient(r *http.Request, clientIP string) (*storage.Client, error) {
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")
	if authClientID, authClientSecret, ok := r.BasicAuth(); ok {
		clientID = authClientID
		clientSecret = authClientSecret
	}

	if clientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := h.server.GetClient(r.Context(), clientID)
	if err != nil {
		h.logAuthFailure(clientID, clientIP, "unknown_client", "Unknown client")
		return nil, ErrInvalidClient("Client authentication failed")
	}

	if client.ClientType == server.ClientTypePublic {
		// Public clients authenticate with PKCE only; a secret here means
		// a misconfigured or impersonating caller
		if clientSecret != "" {
			h.logAuthFailure(clientID, clientIP, "public_client_sent_secret", "Public client presented a secret")
			return nil, ErrInvalidClient("Public clients must not send a client secret")
		}
		return client, nil
	}

	if clientSecret == "" {
		h.logAuthFailure(clientID, clientIP, "confidential_client_auth_required", "Confidential client missing credentials")
		return nil, ErrInvalidClient("Client authentication required")
	}

	if err := h.server.ValidateClientCredentials(r.Context(), clientID, clientSecret); err != nil {
		h.logAuthFailure(clientID, clientIP, "client_authentication_failed", "Client authentication failed")
		return nil, ErrInvalidClient("Client authentication failed")
	}

	return client, nil
}

// logAuthFailure logs authentication failures with optional auditing
func (h *Handler) logAuthFailure(clientID, clientIP, reason, message string) {
	h.logger.Warn(message, "client_id", clientID, "ip", clientIP)
	if h.server.Auditor != nil {
		h.server.Auditor.LogAuthFailure(clientID, clientIP, reason)
	}
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, grant *server.TokenGrant) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TokenResponse{
		AccessToken:  grant.AccessToken,
		TokenType:    grant.TokenType,
		ExpiresIn:    grant.ExpiresIn,
		RefreshToken: grant.RefreshToken,
		Scope:        grant.Scope,
	})
}

// writeAuthError writes a client-authentication error, falling back to a
// generic invalid_client if the error is not an *OAuthError
func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	var oauthErr *OAuthError
	if !errors.As(err, &oauthErr) {
		oauthErr = ErrInvalidClient("Client authentication failed")
	}
	h.writeError(w, oauthErr)
}

func (h *Handler) writeError(w http.ResponseWriter, oauthErr *OAuthError) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if oauthErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", formatWWWAuthenticate("", oauthErr.Code, oauthErr.Description))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// writeUnauthorized writes the middleware's 401: no usable token
func (h *Handler) writeUnauthorized(w http.ResponseWriter, description string) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("WWW-Authenticate", formatWWWAuthenticate("", ErrorCodeUnauthorized, description))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            ErrorCodeUnauthorized,
		ErrorDescription: description,
	})
}

// writeForbidden writes the middleware's 403: valid token, missing scope.
// The WWW-Authenticate challenge names the scope the caller should request
// next time (RFC 6750 Section 3.1).
func (h *Handler) writeForbidden(w http.ResponseWriter, requiredScope string) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("WWW-Authenticate", formatWWWAuthenticate(requiredScope, ErrorCodeInsufficientScope, ""))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            ErrorCodeForbidden,
		ErrorDescription: "Token lacks the required scope",
	})
}

// formatWWWAuthenticate formats the WWW-Authenticate header value per
// RFC 6750 Section 3. Values are escaped following quoted-string rules.
func formatWWWAuthenticate(scopeValue, errCode, errorDesc string) string {
	var params []string

	if scopeValue != "" {
		params = append(params, fmt.Sprintf(`scope="%s"`, escapeQuoted(scopeValue)))
	}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, escapeQuoted(errCode)))
	}
	if errorDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, escapeQuoted(errorDesc)))
	}

	if len(params) == 0 {
		return tokenTypeBearer
	}
	return tokenTypeBearer + " " + strings.Join(params, ", ")
}

// escapeQuoted escapes a value for use inside an HTTP quoted-string.
// Backslashes first, then quotes (order matters)
func escapeQuoted(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// isValidAuthMethod checks if the given token endpoint auth method is supported
func isValidAuthMethod(method string) bool {
	for _, supported := range SupportedTokenAuthMethods {
		if method == supported {
			return true
		}
	}
	return false
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}
