package server

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/scope"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
)

// AuthorizationRequest carries the parameters of a GET/POST /authorize request
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	ClientIP            string
}

// ConsentRequest describes a pending authorization that needs an interactive
// consent decision before a code is issued. The scope is the already-filtered
// grant, not the raw request.
type ConsentRequest struct {
	ClientID            string
	ClientName          string
	ClientMetadata      map[string]string
	Scope               string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	ClientIP            string
}

// AuthorizationRedirect is a successful authorization: the caller sends the
// user agent to RedirectURI with the code and echoed state attached.
type AuthorizationRedirect struct {
	RedirectURI string
	Code        string
	State       string
}

// Location renders the full redirect target per RFC 6749 Section 4.1.2
func (r *AuthorizationRedirect) Location() string {
	u, err := url.Parse(r.RedirectURI)
	if err != nil {
		// Registered URIs are validated at registration time
		return r.RedirectURI
	}

	q := u.Query()
	q.Set("code", r.Code)
	if r.State != "" {
		q.Set("state", r.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// AuthorizationResult is the outcome of Authorize: either a redirect carrying
// a fresh code, or a consent request that must be approved first.
type AuthorizationResult struct {
	Redirect *AuthorizationRedirect
	Consent  *ConsentRequest
}

// ConsentRequired reports whether the authorization is gated on consent
func (r *AuthorizationResult) ConsentRequired() bool {
	return r.Consent != nil
}

// Authorize processes an authorization request: client lookup, redirect URI
// exact match, scope intersection, PKCE policy, consent evaluation, and
// finally code minting. The state parameter is echoed back unchanged.
//
// Validation order matters: errors on the client or redirect URI must never
// redirect the user agent, so those are checked before anything that would
// produce a redirectable error.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest) (*AuthorizationResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%s: missing authorization request", ErrorCodeInvalidRequest)
	}

	client, err := s.clientStore.GetClient(ctx, req.ClientID)
	if err != nil {
		s.Logger.Debug("Authorization for unknown client",
			"client_id", safeTruncate(req.ClientID, clientIDLogLength))
		s.recordAuthorization(ctx, req.ClientID, false)
		return nil, fmt.Errorf("%s: unknown client", ErrorCodeInvalidClient)
	}
	if !client.Active {
		s.Logger.Debug("Authorization for deactivated client", "client_id", client.ClientID)
		s.recordAuthorization(ctx, client.ClientID, false)
		return nil, fmt.Errorf("%s: client is deactivated", ErrorCodeInvalidClient)
	}

	if err := s.validateRedirectURI(client, req.RedirectURI); err != nil {
		s.Logger.Warn("Authorization with unregistered redirect URI",
			"client_id", client.ClientID,
			"error", err.Error())
		s.recordAuthorization(ctx, client.ClientID, false)
		return nil, fmt.Errorf("%s: %w", ErrorCodeInvalidRequest, err)
	}

	if req.ResponseType != "code" {
		s.recordAuthorization(ctx, client.ClientID, false)
		return nil, fmt.Errorf("%s: only the 'code' response type is supported", ErrorCodeUnsupportedResponseType)
	}

	granted, err := s.grantScopes(req.Scope, client)
	if err != nil {
		s.recordAuthorization(ctx, client.ClientID, false)
		return nil, err
	}
	grantedScope := scope.Join(granted)

	if err := s.validateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		s.recordAuthorization(ctx, client.ClientID, false)
		return nil, err
	}

	if s.RequiresConsent(client, granted) {
		if m := s.metrics(); m != nil {
			m.RecordConsentRequired(ctx, client.ClientID)
		}
		s.Logger.Debug("Authorization gated on consent",
			"client_id", client.ClientID,
			"scope", grantedScope)
		return &AuthorizationResult{Consent: &ConsentRequest{
			ClientID:            client.ClientID,
			ClientName:          client.ClientName,
			ClientMetadata:      client.Metadata,
			Scope:               grantedScope,
			RedirectURI:         req.RedirectURI,
			State:               req.State,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			ClientIP:            req.ClientIP,
		}}, nil
	}

	redirect, err := s.issueAuthorizationCode(ctx, client, grantedScope, req.RedirectURI,
		req.State, req.CodeChallenge, req.CodeChallengeMethod, req.ClientIP)
	if err != nil {
		return nil, err
	}
	return &AuthorizationResult{Redirect: redirect}, nil
}

// grantScopes computes granted = requested ∩ client's registered scopes.
// An empty request defaults to everything the client registered for; a
// non-empty request that intersects to nothing is invalid_scope.
func (s *Server) grantScopes(requestedScope string, client *storage.Client) ([]string, error) {
	requested := scope.Parse(requestedScope)
	if len(requested) == 0 {
		granted := make([]string, len(client.Scopes))
		copy(granted, client.Scopes)
		return granted, nil
	}

	granted := scope.Intersect(requested, client.Scopes)
	if len(granted) == 0 {
		// SECURITY: Don't reveal which scopes the client holds
		return nil, fmt.Errorf("%s: requested scope is not available to this client", ErrorCodeInvalidScope)
	}
	return granted, nil
}

// issueAuthorizationCode mints and stores a single-use authorization code
func (s *Server) issueAuthorizationCode(ctx context.Context, client *storage.Client, grantedScope, redirectURI, state, codeChallenge, codeChallengeMethod, clientIP string) (*AuthorizationRedirect, error) {
	now := time.Now()
	authCode := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            client.ClientID,
		RedirectURI:         redirectURI,
		Scope:               grantedScope,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(secondsToDuration(s.Config.AuthorizationCodeTTL)),
	}

	if err := s.flowStore.SaveAuthorizationCode(ctx, authCode); err != nil {
		s.Logger.Error("Failed to save authorization code",
			"client_id", client.ClientID,
			"error", err)
		return nil, fmt.Errorf("%s: failed to issue authorization code", ErrorCodeServerError)
	}

	if s.Auditor != nil {
		s.Auditor.LogAuthorizationCodeIssued(client.ClientID, clientIP, grantedScope)
	}
	s.recordAuthorization(ctx, client.ClientID, true)

	s.Logger.Info("Issued authorization code",
		"client_id", client.ClientID,
		"scope", grantedScope,
		"code_prefix", safeTruncate(authCode.Code, codeLogLength),
		"expires_at", authCode.ExpiresAt)

	return &AuthorizationRedirect{
		RedirectURI: redirectURI,
		Code:        authCode.Code,
		State:       state,
	}, nil
}

// recordAuthorization records the authorization outcome metric
func (s *Server) recordAuthorization(ctx context.Context, clientID string, granted bool) {
	if m := s.metrics(); m != nil {
		m.RecordAuthorizationRequest(ctx, clientID, granted)
	}
}

// Log truncation lengths for identifiers that should never appear whole
const (
	clientIDLogLength = 8
	codeLogLength     = 8
)
