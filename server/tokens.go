package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/scope"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/security"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/token"
)

// Verification errors returned by VerifyAccessToken. The handler maps
// malformed/invalid to 401 and insufficient scope to 403.
var (
	ErrTokenMalformed    = errors.New("access token missing or malformed")
	ErrTokenInvalid      = errors.New("access token invalid, expired, or revoked")
	ErrInsufficientScope = errors.New("token scope does not cover the required scope")
)

// TokenGrant is a successful token endpoint response before JSON encoding
type TokenGrant struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Scope        string
}

// TokenInfo describes a verified access token for downstream handlers
type TokenInfo struct {
	ClientID   string
	ClientName string
	Scope      string
	Scopes     []string
	TokenID    string
	ExpiresAt  time.Time
}

// ExchangeAuthorizationCode redeems an authorization code for an access and
// refresh token pair.
//
// SECURITY: Redemption goes through the store's atomic check-and-mark first,
// so of two concurrent exchanges of the same code exactly one succeeds. A
// replay of an already-used code is treated as a compromise indicator: all
// outstanding tokens for the owning client are revoked and the caller gets
// the same generic invalid_grant as any other failure.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier, clientIP string) (*TokenGrant, error) {
	if code == "" {
		return nil, fmt.Errorf("%s: missing code", ErrorCodeInvalidRequest)
	}

	authCode, err := s.flowStore.AtomicCheckAndMarkAuthCodeUsed(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeUsed) {
			s.handleCodeReuse(ctx, authCode, clientIP)
			return nil, fmt.Errorf("%s: invalid grant", ErrorCodeInvalidGrant)
		}
		// Not found and expired collapse into the same generic error
		s.Logger.Debug("Authorization code redemption failed",
			"code_prefix", safeTruncate(code, codeLogLength),
			"error", err)
		return nil, fmt.Errorf("%s: invalid grant", ErrorCodeInvalidGrant)
	}

	// Lazy expiry check for stores that retain expired records
	if security.IsTokenExpiredWithGracePeriod(authCode.ExpiresAt, secondsToDuration(s.Config.ClockSkewGracePeriod)) {
		s.Logger.Debug("Authorization code expired at redemption",
			"client_id", authCode.ClientID,
			"expired_at", authCode.ExpiresAt)
		return nil, fmt.Errorf("%s: invalid grant", ErrorCodeInvalidGrant)
	}

	// SECURITY: Generic errors below keep the failure cause internal.
	// Detailed reasons go to debug logs only.
	if authCode.ClientID != clientID {
		s.Logger.Debug("Authorization code client mismatch",
			"code_client_id", authCode.ClientID,
			"presented_client_id", safeTruncate(clientID, clientIDLogLength))
		return nil, fmt.Errorf("%s: invalid grant", ErrorCodeInvalidGrant)
	}
	if authCode.RedirectURI != redirectURI {
		s.Logger.Debug("Authorization code redirect URI mismatch",
			"client_id", authCode.ClientID)
		return nil, fmt.Errorf("%s: invalid grant", ErrorCodeInvalidGrant)
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid grant", ErrorCodeInvalidGrant)
	}
	if !client.Active {
		s.Logger.Debug("Token exchange for deactivated client", "client_id", clientID)
		return nil, fmt.Errorf("%s: invalid grant", ErrorCodeInvalidGrant)
	}

	if err := s.validatePKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, codeVerifier); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventPKCEValidationFailed,
				ClientID:  clientID,
				IPAddress: clientIP,
				Details:   map[string]any{"reason": err.Error()},
			})
		}
		if m := s.metrics(); m != nil {
			m.RecordPKCEValidationFailed(ctx, authCode.CodeChallengeMethod)
		}
		s.Logger.Debug("PKCE validation failed",
			"client_id", clientID,
			"error", err)
		return nil, fmt.Errorf("%s: invalid grant", ErrorCodeInvalidGrant)
	}

	grant, err := s.mintTokens(ctx, client, authCode.Scope)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(clientID, clientIP, authCode.Scope)
	}
	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, clientID, authCode.CodeChallengeMethod)
	}

	s.Logger.Info("Exchanged authorization code for tokens",
		"client_id", clientID,
		"scope", authCode.Scope)
	return grant, nil
}

// handleCodeReuse reacts to a replayed authorization code: revoke everything
// the owning client holds, audit the event, and drop the stale code record.
func (s *Server) handleCodeReuse(ctx context.Context, staleCode *storage.AuthorizationCode, clientIP string) {
	if staleCode == nil {
		return
	}

	revoked, err := s.tokenStore.RevokeClientTokens(ctx, staleCode.ClientID)
	if err != nil {
		s.Logger.Error("Failed to revoke tokens after code reuse",
			"client_id", staleCode.ClientID,
			"error", err)
	}

	// Rate limit the Error log so a replay flood cannot flood the logs too
	if s.allowSecurityEventLog("code_reuse:" + staleCode.ClientID) {
		s.Logger.Error("SECURITY: Authorization code reuse detected, revoked client tokens",
			"client_id", staleCode.ClientID,
			"client_ip", clientIP,
			"tokens_revoked", revoked)
	}

	if s.Auditor != nil {
		s.Auditor.LogAuthorizationCodeReuse(staleCode.ClientID, clientIP, revoked)
	}
	if m := s.metrics(); m != nil {
		m.RecordCodeReuseDetected(ctx)
	}

	// The code has served its reuse-detection purpose
	if err := s.flowStore.DeleteAuthorizationCode(ctx, staleCode.Code); err != nil {
		s.Logger.Warn("Failed to delete replayed authorization code", "error", err)
	}
}

// RefreshAccessToken redeems a refresh token for a fresh access token.
//
// With rotation enabled (the default) the presented token is atomically
// consumed and a replacement is issued; presenting a rotated token again is
// indistinguishable from theft and is audited as such. The replacement keeps
// the original absolute expiry, so refreshing never extends the grant's
// lifetime. An optional requestedScope narrows the grant; it must be a
// subset of the stored scope.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, clientID, requestedScope, clientIP string) (*TokenGrant, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: missing refresh_token", ErrorCodeInvalidRequest)
	}

	var rt *storage.RefreshToken
	var err error
	if s.Config.RotateRefreshTokens {
		rt, err = s.tokenStore.AtomicGetAndDeleteRefreshToken(ctx, refreshToken)
	} else {
		rt, err = s.tokenStore.GetRefreshToken(ctx, refreshToken)
	}
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenNotFound):
			s.handlePossibleRefreshReuse(ctx, refreshToken, clientID, clientIP)
		case errors.Is(err, storage.ErrTokenExpired):
			s.Logger.Debug("Expired refresh token presented",
				"client_id", safeTruncate(clientID, clientIDLogLength))
		default:
			s.Logger.Error("Refresh token lookup failed", "error", err)
		}
		return nil, fmt.Errorf("%s: invalid grant", ErrorCodeInvalidGrant)
	}

	// Lazy expiry check for stores that retain expired records
	if security.IsTokenExpiredWithGracePeriod(rt.ExpiresAt, secondsToDuration(s.Config.ClockSkewGracePeriod)) {
		s.Logger.Debug("Refresh token expired",
			"client_id", rt.ClientID,
			"expired_at", rt.ExpiresAt)
		// Rotation already consumed it; without rotation it stays for TTL cleanup
		return nil, fmt.Errorf("%s: invalid grant", ErrorCodeInvalidGrant)
	}

	if rt.ClientID != clientID {
		s.Logger.Warn("Refresh token client mismatch",
			"token_client_id", rt.ClientID,
			"presented_client_id", safeTruncate(clientID, clientIDLogLength))
		return nil, fmt.Errorf("%s: invalid grant", ErrorCodeInvalidGrant)
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid grant", ErrorCodeInvalidGrant)
	}
	if !client.Active {
		s.Logger.Debug("Refresh for deactivated client", "client_id", clientID)
		return nil, fmt.Errorf("%s: invalid grant", ErrorCodeInvalidGrant)
	}

	grantedScope := rt.Scope
	if requestedScope != "" {
		requested := scope.Parse(requestedScope)
		if !scope.Subset(requested, scope.Parse(rt.Scope)) {
			// SECURITY: Scope escalation via refresh is never allowed
			if s.Auditor != nil {
				s.Auditor.LogEvent(security.Event{
					Type:      security.EventScopeEscalationAttempt,
					ClientID:  clientID,
					IPAddress: clientIP,
				})
			}
			return nil, fmt.Errorf("%s: requested scope exceeds the original grant", ErrorCodeInvalidScope)
		}
		grantedScope = scope.Join(requested)
	}

	accessToken, jti, expiresAt, err := s.issuer.Issue(client.ClientID, client.ClientName, grantedScope)
	if err != nil {
		s.Logger.Error("Failed to sign access token", "client_id", clientID, "error", err)
		return nil, fmt.Errorf("%s: failed to issue token", ErrorCodeServerError)
	}
	if err := s.tokenStore.SaveAccessTokenID(ctx, jti, client.ClientID, expiresAt); err != nil {
		s.Logger.Error("Failed to record access token ID", "client_id", clientID, "error", err)
		return nil, fmt.Errorf("%s: failed to issue token", ErrorCodeServerError)
	}

	newRefreshToken := refreshToken
	if s.Config.RotateRefreshTokens {
		replacement := &storage.RefreshToken{
			Token:     generateRandomToken(),
			ClientID:  rt.ClientID,
			Scope:     rt.Scope,
			CreatedAt: time.Now(),
			ExpiresAt: rt.ExpiresAt,
		}
		if err := s.tokenStore.SaveRefreshToken(ctx, replacement); err != nil {
			s.Logger.Error("Failed to save rotated refresh token",
				"client_id", clientID,
				"error", err)
			return nil, fmt.Errorf("%s: failed to issue token", ErrorCodeServerError)
		}
		newRefreshToken = replacement.Token
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(clientID, clientIP, s.Config.RotateRefreshTokens)
	}
	if m := s.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, clientID, s.Config.RotateRefreshTokens)
	}

	s.Logger.Info("Refreshed access token",
		"client_id", clientID,
		"scope", grantedScope,
		"rotated", s.Config.RotateRefreshTokens)

	return &TokenGrant{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.Config.AccessTokenTTL,
		RefreshToken: newRefreshToken,
		Scope:        grantedScope,
	}, nil
}

// handlePossibleRefreshReuse audits a refresh attempt with an unknown token.
// With rotation on, a rotated token is deleted on use, so a second
// presentation is indistinguishable from a bogus value; both are logged as a
// potential theft signal.
func (s *Server) handlePossibleRefreshReuse(ctx context.Context, refreshToken, clientID, clientIP string) {
	if s.allowSecurityEventLog("refresh_reuse:" + clientID) {
		s.Logger.Warn("SECURITY: Unknown or already-rotated refresh token presented",
			"client_id", safeTruncate(clientID, clientIDLogLength),
			"client_ip", clientIP,
			"token_hash", security.HashForLogging(refreshToken))
	}

	if s.Auditor != nil {
		s.Auditor.LogRefreshTokenReuse(clientID, clientIP, refreshToken)
	}
	if m := s.metrics(); m != nil {
		m.RecordTokenReuseDetected(ctx)
	}
}

// mintTokens issues a signed access token plus a fresh refresh token
func (s *Server) mintTokens(ctx context.Context, client *storage.Client, grantedScope string) (*TokenGrant, error) {
	accessToken, jti, expiresAt, err := s.issuer.Issue(client.ClientID, client.ClientName, grantedScope)
	if err != nil {
		s.Logger.Error("Failed to sign access token", "client_id", client.ClientID, "error", err)
		return nil, fmt.Errorf("%s: failed to issue token", ErrorCodeServerError)
	}
	if err := s.tokenStore.SaveAccessTokenID(ctx, jti, client.ClientID, expiresAt); err != nil {
		s.Logger.Error("Failed to record access token ID", "client_id", client.ClientID, "error", err)
		return nil, fmt.Errorf("%s: failed to issue token", ErrorCodeServerError)
	}

	now := time.Now()
	refresh := &storage.RefreshToken{
		Token:     generateRandomToken(),
		ClientID:  client.ClientID,
		Scope:     grantedScope,
		CreatedAt: now,
		ExpiresAt: now.Add(secondsToDuration(s.Config.RefreshTokenTTL)),
	}
	if err := s.tokenStore.SaveRefreshToken(ctx, refresh); err != nil {
		s.Logger.Error("Failed to save refresh token", "client_id", client.ClientID, "error", err)
		return nil, fmt.Errorf("%s: failed to issue token", ErrorCodeServerError)
	}

	return &TokenGrant{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.Config.AccessTokenTTL,
		RefreshToken: refresh.Token,
		Scope:        grantedScope,
	}, nil
}

// RevokeToken revokes a token of either kind (RFC 7009). The token type is
// discovered by shape: opaque values are tried as refresh tokens, JWTs are
// verified and their jti marked revoked.
//
// Per RFC 7009 Section 2.2 an unknown or already-revoked token is NOT an
// error; the caller always responds with success. Only backend failures
// propagate.
func (s *Server) RevokeToken(ctx context.Context, tokenValue, clientIP string) error {
	if tokenValue == "" {
		return nil
	}

	// Refresh tokens are opaque; try that shape first
	rt, err := s.tokenStore.GetRefreshToken(ctx, tokenValue)
	if err == nil {
		if err := s.tokenStore.DeleteRefreshToken(ctx, tokenValue); err != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", err)
		}
		if s.Auditor != nil {
			s.Auditor.LogTokenRevoked(rt.ClientID, clientIP, "refresh_token")
		}
		if m := s.metrics(); m != nil {
			m.RecordTokenRevocation(ctx, "refresh_token")
		}
		s.Logger.Info("Revoked refresh token", "client_id", rt.ClientID)
		return nil
	}
	if !errors.Is(err, storage.ErrTokenNotFound) && !errors.Is(err, storage.ErrTokenExpired) {
		return fmt.Errorf("failed to look up token for revocation: %w", err)
	}

	// Not a known refresh token; try it as a signed access token
	claims, err := s.issuer.Verify(tokenValue)
	if err != nil {
		// Unknown, expired, or garbage: revocation still reports success
		s.Logger.Debug("Revocation for unrecognized token",
			"token_hash", security.HashForLogging(tokenValue))
		return nil
	}

	if err := s.tokenStore.RevokeAccessTokenID(ctx, claims.ID); err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}
	if s.Auditor != nil {
		s.Auditor.LogTokenRevoked(claims.Subject, clientIP, "access_token")
	}
	if m := s.metrics(); m != nil {
		m.RecordTokenRevocation(ctx, "access_token")
	}
	s.Logger.Info("Revoked access token",
		"client_id", claims.Subject,
		"token_id_prefix", safeTruncate(claims.ID, codeLogLength))
	return nil
}

// VerifyAccessToken validates a presented access token and, when
// requiredScope is non-empty, checks the token's grant covers it.
// Signature and time claims verify statelessly; the revocation ledger is
// consulted for the jti afterwards.
func (s *Server) VerifyAccessToken(ctx context.Context, raw, requiredScope string) (*TokenInfo, error) {
	if raw == "" {
		return nil, ErrTokenMalformed
	}

	claims, err := s.issuer.Verify(raw)
	if err != nil {
		if errors.Is(err, token.ErrMalformed) {
			return nil, ErrTokenMalformed
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	revoked, err := s.tokenStore.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		s.Logger.Error("Failed to check token revocation", "error", err)
		return nil, fmt.Errorf("%w: revocation check failed", ErrTokenInvalid)
	}
	if revoked {
		s.Logger.Debug("Rejected revoked access token",
			"client_id", claims.Subject,
			"token_id_prefix", safeTruncate(claims.ID, codeLogLength))
		return nil, fmt.Errorf("%w: token revoked", ErrTokenInvalid)
	}

	scopes := scope.Parse(claims.Scope)
	if requiredScope != "" && !scope.Has(scopes, requiredScope) {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientScope, requiredScope)
	}

	info := &TokenInfo{
		ClientID:   claims.Subject,
		ClientName: claims.ClientName,
		Scope:      claims.Scope,
		Scopes:     scopes,
		TokenID:    claims.ID,
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}
