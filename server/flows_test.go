package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/internal/testutil"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage/memory"
)

const testClientIP = "192.0.2.10"

func setupFlowTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(func() { store.Stop() })

	config := &Config{
		Issuer:                     "https://auth.example.com",
		SupportedScopes:            []string{"read", "write", "delete", "admin"},
		AuthorizationCodeTTL:       600,
		AccessTokenTTL:             3600,
		RefreshTokenTTL:            2592000,
		RequirePKCE:                true,
		RotateRefreshTokens:        true,
		AllowLocalhostRedirectURIs: true,
		ClockSkewGracePeriod:       5,
	}

	srv, err := New(store, store, store, config, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return srv, store
}

func registerTestClient(t *testing.T, srv *Server, scopes []string) (*storage.Client, string) {
	t.Helper()

	client, secret, err := srv.RegisterClient(context.Background(),
		"Test Client",
		ClientTypeConfidential,
		"",
		[]string{"https://example.com/callback"},
		scopes,
		testClientIP,
	)
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	return client, secret
}

// authorizeForCode runs a full authorization and returns the issued code
func authorizeForCode(t *testing.T, srv *Server, client *storage.Client, scopeStr, challenge string) string {
	t.Helper()

	result, err := srv.Authorize(context.Background(), &AuthorizationRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "https://example.com/callback",
		ResponseType:        "code",
		Scope:               scopeStr,
		State:               "xyz-state",
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
		ClientIP:            testClientIP,
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if result.ConsentRequired() {
		t.Fatalf("Authorize() unexpectedly required consent")
	}
	if result.Redirect.Code == "" {
		t.Fatal("Authorize() returned empty code")
	}
	return result.Redirect.Code
}

func TestAuthorize_IssuesCodeAndEchoesState(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read", "write"})
	challenge, _ := testutil.GeneratePKCEPair()

	result, err := srv.Authorize(context.Background(), &AuthorizationRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "https://example.com/callback",
		ResponseType:        "code",
		Scope:               "read",
		State:               "opaque-state-value",
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	if result.Redirect.State != "opaque-state-value" {
		t.Errorf("state = %q, want it echoed unchanged", result.Redirect.State)
	}

	location := result.Redirect.Location()
	if !strings.Contains(location, "code=") || !strings.Contains(location, "state=opaque-state-value") {
		t.Errorf("Location() = %q, want code and state query parameters", location)
	}
}

func TestAuthorize_UnknownClient(t *testing.T) {
	srv, _ := setupFlowTestServer(t)

	_, err := srv.Authorize(context.Background(), &AuthorizationRequest{
		ClientID:     "no-such-client",
		RedirectURI:  "https://example.com/callback",
		ResponseType: "code",
	})
	if err == nil || !strings.Contains(err.Error(), ErrorCodeInvalidClient) {
		t.Errorf("Authorize() error = %v, want %s", err, ErrorCodeInvalidClient)
	}
}

func TestAuthorize_DeactivatedClientBlocked(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})

	if err := srv.DeactivateClient(context.Background(), client.ClientID); err != nil {
		t.Fatalf("DeactivateClient() error = %v", err)
	}

	challenge, _ := testutil.GeneratePKCEPair()
	_, err := srv.Authorize(context.Background(), &AuthorizationRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "https://example.com/callback",
		ResponseType:        "code",
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
	})
	if err == nil || !strings.Contains(err.Error(), ErrorCodeInvalidClient) {
		t.Errorf("Authorize() error = %v, want %s", err, ErrorCodeInvalidClient)
	}
}

func TestAuthorize_UnregisteredRedirectURI(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})

	_, err := srv.Authorize(context.Background(), &AuthorizationRequest{
		ClientID:     client.ClientID,
		RedirectURI:  "https://evil.example.org/callback",
		ResponseType: "code",
	})
	if err == nil || !strings.Contains(err.Error(), ErrorCodeInvalidRequest) {
		t.Errorf("Authorize() error = %v, want %s", err, ErrorCodeInvalidRequest)
	}
}

func TestAuthorize_ScopeIntersection(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	// Client allowed "read write"
	client, _ := registerTestClient(t, srv, []string{"read", "write"})
	challenge, verifier := testutil.GeneratePKCEPair()

	// Request "write delete": granted must be exactly "write"
	result, err := srv.Authorize(context.Background(), &AuthorizationRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "https://example.com/callback",
		ResponseType:        "code",
		Scope:               "write delete",
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	grant, err := srv.ExchangeAuthorizationCode(context.Background(),
		result.Redirect.Code, client.ClientID, "https://example.com/callback", verifier, testClientIP)
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode() error = %v", err)
	}
	if grant.Scope != "write" {
		t.Errorf("granted scope = %q, want %q", grant.Scope, "write")
	}
}

func TestAuthorize_EmptyIntersectionIsInvalidScope(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})
	challenge, _ := testutil.GeneratePKCEPair()

	_, err := srv.Authorize(context.Background(), &AuthorizationRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "https://example.com/callback",
		ResponseType:        "code",
		Scope:               "delete admin",
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
	})
	if err == nil || !strings.Contains(err.Error(), ErrorCodeInvalidScope) {
		t.Errorf("Authorize() error = %v, want %s", err, ErrorCodeInvalidScope)
	}
}

func TestAuthorize_PKCERequiredByDefault(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})

	_, err := srv.Authorize(context.Background(), &AuthorizationRequest{
		ClientID:     client.ClientID,
		RedirectURI:  "https://example.com/callback",
		ResponseType: "code",
		Scope:        "read",
	})
	if err == nil || !strings.Contains(err.Error(), "code_challenge") {
		t.Errorf("Authorize() error = %v, want code_challenge required", err)
	}
}

func TestAuthorize_PlainPKCERejectedByDefault(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})

	_, err := srv.Authorize(context.Background(), &AuthorizationRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "https://example.com/callback",
		ResponseType:        "code",
		Scope:               "read",
		CodeChallenge:       testutil.GenerateRandomString(50),
		CodeChallengeMethod: PKCEMethodPlain,
	})
	if err == nil {
		t.Fatal("Authorize() accepted plain PKCE with AllowPKCEPlain=false")
	}
}

func TestExchange_SucceedsWithMatchingVerifier(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read", "write"})
	challenge, verifier := testutil.GeneratePKCEPair()

	code := authorizeForCode(t, srv, client, "read write", challenge)

	grant, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, client.ClientID, "https://example.com/callback", verifier, testClientIP)
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode() error = %v", err)
	}

	if grant.AccessToken == "" || grant.RefreshToken == "" {
		t.Fatal("grant missing access or refresh token")
	}
	if grant.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", grant.TokenType)
	}
	if grant.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", grant.ExpiresIn)
	}

	// The issued access token must verify and carry the granted scope
	info, err := srv.VerifyAccessToken(context.Background(), grant.AccessToken, "write")
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if info.ClientID != client.ClientID {
		t.Errorf("token client = %q, want %q", info.ClientID, client.ClientID)
	}
}

func TestExchange_WrongVerifierFails(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})
	challenge, _ := testutil.GeneratePKCEPair()
	_, wrongVerifier := testutil.GeneratePKCEPair()

	code := authorizeForCode(t, srv, client, "read", challenge)

	_, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, client.ClientID, "https://example.com/callback", wrongVerifier, testClientIP)
	if err == nil || !strings.Contains(err.Error(), ErrorCodeInvalidGrant) {
		t.Errorf("ExchangeAuthorizationCode() error = %v, want generic %s", err, ErrorCodeInvalidGrant)
	}
}

func TestExchange_ClientMismatchIsGenericInvalidGrant(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})
	other, _ := registerTestClient(t, srv, []string{"read"})
	challenge, verifier := testutil.GeneratePKCEPair()

	code := authorizeForCode(t, srv, client, "read", challenge)

	_, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, other.ClientID, "https://example.com/callback", verifier, testClientIP)
	if err == nil || !strings.Contains(err.Error(), ErrorCodeInvalidGrant) {
		t.Errorf("error = %v, want generic %s", err, ErrorCodeInvalidGrant)
	}
}

func TestExchange_BackToBackRedemption(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})
	challenge, verifier := testutil.GeneratePKCEPair()

	code := authorizeForCode(t, srv, client, "read", challenge)

	if _, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, client.ClientID, "https://example.com/callback", verifier, testClientIP); err != nil {
		t.Fatalf("first exchange error = %v", err)
	}

	_, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, client.ClientID, "https://example.com/callback", verifier, testClientIP)
	if err == nil || !strings.Contains(err.Error(), ErrorCodeInvalidGrant) {
		t.Errorf("second exchange error = %v, want %s", err, ErrorCodeInvalidGrant)
	}
}

func TestExchange_ConcurrentDoubleSpendSingleSuccess(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})
	challenge, verifier := testutil.GeneratePKCEPair()

	code := authorizeForCode(t, srv, client, "read", challenge)

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := srv.ExchangeAuthorizationCode(context.Background(),
				code, client.ClientID, "https://example.com/callback", verifier, testClientIP)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("concurrent redemptions succeeded %d times, want exactly 1", successes)
	}
}

func TestExchange_ReuseRevokesClientTokens(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})
	challenge, verifier := testutil.GeneratePKCEPair()

	code := authorizeForCode(t, srv, client, "read", challenge)

	grant, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, client.ClientID, "https://example.com/callback", verifier, testClientIP)
	if err != nil {
		t.Fatalf("first exchange error = %v", err)
	}

	// Replay the code: the previously issued tokens must all die
	if _, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, client.ClientID, "https://example.com/callback", verifier, testClientIP); err == nil {
		t.Fatal("replayed exchange unexpectedly succeeded")
	}

	if _, err := srv.VerifyAccessToken(context.Background(), grant.AccessToken, ""); err == nil {
		t.Error("access token still valid after code replay, want revoked")
	}
	if _, err := srv.RefreshAccessToken(context.Background(),
		grant.RefreshToken, client.ClientID, "", testClientIP); err == nil {
		t.Error("refresh token still usable after code replay, want revoked")
	}
}

func TestExchange_ExpiredCode(t *testing.T) {
	srv, store := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})
	challenge, verifier := testutil.GeneratePKCEPair()

	// Plant a code already past its expiry plus the grace period
	authCode := &storage.AuthorizationCode{
		Code:                "expired-code-value",
		ClientID:            client.ClientID,
		RedirectURI:         "https://example.com/callback",
		Scope:               "read",
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
		CreatedAt:           time.Now().Add(-11 * time.Minute),
		ExpiresAt:           time.Now().Add(-time.Minute),
	}
	if err := store.SaveAuthorizationCode(context.Background(), authCode); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	_, err := srv.ExchangeAuthorizationCode(context.Background(),
		"expired-code-value", client.ClientID, "https://example.com/callback", verifier, testClientIP)
	if err == nil || !strings.Contains(err.Error(), ErrorCodeInvalidGrant) {
		t.Errorf("error = %v, want %s", err, ErrorCodeInvalidGrant)
	}
}

func TestRefresh_RotatesToken(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read", "write"})
	challenge, verifier := testutil.GeneratePKCEPair()

	code := authorizeForCode(t, srv, client, "read write", challenge)
	grant, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, client.ClientID, "https://example.com/callback", verifier, testClientIP)
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}

	refreshed, err := srv.RefreshAccessToken(context.Background(),
		grant.RefreshToken, client.ClientID, "", testClientIP)
	if err != nil {
		t.Fatalf("RefreshAccessToken() error = %v", err)
	}

	if refreshed.RefreshToken == grant.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	if refreshed.Scope != grant.Scope {
		t.Errorf("refreshed scope = %q, want %q", refreshed.Scope, grant.Scope)
	}

	// The consumed token must be dead, and its presentation audited as reuse
	_, err = srv.RefreshAccessToken(context.Background(),
		grant.RefreshToken, client.ClientID, "", testClientIP)
	if err == nil || !strings.Contains(err.Error(), ErrorCodeInvalidGrant) {
		t.Errorf("rotated token reuse error = %v, want %s", err, ErrorCodeInvalidGrant)
	}

	// The replacement still works
	if _, err := srv.RefreshAccessToken(context.Background(),
		refreshed.RefreshToken, client.ClientID, "", testClientIP); err != nil {
		t.Errorf("replacement refresh token failed: %v", err)
	}
}

func TestRefresh_ConcurrentSingleSuccess(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})
	challenge, verifier := testutil.GeneratePKCEPair()

	code := authorizeForCode(t, srv, client, "read", challenge)
	grant, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, client.ClientID, "https://example.com/callback", verifier, testClientIP)
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := srv.RefreshAccessToken(context.Background(),
				grant.RefreshToken, client.ClientID, "", testClientIP)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("concurrent refreshes succeeded %d times, want exactly 1", successes)
	}
}

func TestRefresh_ScopeNarrowingAndEscalation(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read", "write"})
	challenge, verifier := testutil.GeneratePKCEPair()

	code := authorizeForCode(t, srv, client, "read write", challenge)
	grant, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, client.ClientID, "https://example.com/callback", verifier, testClientIP)
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}

	// Narrowing to a subset is allowed
	narrowed, err := srv.RefreshAccessToken(context.Background(),
		grant.RefreshToken, client.ClientID, "read", testClientIP)
	if err != nil {
		t.Fatalf("narrowing refresh error = %v", err)
	}
	if narrowed.Scope != "read" {
		t.Errorf("narrowed scope = %q, want read", narrowed.Scope)
	}

	// Escalating beyond the original grant is not
	_, err = srv.RefreshAccessToken(context.Background(),
		narrowed.RefreshToken, client.ClientID, "read write delete", testClientIP)
	if err == nil || !strings.Contains(err.Error(), ErrorCodeInvalidScope) {
		t.Errorf("escalating refresh error = %v, want %s", err, ErrorCodeInvalidScope)
	}
}

func TestRefresh_RotationDisabledKeepsToken(t *testing.T) {
	store := memory.New()
	t.Cleanup(func() { store.Stop() })

	config := &Config{
		Issuer:                     "https://auth.example.com",
		RotateRefreshTokens:        false,
		RequirePKCE:                true,
		AllowLocalhostRedirectURIs: true,
	}
	srv, err := New(store, store, store, config, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	client, _ := registerTestClient(t, srv, []string{"read"})
	challenge, verifier := testutil.GeneratePKCEPair()
	code := authorizeForCode(t, srv, client, "read", challenge)
	grant, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, client.ClientID, "https://example.com/callback", verifier, testClientIP)
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}

	for i := 0; i < 3; i++ {
		refreshed, err := srv.RefreshAccessToken(context.Background(),
			grant.RefreshToken, client.ClientID, "", testClientIP)
		if err != nil {
			t.Fatalf("refresh %d error = %v", i, err)
		}
		if refreshed.RefreshToken != grant.RefreshToken {
			t.Errorf("refresh %d rotated the token with rotation disabled", i)
		}
	}
}

func TestRefresh_DeactivatedClientBlocked(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})
	challenge, verifier := testutil.GeneratePKCEPair()

	code := authorizeForCode(t, srv, client, "read", challenge)
	grant, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, client.ClientID, "https://example.com/callback", verifier, testClientIP)
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}

	if err := srv.DeactivateClient(context.Background(), client.ClientID); err != nil {
		t.Fatalf("DeactivateClient() error = %v", err)
	}

	// Deactivation blocks new issuance via refresh...
	_, err = srv.RefreshAccessToken(context.Background(),
		grant.RefreshToken, client.ClientID, "", testClientIP)
	if err == nil {
		t.Error("refresh for deactivated client succeeded")
	}

	// ...but the already-issued access token keeps verifying until expiry
	if _, err := srv.VerifyAccessToken(context.Background(), grant.AccessToken, "read"); err != nil {
		t.Errorf("issued token invalid after deactivation: %v", err)
	}
}

func TestRevoke_RefreshToken(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})
	challenge, verifier := testutil.GeneratePKCEPair()

	code := authorizeForCode(t, srv, client, "read", challenge)
	grant, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, client.ClientID, "https://example.com/callback", verifier, testClientIP)
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}

	if err := srv.RevokeToken(context.Background(), grant.RefreshToken, testClientIP); err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}

	if _, err := srv.RefreshAccessToken(context.Background(),
		grant.RefreshToken, client.ClientID, "", testClientIP); err == nil {
		t.Error("revoked refresh token still usable")
	}
}

func TestRevoke_AccessToken(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})
	challenge, verifier := testutil.GeneratePKCEPair()

	code := authorizeForCode(t, srv, client, "read", challenge)
	grant, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, client.ClientID, "https://example.com/callback", verifier, testClientIP)
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}

	if _, err := srv.VerifyAccessToken(context.Background(), grant.AccessToken, ""); err != nil {
		t.Fatalf("token invalid before revocation: %v", err)
	}

	if err := srv.RevokeToken(context.Background(), grant.AccessToken, testClientIP); err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}

	if _, err := srv.VerifyAccessToken(context.Background(), grant.AccessToken, ""); err == nil {
		t.Error("revoked access token still verifies")
	}
}

func TestRevoke_UnknownTokenIsNotAnError(t *testing.T) {
	srv, _ := setupFlowTestServer(t)

	for _, value := range []string{"", "never-issued", "a.b.c", testutil.GenerateRandomString(64)} {
		if err := srv.RevokeToken(context.Background(), value, testClientIP); err != nil {
			t.Errorf("RevokeToken(%q) error = %v, want nil per RFC 7009", value, err)
		}
	}
}

func TestVerify_ErrorClasses(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})
	challenge, verifier := testutil.GeneratePKCEPair()

	code := authorizeForCode(t, srv, client, "read", challenge)
	grant, err := srv.ExchangeAuthorizationCode(context.Background(),
		code, client.ClientID, "https://example.com/callback", verifier, testClientIP)
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}

	t.Run("missing token is malformed", func(t *testing.T) {
		_, err := srv.VerifyAccessToken(context.Background(), "", "read")
		assertErrorIs(t, err, ErrTokenMalformed)
	})

	t.Run("garbage is malformed", func(t *testing.T) {
		_, err := srv.VerifyAccessToken(context.Background(), "not-a-jwt", "read")
		assertErrorIs(t, err, ErrTokenMalformed)
	})

	t.Run("tampered token is invalid", func(t *testing.T) {
		tampered := grant.AccessToken[:len(grant.AccessToken)-4] + "AAAA"
		_, err := srv.VerifyAccessToken(context.Background(), tampered, "read")
		assertErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("read token on write requirement is insufficient scope", func(t *testing.T) {
		_, err := srv.VerifyAccessToken(context.Background(), grant.AccessToken, "write")
		assertErrorIs(t, err, ErrInsufficientScope)
	})

	t.Run("valid token with covered scope succeeds", func(t *testing.T) {
		info, err := srv.VerifyAccessToken(context.Background(), grant.AccessToken, "read")
		if err != nil {
			t.Fatalf("VerifyAccessToken() error = %v", err)
		}
		if info.Scope != "read" {
			t.Errorf("Scope = %q, want read", info.Scope)
		}
		if info.TokenID == "" {
			t.Error("TokenID is empty")
		}
	})
}

func assertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Errorf("error = %v, want %v", err, target)
	}
}
