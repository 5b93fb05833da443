package server

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage/memory"
)

func TestRegisterClient_Confidential(t *testing.T) {
	srv, _ := setupFlowTestServer(t)

	client, secret, err := srv.RegisterClient(context.Background(),
		"Acme Dashboard", ClientTypeConfidential, "",
		[]string{"https://acme.example.com/callback"},
		[]string{"read", "write"},
		testClientIP)
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}

	if client.ClientID == "" {
		t.Error("ClientID is empty")
	}
	if secret == "" {
		t.Fatal("confidential client got no secret")
	}
	if client.ClientSecretHash == "" {
		t.Fatal("ClientSecretHash is empty")
	}
	if client.ClientSecretHash == secret {
		t.Error("secret stored in the clear")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(secret)); err != nil {
		t.Errorf("stored hash does not match returned secret: %v", err)
	}
	if client.TokenEndpointAuthMethod != TokenEndpointAuthMethodBasic {
		t.Errorf("auth method = %q, want %q", client.TokenEndpointAuthMethod, TokenEndpointAuthMethodBasic)
	}
	if !client.Active {
		t.Error("new client is not active")
	}

	// The returned secret must authenticate
	if err := srv.ValidateClientCredentials(context.Background(), client.ClientID, secret); err != nil {
		t.Errorf("ValidateClientCredentials() error = %v", err)
	}
}

func TestRegister_ConsentOverrideAndMetadata(t *testing.T) {
	srv, _ := setupFlowTestServer(t)

	requires := true
	client, _, err := srv.Register(context.Background(), &ClientRegistration{
		ClientName:              "Gated App",
		TokenEndpointAuthMethod: TokenEndpointAuthMethodNone,
		RedirectURIs:            []string{"https://gated.example.com/callback"},
		Scopes:                  []string{"read"},
		RequiresConsent:         &requires,
		Metadata:                map[string]string{"developer": "ops@example.com"},
		ClientIP:                testClientIP,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if !client.RequiresConsent {
		t.Error("RequiresConsent override not applied")
	}
	if client.Metadata["developer"] != "ops@example.com" {
		t.Errorf("Metadata not persisted: %v", client.Metadata)
	}

	stored, err := srv.GetClient(context.Background(), client.ClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if !stored.RequiresConsent {
		t.Error("stored client lost the consent flag")
	}
	if stored.Metadata["developer"] != "ops@example.com" {
		t.Errorf("stored client lost metadata: %v", stored.Metadata)
	}

	// The flag gates authorization even when the server default does not
	if !srv.RequiresConsent(stored, []string{"read"}) {
		t.Error("per-client consent flag does not gate authorization")
	}

	// A client registered without the override follows the server default
	plain, _, err := srv.RegisterClient(context.Background(),
		"Plain App", "", TokenEndpointAuthMethodNone,
		[]string{"https://plain.example.com/callback"},
		[]string{"read"},
		testClientIP)
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	if plain.RequiresConsent != srv.Config.RequireConsent {
		t.Errorf("RequiresConsent = %v, want server default %v", plain.RequiresConsent, srv.Config.RequireConsent)
	}
}

func TestRegisterClient_PublicNeverGetsSecret(t *testing.T) {
	srv, _ := setupFlowTestServer(t)

	client, secret, err := srv.RegisterClient(context.Background(),
		"CLI Tool", "", TokenEndpointAuthMethodNone,
		[]string{"http://127.0.0.1:8976/callback"},
		[]string{"read"},
		testClientIP)
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}

	if secret != "" {
		t.Errorf("public client received a secret: %q", secret)
	}
	if client.ClientSecretHash != "" {
		t.Error("public client has a stored secret hash")
	}
	if client.ClientType != ClientTypePublic {
		t.Errorf("ClientType = %q, want %q", client.ClientType, ClientTypePublic)
	}

	// Public clients authenticate without a secret
	if err := srv.ValidateClientCredentials(context.Background(), client.ClientID, ""); err != nil {
		t.Errorf("public client credential check error = %v", err)
	}
}

func TestRegisterClient_SilentScopeDrop(t *testing.T) {
	srv, _ := setupFlowTestServer(t)

	client, _, err := srv.RegisterClient(context.Background(),
		"Partial", ClientTypeConfidential, "",
		[]string{"https://example.com/cb"},
		[]string{"read", "launch:missiles", "write"},
		testClientIP)
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}

	want := []string{"read", "write"}
	if len(client.Scopes) != len(want) {
		t.Fatalf("Scopes = %v, want %v", client.Scopes, want)
	}
	for i, sc := range want {
		if client.Scopes[i] != sc {
			t.Errorf("Scopes[%d] = %q, want %q", i, client.Scopes[i], sc)
		}
	}
}

func TestRegisterClient_AllScopesUnknownIsInvalidScope(t *testing.T) {
	srv, _ := setupFlowTestServer(t)

	_, _, err := srv.RegisterClient(context.Background(),
		"Bogus", ClientTypeConfidential, "",
		[]string{"https://example.com/cb"},
		[]string{"launch:missiles", "rm:rf"},
		testClientIP)
	if err == nil || !strings.Contains(err.Error(), ErrorCodeInvalidScope) {
		t.Errorf("RegisterClient() error = %v, want %s", err, ErrorCodeInvalidScope)
	}
}

func TestRegisterClient_NoScopesGetsFullCatalog(t *testing.T) {
	srv, _ := setupFlowTestServer(t)

	client, _, err := srv.RegisterClient(context.Background(),
		"Everything", ClientTypeConfidential, "",
		[]string{"https://example.com/cb"},
		nil,
		testClientIP)
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	if len(client.Scopes) != 4 {
		t.Errorf("Scopes = %v, want the full catalog", client.Scopes)
	}
}

func TestRegisterClient_RedirectURIRejections(t *testing.T) {
	srv, _ := setupFlowTestServer(t)

	tests := []struct {
		name string
		uris []string
	}{
		{"no URIs", nil},
		{"fragment", []string{"https://example.com/cb#frag"}},
		{"javascript scheme", []string{"javascript:alert(1)"}},
		{"data scheme", []string{"data:text/html,hi"}},
		{"unspecified address", []string{"https://0.0.0.0/cb"}},
		{"private IP", []string{"https://10.0.0.5/cb"}},
		{"link local", []string{"http://169.254.169.254/latest/meta-data"}},
		{"one bad among good", []string{"https://example.com/cb", "file:///etc/passwd"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := srv.RegisterClient(context.Background(),
				"Bad", ClientTypeConfidential, "", tt.uris, []string{"read"}, testClientIP)
			if err == nil {
				t.Errorf("RegisterClient(%v) succeeded, want rejection", tt.uris)
			}
		})
	}
}

func TestRegisterClient_LoopbackHTTPAllowed(t *testing.T) {
	srv, _ := setupFlowTestServer(t)

	for _, uri := range []string{
		"http://localhost:8080/callback",
		"http://127.0.0.1:9999/cb",
		"http://[::1]:8080/cb",
	} {
		if _, _, err := srv.RegisterClient(context.Background(),
			"Native", "", TokenEndpointAuthMethodNone, []string{uri}, []string{"read"}, testClientIP); err != nil {
			t.Errorf("RegisterClient(%q) error = %v, want loopback allowed per RFC 8252", uri, err)
		}
	}
}

func TestRegisterClient_IPLimit(t *testing.T) {
	store := memory.New()
	t.Cleanup(func() { store.Stop() })

	config := &Config{
		Issuer:                     "https://auth.example.com",
		MaxClientsPerIP:            3,
		RequirePKCE:                true,
		RotateRefreshTokens:        true,
		AllowLocalhostRedirectURIs: true,
	}
	srv, err := New(store, store, store, config, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, _, err := srv.RegisterClient(context.Background(),
			"Client", ClientTypeConfidential, "",
			[]string{"https://example.com/cb"}, []string{"read"}, "198.51.100.7"); err != nil {
			t.Fatalf("registration %d error = %v", i, err)
		}
	}

	_, _, err = srv.RegisterClient(context.Background(),
		"One Too Many", ClientTypeConfidential, "",
		[]string{"https://example.com/cb"}, []string{"read"}, "198.51.100.7")
	if !errors.Is(err, storage.ErrIPLimitExceeded) {
		t.Errorf("error = %v, want ErrIPLimitExceeded", err)
	}

	// A different IP is unaffected
	if _, _, err := srv.RegisterClient(context.Background(),
		"Other", ClientTypeConfidential, "",
		[]string{"https://example.com/cb"}, []string{"read"}, "198.51.100.8"); err != nil {
		t.Errorf("registration from fresh IP error = %v", err)
	}
}

func TestDeactivateClient_Idempotent(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})

	if err := srv.DeactivateClient(context.Background(), client.ClientID); err != nil {
		t.Fatalf("DeactivateClient() error = %v", err)
	}
	if err := srv.DeactivateClient(context.Background(), client.ClientID); err != nil {
		t.Errorf("second DeactivateClient() error = %v, want idempotent nil", err)
	}

	got, err := srv.GetClient(context.Background(), client.ClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.Active {
		t.Error("client still active after deactivation")
	}
}

func TestValidateClientCredentials_WrongSecret(t *testing.T) {
	srv, _ := setupFlowTestServer(t)
	client, _ := registerTestClient(t, srv, []string{"read"})

	err := srv.ValidateClientCredentials(context.Background(), client.ClientID, "wrong-secret")
	if !errors.Is(err, storage.ErrInvalidClientSecret) {
		t.Errorf("error = %v, want ErrInvalidClientSecret", err)
	}
}
