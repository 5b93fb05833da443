package server

import (
	"strings"
	"testing"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage/memory"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/token"
)

func TestNew_RequiresStores(t *testing.T) {
	store := memory.New()
	t.Cleanup(func() { store.Stop() })
	config := &Config{Issuer: "https://auth.example.com"}

	if _, err := New(nil, store, store, config, nil); err == nil {
		t.Error("New() accepted nil client store")
	}
	if _, err := New(store, nil, store, config, nil); err == nil {
		t.Error("New() accepted nil flow store")
	}
	if _, err := New(store, store, nil, config, nil); err == nil {
		t.Error("New() accepted nil token store")
	}
}

func TestNew_GeneratesEphemeralKey(t *testing.T) {
	store := memory.New()
	t.Cleanup(func() { store.Stop() })

	srv, err := New(store, store, store, &Config{Issuer: "https://auth.example.com"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.Issuer() == nil || srv.Issuer().KeyID() == "" {
		t.Error("no token issuer with ephemeral key")
	}
}

func TestNew_ConfiguredSigningKeyIsStable(t *testing.T) {
	store := memory.New()
	t.Cleanup(func() { store.Stop() })

	key, err := token.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	srv1, err := New(store, store, store, &Config{Issuer: "https://auth.example.com", SigningKey: key}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv2, err := New(store, store, store, &Config{Issuer: "https://auth.example.com", SigningKey: key}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if srv1.Issuer().KeyID() != srv2.Issuer().KeyID() {
		t.Error("same signing key produced different key IDs")
	}
}

func TestNew_HTTPSEnforcement(t *testing.T) {
	store := memory.New()
	t.Cleanup(func() { store.Stop() })

	tests := []struct {
		name    string
		issuer  string
		allow   bool
		wantErr bool
	}{
		{"https production", "https://auth.example.com", false, false},
		{"http localhost", "http://localhost:8080", false, false},
		{"http loopback", "http://127.0.0.1:8080", false, false},
		{"http production blocked", "http://auth.example.com", false, true},
		{"http production allowed explicitly", "http://auth.example.com", true, false},
		{"bogus scheme", "ftp://auth.example.com", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(store, store, store, &Config{
				Issuer:            tt.issuer,
				AllowInsecureHTTP: tt.allow,
			}, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && err != nil && !strings.Contains(err.Error(), "scheme") && !strings.Contains(err.Error(), "HTTPS") {
				t.Errorf("error %v does not explain the scheme problem", err)
			}
		})
	}
}

func TestCatalog_Exposed(t *testing.T) {
	srv, _ := setupFlowTestServer(t)

	all := srv.Catalog().All()
	if len(all) != 4 {
		t.Errorf("Catalog().All() = %v, want the 4 configured scopes", all)
	}
}

func TestSafeTruncate(t *testing.T) {
	if got := safeTruncate("abcdef", 4); got != "abcd" {
		t.Errorf("safeTruncate = %q, want abcd", got)
	}
	if got := safeTruncate("ab", 4); got != "ab" {
		t.Errorf("safeTruncate = %q, want ab", got)
	}
}

func TestGenerateRandomToken_UniqueAndLong(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := generateRandomToken()
		if len(tok) < 43 {
			t.Fatalf("token too short: %d chars", len(tok))
		}
		if seen[tok] {
			t.Fatal("duplicate random token")
		}
		seen[tok] = true
	}
}
