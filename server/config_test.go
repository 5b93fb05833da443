package server

import (
	"log/slog"
	"testing"
	"time"
)

func TestApplySecureDefaults_FreshConfig(t *testing.T) {
	config := applySecureDefaults(&Config{Issuer: "https://auth.example.com"}, slog.Default())

	if config.AuthorizationCodeTTL != 600 {
		t.Errorf("AuthorizationCodeTTL = %d, want 600", config.AuthorizationCodeTTL)
	}
	if config.AccessTokenTTL != 3600 {
		t.Errorf("AccessTokenTTL = %d, want 3600", config.AccessTokenTTL)
	}
	if config.RefreshTokenTTL != 2592000 {
		t.Errorf("RefreshTokenTTL = %d, want 2592000", config.RefreshTokenTTL)
	}
	if config.ClockSkewGracePeriod != 5 {
		t.Errorf("ClockSkewGracePeriod = %d, want 5", config.ClockSkewGracePeriod)
	}
	if config.MaxClientsPerIP != 10 {
		t.Errorf("MaxClientsPerIP = %d, want 10", config.MaxClientsPerIP)
	}
	if !config.RequirePKCE {
		t.Error("RequirePKCE not defaulted to true")
	}
	if !config.RotateRefreshTokens {
		t.Error("RotateRefreshTokens not defaulted to true")
	}
	if config.AllowPKCEPlain {
		t.Error("AllowPKCEPlain defaulted to true")
	}
	if !config.AllowLocalhostRedirectURIs {
		t.Error("AllowLocalhostRedirectURIs not defaulted to true")
	}
	if len(config.SupportedScopes) == 0 {
		t.Error("SupportedScopes not defaulted")
	}
	if len(config.BlockedRedirectSchemes) == 0 {
		t.Error("BlockedRedirectSchemes not defaulted")
	}
}

func TestApplySecureDefaults_ExplicitConfigRespected(t *testing.T) {
	// RequirePKCE=true marks the config as deliberately set, so rotation
	// stays off instead of being forced back on
	config := applySecureDefaults(&Config{
		Issuer:              "https://auth.example.com",
		RequirePKCE:         true,
		RotateRefreshTokens: false,
	}, slog.Default())

	if config.RotateRefreshTokens {
		t.Error("explicit RotateRefreshTokens=false was overridden")
	}
}

func TestApplySecureDefaults_TrustedClientsMap(t *testing.T) {
	config := applySecureDefaults(&Config{
		Issuer:         "https://auth.example.com",
		TrustedClients: []string{"alpha", "", "beta"},
	}, slog.Default())

	if !config.IsTrustedClient("alpha") || !config.IsTrustedClient("beta") {
		t.Error("trusted clients not in lookup map")
	}
	if config.IsTrustedClient("") || config.IsTrustedClient("gamma") {
		t.Error("lookup map matched non-trusted ids")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{Issuer: "https://auth.example.com", AuthorizationCodeTTL: 600, RefreshTokenTTL: 2592000}, false},
		{"missing issuer", Config{}, true},
		{"negative TTL", Config{Issuer: "https://a.example.com", AccessTokenTTL: -1}, true},
		{"code outlives refresh", Config{Issuer: "https://a.example.com", AuthorizationCodeTTL: 600, RefreshTokenTTL: 60}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSecondsToDuration(t *testing.T) {
	if got := secondsToDuration(90); got != 90*time.Second {
		t.Errorf("secondsToDuration(90) = %v", got)
	}
}
