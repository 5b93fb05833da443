package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	sallyport "github.com/AI-Publishing-International-LLP-UK/sallyport-auth"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/instrumentation"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/security"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/server"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage/memory"
	redisstore "github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage/redis"
)

var (
	serveConfigPath string
	serveListenAddr string
	serveDebug      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authorization server",
	Long: `Starts the HTTP authorization server.

Configuration is read from a YAML file (--config), with environment
variables taking precedence. A .env file in the working directory is
loaded first if present.

Environment variables:
  AUTH_ISSUER            Issuer base URL (required if not in config file)
  LISTEN_ADDR            Listen address (default :8080)
  REDIS_ADDR             Redis address; enables the Redis backend
  REDIS_PASSWORD         Redis password
  TOKEN_ENCRYPTION_KEY   Base64-encoded 32-byte key for refresh token
                         encryption at rest (Redis backend only)`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to YAML configuration file")
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "Listen address (overrides config and LISTEN_ADDR)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
}

// fileConfig is the YAML configuration file shape
type fileConfig struct {
	Issuer string `yaml:"issuer"`
	Listen string `yaml:"listen"`

	Redis struct {
		Address   string `yaml:"address"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	Tokens struct {
		AuthorizationCodeTTL int64 `yaml:"authorization_code_ttl"`
		AccessTokenTTL       int64 `yaml:"access_token_ttl"`
		RefreshTokenTTL      int64 `yaml:"refresh_token_ttl"`
	} `yaml:"tokens"`

	Scopes []string `yaml:"scopes"`

	Security struct {
		TrustProxy        bool     `yaml:"trust_proxy"`
		TrustedProxyCount int      `yaml:"trusted_proxy_count"`
		AllowPKCEPlain    bool     `yaml:"allow_pkce_plain"`
		RequireConsent    bool     `yaml:"require_consent"`
		TrustedClients    []string `yaml:"trusted_clients"`
		ProductionMode    bool     `yaml:"production_mode"`
		MaxClientsPerIP   int      `yaml:"max_clients_per_ip"`
		AuditLogging      bool     `yaml:"audit_logging"`
	} `yaml:"security"`

	RateLimit struct {
		Rate                   int `yaml:"rate"`
		Burst                  int `yaml:"burst"`
		RegistrationsPerWindow int `yaml:"registrations_per_window"`
		RegistrationWindowSecs int `yaml:"registration_window_seconds"`
		MaxTrackedIPs          int `yaml:"max_tracked_ips"`
	} `yaml:"rate_limit"`

	Instrumentation struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"instrumentation"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return &fc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &fc, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runServe(cmd *cobra.Command, args []string) error {
	// Local development convenience; absence is not an error
	_ = godotenv.Load()

	level := slog.LevelInfo
	if serveDebug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	fc, err := loadFileConfig(serveConfigPath)
	if err != nil {
		return err
	}

	issuer := envOr("AUTH_ISSUER", fc.Issuer)
	if issuer == "" {
		return fmt.Errorf("issuer is required: set AUTH_ISSUER or 'issuer' in the config file")
	}

	listen := serveListenAddr
	if listen == "" {
		listen = envOr("LISTEN_ADDR", fc.Listen)
	}
	if listen == "" {
		listen = ":8080"
	}

	store, err := buildStore(fc, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	var inst *instrumentation.Instrumentation
	if fc.Instrumentation.Enabled {
		inst, err = instrumentation.New(instrumentation.Config{
			ServiceName:    "sallyport-auth",
			ServiceVersion: version,
			Enabled:        true,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize instrumentation: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := inst.Shutdown(shutdownCtx); err != nil {
				logger.Error("Instrumentation shutdown failed", "error", err)
			}
		}()
	}

	srv, err := sallyport.NewServer(&sallyport.Config{
		Server: &server.Config{
			Issuer:                     issuer,
			AuthorizationCodeTTL:       fc.Tokens.AuthorizationCodeTTL,
			AccessTokenTTL:             fc.Tokens.AccessTokenTTL,
			RefreshTokenTTL:            fc.Tokens.RefreshTokenTTL,
			SupportedScopes:            fc.Scopes,
			TrustProxy:                 fc.Security.TrustProxy,
			TrustedProxyCount:          fc.Security.TrustedProxyCount,
			AllowPKCEPlain:             fc.Security.AllowPKCEPlain,
			RequireConsent:             fc.Security.RequireConsent,
			TrustedClients:             fc.Security.TrustedClients,
			ProductionMode:             fc.Security.ProductionMode,
			MaxClientsPerIP:            fc.Security.MaxClientsPerIP,
			RequirePKCE:                true,
			RotateRefreshTokens:        true,
			AllowLocalhostRedirectURIs: true,
		},
		Store: store,
		RateLimit: sallyport.RateLimitConfig{
			Rate:                   fc.RateLimit.Rate,
			Burst:                  fc.RateLimit.Burst,
			RegistrationsPerWindow: fc.RateLimit.RegistrationsPerWindow,
			RegistrationWindow:     time.Duration(fc.RateLimit.RegistrationWindowSecs) * time.Second,
			MaxTrackedIPs:          fc.RateLimit.MaxTrackedIPs,
		},
		EnableAuditLogging: fc.Security.AuditLogging,
		Instrumentation:    inst,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create authorization server: %w", err)
	}

	handler := sallyport.NewHandler(srv, logger)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(security.RequestIDMiddleware)
	router.Use(middleware.Timeout(30 * time.Second))

	router.Post("/register", handler.ServeClientRegistration)
	router.Get("/authorize", handler.ServeAuthorization)
	router.Post("/authorize", handler.ServeAuthorization)
	router.Post("/token", handler.ServeToken)
	router.Post("/revoke", handler.ServeRevocation)
	router.Get(sallyport.MetadataPath, handler.ServeMetadata)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Authorization server listening",
			"addr", listen,
			"issuer", issuer,
			"metadata", issuer+sallyport.MetadataPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

// buildStore selects the storage backend. Redis when an address is
// configured, in-memory otherwise.
func buildStore(fc *fileConfig, logger *slog.Logger) (storage.Store, error) {
	address := envOr("REDIS_ADDR", fc.Redis.Address)
	if address == "" {
		logger.Warn("Using in-memory storage",
			"note", "state is lost on restart; configure Redis for production")
		return memory.New(), nil
	}

	db := fc.Redis.DB
	if v := os.Getenv("REDIS_DB"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		db = parsed
	}

	store, err := redisstore.New(redisstore.Config{
		Address:   address,
		Password:  envOr("REDIS_PASSWORD", fc.Redis.Password),
		DB:        db,
		KeyPrefix: fc.Redis.KeyPrefix,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	if encoded := os.Getenv("TOKEN_ENCRYPTION_KEY"); encoded != "" {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid TOKEN_ENCRYPTION_KEY: %w", err)
		}
		enc, err := security.NewEncryptor(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		store.SetEncryptor(enc)
		logger.Info("Refresh token encryption at rest enabled")
	}

	return store, nil
}
