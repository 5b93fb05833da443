package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/security"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Redis keys
	DefaultKeyPrefix = "auth:"

	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// clientIPTrackingTTL is the TTL for client IP tracking keys (24 hours)
	clientIPTrackingTTL = 24 * time.Hour

	// MaxTokenLength is the maximum allowed length for token strings (512 bytes)
	// This prevents DoS attacks via excessively large tokens
	MaxTokenLength = 512

	// MaxIDLength is the maximum allowed length for identifiers (clientID, token IDs)
	MaxIDLength = 256
)

// Validation error messages (generic to prevent information leakage)
var (
	errRateLimitExceeded = fmt.Errorf("rate limit exceeded")
)

// Config holds configuration for the Redis storage backend.
type Config struct {
	// Address is the Redis server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Redis authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "auth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Redis-backed implementation of all storage interfaces.
// It implements ClientStore, FlowStore, and TokenStore.
//
// Expiry of codes, refresh tokens, and access token IDs is delegated to
// Redis TTLs; a key that still exists has not expired.
type Store struct {
	client *redisv9.Client
	prefix string
	logger *slog.Logger

	// encryptor provides optional refresh token encryption at rest.
	// Access must be synchronized via encryptorMu
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates a new Redis-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := redisv9.NewClient(&redisv9.Options{
		Addr:      cfg.Address,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: cfg.TLS,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Redis client connection.
func (s *Store) Close() error {
	err := s.client.Close()
	s.logger.Info("Redis storage connection closed")
	return err
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetEncryptor sets the encryptor for refresh token encryption at rest.
// When set, serialized refresh token records are encrypted before storing
// in Redis and decrypted when retrieved.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Refresh token encryption at rest enabled for Redis storage")
	}
}

// getEncryptor returns the current encryptor (thread-safe)
func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// encryptPayload encrypts a serialized record if an encryptor is configured
func (s *Store) encryptPayload(data string) (string, error) {
	enc := s.getEncryptor()
	if enc == nil || !enc.IsEnabled() {
		return data, nil
	}
	return enc.Encrypt(data)
}

// decryptPayload decrypts a serialized record if an encryptor is configured
func (s *Store) decryptPayload(data string) (string, error) {
	enc := s.getEncryptor()
	if enc == nil || !enc.IsEnabled() {
		return data, nil
	}
	return enc.Decrypt(data)
}

// validateStringLength checks if a string exceeds the maximum allowed length
func validateStringLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", fieldName, maxLen)
	}
	return nil
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// clientIPKey returns the key for client IP tracking: {prefix}client:ip:{ip}
func (s *Store) clientIPKey(ip string) string {
	return fmt.Sprintf("%sclient:ip:%s", s.prefix, ip)
}

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

// refreshTokenKey returns the key for a refresh token: {prefix}refresh:{token}
func (s *Store) refreshTokenKey(token string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, token)
}

// accessTokenIDKey returns the key for an access token ID: {prefix}jti:{tokenID}
func (s *Store) accessTokenIDKey(tokenID string) string {
	return fmt.Sprintf("%sjti:%s", s.prefix, tokenID)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// These Lua scripts provide atomic operations for security-critical flows.
// Using Lua ensures atomicity in Redis, preventing race conditions that
// could lead to code replay or token reuse attacks.

// luaAtomicCheckAndMarkCodeUsed atomically checks if an authorization code
// is unused and marks it as used. This prevents authorization code replay
// attacks where an attacker tries to redeem a code multiple times.
//
// Security: only ONE concurrent request can succeed. Any concurrent attempts
// to use the same code will receive "ALREADY_USED".
//
// KEYS[1] = code key (e.g., "auth:code:abc123")
//
// Returns:
//   - Original JSON data if code was unused and successfully marked as used
//   - "NOT_FOUND" if the key doesn't exist (expired keys are evicted by TTL)
//   - "ALREADY_USED:<json>" if code was already used (returns data for forensics)
var luaAtomicCheckAndMarkCodeUsed = redisv9.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

if code.used then
    return 'ALREADY_USED:' .. data
end

code.used = true
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')

return data
`)

// luaRevokeAccessTokenID atomically marks an access token ID as revoked
// while preserving the key's TTL.
//
// KEYS[1] = access token ID key (e.g., "auth:jti:xyz")
//
// Returns "OK" whether or not the key existed; revocation is idempotent.
var luaRevokeAccessTokenID = redisv9.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
    return 'OK'
end

local rec = cjson.decode(data)
if rec.revoked then
    return 'OK'
end

rec.revoked = true
redis.call('SET', KEYS[1], cjson.encode(rec), 'KEEPTTL')

return 'OK'
`)

// ============================================================
// JSON Serialization Helpers
// ============================================================

// clientJSON is the JSON representation of a registered client
type clientJSON struct {
	ClientID                string            `json:"client_id"`
	ClientSecretHash        string            `json:"client_secret_hash,omitempty"`
	ClientType              string            `json:"client_type"`
	RedirectURIs            []string          `json:"redirect_uris"`
	TokenEndpointAuthMethod string            `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string          `json:"grant_types,omitempty"`
	ResponseTypes           []string          `json:"response_types,omitempty"`
	ClientName              string            `json:"client_name,omitempty"`
	Scopes                  []string          `json:"scopes,omitempty"`
	RequiresConsent         bool              `json:"requires_consent,omitempty"`
	Metadata                map[string]string `json:"metadata,omitempty"`
	Active                  bool              `json:"active"`
	CreatedAt               int64             `json:"created_at"`
}

func toClientJSON(client *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:                client.ClientID,
		ClientSecretHash:        client.ClientSecretHash,
		ClientType:              client.ClientType,
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		ClientName:              client.ClientName,
		Scopes:                  client.Scopes,
		RequiresConsent:         client.RequiresConsent,
		Metadata:                client.Metadata,
		Active:                  client.Active,
		CreatedAt:               client.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	return &storage.Client{
		ClientID:                j.ClientID,
		ClientSecretHash:        j.ClientSecretHash,
		ClientType:              j.ClientType,
		RedirectURIs:            j.RedirectURIs,
		TokenEndpointAuthMethod: j.TokenEndpointAuthMethod,
		GrantTypes:              j.GrantTypes,
		ResponseTypes:           j.ResponseTypes,
		ClientName:              j.ClientName,
		Scopes:                  j.Scopes,
		RequiresConsent:         j.RequiresConsent,
		Metadata:                j.Metadata,
		Active:                  j.Active,
		CreatedAt:               time.Unix(j.CreatedAt, 0),
	}
}

// authorizationCodeJSON is the JSON representation of an authorization code
type authorizationCodeJSON struct {
	Code                string `json:"code"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
	Used                bool   `json:"used"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                code.Code,
		ClientID:            code.ClientID,
		RedirectURI:         code.RedirectURI,
		Scope:               code.Scope,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		CreatedAt:           code.CreatedAt.Unix(),
		ExpiresAt:           code.ExpiresAt.Unix(),
		Used:                code.Used,
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	if j == nil {
		return nil
	}
	return &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		RedirectURI:         j.RedirectURI,
		Scope:               j.Scope,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		CreatedAt:           time.Unix(j.CreatedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
		Used:                j.Used,
	}
}

// refreshTokenJSON is the JSON representation of a refresh token record
type refreshTokenJSON struct {
	Token     string `json:"token"`
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

func toRefreshTokenJSON(token *storage.RefreshToken) *refreshTokenJSON {
	return &refreshTokenJSON{
		Token:     token.Token,
		ClientID:  token.ClientID,
		Scope:     token.Scope,
		CreatedAt: token.CreatedAt.Unix(),
		ExpiresAt: token.ExpiresAt.Unix(),
	}
}

func fromRefreshTokenJSON(j *refreshTokenJSON) *storage.RefreshToken {
	if j == nil {
		return nil
	}
	return &storage.RefreshToken{
		Token:     j.Token,
		ClientID:  j.ClientID,
		Scope:     j.Scope,
		CreatedAt: time.Unix(j.CreatedAt, 0),
		ExpiresAt: time.Unix(j.ExpiresAt, 0),
	}
}

// accessTokenIDJSON is the JSON representation of an issued access token ID
type accessTokenIDJSON struct {
	ClientID string `json:"client_id"`
	Revoked  bool   `json:"revoked"`
}

// ============================================================
// Helper functions
// ============================================================

// safeTruncate safely truncates a string to n characters
func safeTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// calculateTTL calculates the TTL for a key based on expiry time.
// Returns 0 if the key has already expired.
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// isNilError checks if the error indicates a nil/not-found result from Redis.
func isNilError(err error) bool {
	return errors.Is(err, redisv9.Nil)
}
