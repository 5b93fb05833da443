// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/instrumentation"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/internal/util"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/security"
	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
)

const (
	// tokenIDLogLength is the number of characters to include when logging
	// token and code values. This provides enough uniqueness for debugging
	// while keeping logs secure.
	tokenIDLogLength = 8
)

// accessTokenRecord tracks an issued access token ID for revocation support.
// The token itself verifies statelessly; only the ID and expiry are kept.
type accessTokenRecord struct {
	ClientID  string
	ExpiresAt time.Time
	Revoked   bool
}

// Store is an in-memory implementation of all storage interfaces.
// It implements ClientStore, FlowStore, and TokenStore.
type Store struct {
	mu sync.RWMutex

	// Client storage
	clients      map[string]*storage.Client
	clientsPerIP map[string]int // IP address -> client count (for DoS protection)

	// Flow storage
	authCodes map[string]*storage.AuthorizationCode

	// Token storage
	refreshTokens  map[string]*storage.RefreshToken
	accessTokenIDs map[string]*accessTokenRecord

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	meter           metric.Meter

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCountAtomic       atomic.Int64
	codesCountAtomic         atomic.Int64
	refreshTokensCountAtomic atomic.Int64
	revokedIDsCountAtomic    atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		clientsPerIP:    make(map[string]int),
		authCodes:       make(map[string]*storage.AuthorizationCode),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		accessTokenIDs:  make(map[string]*accessTokenRecord),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	// Start background cleanup. Expiry is enforced lazily at read time;
	// the sweeper only reclaims memory.
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
		s.meter = inst.Meter("storage")
	}

	// Initialize atomic counters with current counts
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.codesCountAtomic.Store(int64(len(s.authCodes)))
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))
	revoked := int64(0)
	for _, rec := range s.accessTokenIDs {
		if rec.Revoked {
			revoked++
		}
	}
	s.revokedIDsCountAtomic.Store(revoked)
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.refreshTokensCountAtomic.Load() },
			func() int64 { return s.revokedIDsCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call multiple times.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// Close implements storage.Store
func (s *Store) Close() error {
	s.Stop()
	return nil
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.clients[client.ClientID]

	clientCopy := *client
	s.clients[client.ClientID] = &clientCopy

	if !existed {
		s.clientsCountAtomic.Add(1)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID, "client_type", client.ClientType)
	return nil
}

// GetClient retrieves a client by ID.
// Returns a copy so callers never observe concurrent registry writes.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	clientCopy := *client
	return &clientCopy, nil
}

// DeactivateClient marks a client inactive. Idempotent.
func (s *Store) DeactivateClient(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}

	if client.Active {
		client.Active = false
		s.logger.Info("Deactivated client", "client_id", clientID)
	}
	return nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// Uses constant-time operations to prevent timing attacks.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	// SECURITY: Always perform the same operations to prevent timing attacks
	// that could reveal whether a client exists or not.

	// Pre-computed dummy hash for non-existent clients (bcrypt hash of "test").
	// This ensures we always perform a bcrypt comparison even if the client
	// doesn't exist.
	dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyHash
	isPublicClient := false
	isActive := false

	if err == nil {
		isActive = client.Active
		if client.ClientType == "public" {
			isPublicClient = true
		} else if client.ClientSecretHash != "" {
			hashToCompare = client.ClientSecretHash
		}
	}

	// ALWAYS perform the bcrypt comparison (constant-time by design).
	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if err != nil {
		return fmt.Errorf("%w: %s", storage.ErrInvalidClientSecret, clientID)
	}
	if !isActive {
		return fmt.Errorf("%w: %s", storage.ErrClientInactive, clientID)
	}

	// Public clients authenticate without a secret
	if isPublicClient {
		return nil
	}

	if bcryptErr != nil {
		return fmt.Errorf("%w: %s", storage.ErrInvalidClientSecret, clientID)
	}

	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clientCopy := *client
		clients = append(clients, &clientCopy)
	}

	return clients, nil
}

// CheckIPLimit checks if an IP has reached the client registration limit
// and reserves a slot for the new registration.
// A maxClientsPerIP of 0 or below disables the limit.
func (s *Store) CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error {
	if maxClientsPerIP <= 0 || ip == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clientsPerIP[ip] >= maxClientsPerIP {
		s.logger.Warn("Client registration limit reached for IP",
			"ip", ip,
			"limit", maxClientsPerIP)
		return fmt.Errorf("%w: %s", storage.ErrIPLimitExceeded, ip)
	}

	s.clientsPerIP[ip]++
	return nil
}

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.authCodes[code.Code]

	codeCopy := *code
	s.authCodes[code.Code] = &codeCopy

	if !existed {
		s.codesCountAtomic.Add(1)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without modifying it.
// Used codes are kept to detect reuse attempts; expired and used codes are
// reclaimed by the background cleanup goroutine.
//
// NOTE: For actual code exchange, use AtomicCheckAndMarkAuthCodeUsed instead
// to prevent race conditions.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	if security.IsTokenExpired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}

	// Return a copy to prevent the caller from modifying the stored version
	codeCopy := *authCode
	return &codeCopy, nil
}

// AtomicCheckAndMarkAuthCodeUsed atomically checks if a code is unused and marks it as used.
//
// SECURITY: This operation is atomic - only ONE concurrent request can succeed.
// All other concurrent requests will receive an "already used" error.
//
// IMPORTANT: The code record is ONLY returned alongside an error on reuse
// (Used=true), so the caller can revoke the client's outstanding tokens. For
// other errors (not found, expired), nil is returned to prevent information
// leakage.
func (s *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock() // MUST use write lock for atomic check-and-set
	defer s.mu.Unlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	if security.IsTokenExpired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}

	// ATOMIC check-and-set: only one caller can pass this check
	if authCode.Used {
		codeCopy := *authCode
		return &codeCopy, storage.ErrAuthorizationCodeUsed
	}

	authCode.Used = true
	s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))

	codeCopy := *authCode
	return &codeCopy, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authCodes[code]; ok {
		delete(s.authCodes, code)
		s.codesCountAtomic.Add(-1)
	}
	s.logger.Debug("Deleted authorization code")
	return nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveRefreshToken saves an issued refresh token keyed by its opaque value
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_refresh_token", err, startTime)
	}()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("invalid refresh token")
		return err
	}
	if token.ClientID == "" {
		err = fmt.Errorf("refresh token client ID cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.refreshTokens[token.Token]

	tokenCopy := *token
	s.refreshTokens[token.Token] = &tokenCopy

	if !existed {
		s.refreshTokensCountAtomic.Add(1)
	}

	s.logger.Debug("Saved refresh token",
		"client_id", token.ClientID,
		"token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength))
	return nil
}

// GetRefreshToken retrieves a refresh token without consuming it.
// Returns an error if the token is not found or expired (with clock skew grace).
func (s *Store) GetRefreshToken(ctx context.Context, value string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.refreshTokens[value]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}

	if security.IsTokenExpired(token.ExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
	}

	tokenCopy := *token
	return &tokenCopy, nil
}

// DeleteRefreshToken removes a refresh token. Unknown values are not an error.
func (s *Store) DeleteRefreshToken(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[value]; ok {
		delete(s.refreshTokens, value)
		s.refreshTokensCountAtomic.Add(-1)
		s.logger.Debug("Deleted refresh token")
	}
	return nil
}

// AtomicGetAndDeleteRefreshToken atomically retrieves and deletes a refresh token.
// This prevents race conditions in refresh token rotation and reuse detection.
//
// SECURITY: This operation is atomic - only ONE concurrent request can succeed.
// All other concurrent requests will receive a "token not found" error.
func (s *Store) AtomicGetAndDeleteRefreshToken(ctx context.Context, value string) (*storage.RefreshToken, error) {
	s.mu.Lock() // MUST use write lock for atomic get-and-delete
	defer s.mu.Unlock()

	token, ok := s.refreshTokens[value]
	if !ok {
		// Typed error lets callers distinguish "not found" (possible reuse
		// of a rotated token) from transient errors
		return nil, fmt.Errorf("%w: refresh token not found or already used", storage.ErrTokenNotFound)
	}

	if security.IsTokenExpired(token.ExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
	}

	// ATOMIC DELETE - ensures only one request succeeds
	delete(s.refreshTokens, value)
	s.refreshTokensCountAtomic.Add(-1)

	s.logger.Debug("Atomically retrieved and deleted refresh token",
		"client_id", token.ClientID)

	tokenCopy := *token
	return &tokenCopy, nil
}

// SaveAccessTokenID records an issued access token ID for revocation support
func (s *Store) SaveAccessTokenID(ctx context.Context, tokenID, clientID string, expiresAt time.Time) error {
	if tokenID == "" || clientID == "" {
		return fmt.Errorf("tokenID and clientID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessTokenIDs[tokenID] = &accessTokenRecord{
		ClientID:  clientID,
		ExpiresAt: expiresAt,
	}

	s.logger.Debug("Saved access token ID",
		"client_id", clientID,
		"token_id_prefix", util.SafeTruncate(tokenID, tokenIDLogLength))
	return nil
}

// RevokeAccessTokenID marks an access token ID as revoked. Idempotent.
func (s *Store) RevokeAccessTokenID(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.accessTokenIDs[tokenID]
	if !ok || rec.Revoked {
		return nil
	}

	rec.Revoked = true
	s.revokedIDsCountAtomic.Add(1)
	s.logger.Debug("Revoked access token ID",
		"token_id_prefix", util.SafeTruncate(tokenID, tokenIDLogLength))
	return nil
}

// IsAccessTokenRevoked reports whether an access token ID has been revoked
func (s *Store) IsAccessTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.accessTokenIDs[tokenID]
	if !ok {
		return false, nil
	}
	return rec.Revoked, nil
}

// RevokeClientTokens revokes all outstanding refresh tokens and access token
// IDs for a client. Called when authorization code reuse is detected.
func (s *Store) RevokeClientTokens(ctx context.Context, clientID string) (int, error) {
	if clientID == "" {
		return 0, fmt.Errorf("clientID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0

	for value, token := range s.refreshTokens {
		if token.ClientID == clientID {
			delete(s.refreshTokens, value)
			s.refreshTokensCountAtomic.Add(-1)
			revoked++
		}
	}

	for _, rec := range s.accessTokenIDs {
		if rec.ClientID == clientID && !rec.Revoked {
			rec.Revoked = true
			s.revokedIDsCountAtomic.Add(1)
			revoked++
		}
	}

	if revoked > 0 {
		s.logger.Warn("Revoked all tokens for client",
			"client_id", clientID,
			"tokens_revoked", revoked)
	}

	return revoked, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	// Reclaim expired authorization codes (with clock skew grace period).
	// Used codes are kept until expiry to support reuse detection.
	for code, authCode := range s.authCodes {
		if security.IsTokenExpired(authCode.ExpiresAt) {
			delete(s.authCodes, code)
			s.codesCountAtomic.Add(-1)
			cleaned++
		}
	}

	// Reclaim expired refresh tokens
	for value, token := range s.refreshTokens {
		if security.IsTokenExpired(token.ExpiresAt) {
			delete(s.refreshTokens, value)
			s.refreshTokensCountAtomic.Add(-1)
			cleaned++
		}
	}

	// Reclaim expired access token IDs; once the token itself has expired
	// the revocation record serves no purpose
	for tokenID, rec := range s.accessTokenIDs {
		if security.IsTokenExpired(rec.ExpiresAt) {
			if rec.Revoked {
				s.revokedIDsCountAtomic.Add(-1)
			}
			delete(s.accessTokenIDs, tokenID)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else {
		if span != nil {
			span.SetStatus(codes.Ok, "")
		}
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
