// Package storage defines interfaces for persisting registered clients,
// authorization codes, and refresh tokens. It supports various backend
// implementations including in-memory and Redis.
package storage

import (
	"context"
	"errors"
	"time"
)

// Typed errors returned by storage implementations. Callers match these with
// errors.Is; implementations may wrap them with additional detail via %w.
var (
	ErrClientNotFound            = errors.New("client not found")
	ErrClientInactive            = errors.New("client is deactivated")
	ErrInvalidClientSecret       = errors.New("invalid client secret")
	ErrTokenNotFound             = errors.New("token not found")
	ErrTokenExpired              = errors.New("token expired")
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
	ErrAuthorizationCodeUsed     = errors.New("authorization code already used")
	ErrIPLimitExceeded           = errors.New("client registration limit reached for IP")
)

// ClientStore defines the interface for managing registered clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// DeactivateClient marks a client inactive. Idempotent; deactivation
	// blocks future issuance but leaves already-issued tokens to their
	// own expiry.
	DeactivateClient(ctx context.Context, clientID string) error

	// ValidateClientSecret validates a client's secret.
	// Implementations must take constant time with respect to whether the
	// client exists.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)

	// CheckIPLimit checks if an IP has reached the client registration limit
	CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error
}

// FlowStore defines the interface for managing authorization codes.
// All methods accept context.Context for tracing and cancellation.
type FlowStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// AtomicCheckAndMarkAuthCodeUsed atomically checks that a code is unused
	// and marks it as used. Returns the code record on success, or an error if:
	//   - Code not found
	//   - Code expired
	//   - Code already used (reuse detected; the stale record is returned
	//     alongside ErrAuthorizationCodeUsed so the caller can revoke the
	//     client's outstanding tokens)
	// SECURITY: This operation MUST be atomic. Two concurrent redemptions of
	// the same code must result in exactly one success.
	AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore defines the interface for refresh tokens and for the access-token
// revocation ledger. Access tokens verify statelessly from their signature;
// the ledger only records issuance and revocation by token ID.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveRefreshToken saves an issued refresh token keyed by its opaque value
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token without consuming it.
	// Used when rotation is disabled.
	GetRefreshToken(ctx context.Context, value string) (*RefreshToken, error)

	// DeleteRefreshToken removes a refresh token. Unknown values are not an error.
	DeleteRefreshToken(ctx context.Context, value string) error

	// AtomicGetAndDeleteRefreshToken atomically retrieves and deletes a
	// refresh token. Used for rotation: of two concurrent redeemers exactly
	// one receives the record, the other gets ErrTokenNotFound.
	// SECURITY: This operation MUST be atomic to prevent concurrent refresh
	// attacks from succeeding twice.
	AtomicGetAndDeleteRefreshToken(ctx context.Context, value string) (*RefreshToken, error)

	// SaveAccessTokenID records an issued access token ID for revocation support
	SaveAccessTokenID(ctx context.Context, tokenID, clientID string, expiresAt time.Time) error

	// RevokeAccessTokenID marks an access token ID as revoked. Idempotent;
	// unknown IDs are not an error.
	RevokeAccessTokenID(ctx context.Context, tokenID string) error

	// IsAccessTokenRevoked reports whether an access token ID has been revoked
	IsAccessTokenRevoked(ctx context.Context, tokenID string) (bool, error)

	// RevokeClientTokens revokes all outstanding refresh tokens and access
	// token IDs for a client. Called when authorization code reuse is
	// detected. Returns the number of tokens revoked.
	RevokeClientTokens(ctx context.Context, clientID string) (int, error)
}

// Store combines all storage capabilities required by the server.
type Store interface {
	ClientStore
	FlowStore
	TokenStore

	// Close releases resources held by the store
	Close() error
}

// Client represents a registered client application
type Client struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash, empty for public clients
	ClientType              string // "public" or "confidential"
	RedirectURIs            []string
	TokenEndpointAuthMethod string
	GrantTypes              []string
	ResponseTypes           []string
	ClientName              string
	Scopes                  []string
	RequiresConsent         bool
	Metadata                map[string]string
	Active                  bool
	CreatedAt               time.Time
}

// AuthorizationCode represents an issued authorization code
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
}

// RefreshToken represents an issued refresh token
type RefreshToken struct {
	Token     string
	ClientID  string
	Scope     string
	CreatedAt time.Time
	ExpiresAt time.Time
}
