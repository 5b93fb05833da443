package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
)

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveRefreshToken saves an issued refresh token keyed by its opaque value.
// The key's TTL is derived from the token's expiry. When an encryptor is
// configured the serialized record is encrypted at rest.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid refresh token")
	}
	if token.ClientID == "" {
		return fmt.Errorf("refresh token client ID cannot be empty")
	}

	if err := validateStringLength(token.Token, MaxTokenLength, "refreshToken"); err != nil {
		return err
	}
	if err := validateStringLength(token.ClientID, MaxIDLength, "clientID"); err != nil {
		return err
	}

	data, err := json.Marshal(toRefreshTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	payload, err := s.encryptPayload(string(data))
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	ttl := calculateTTL(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}

	key := s.refreshTokenKey(token.Token)

	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.logger.Debug("Saved refresh token",
		"client_id", token.ClientID,
		"token_prefix", safeTruncate(token.Token, tokenIDLogLength))
	return nil
}

// GetRefreshToken retrieves a refresh token without consuming it.
func (s *Store) GetRefreshToken(ctx context.Context, value string) (*storage.RefreshToken, error) {
	key := s.refreshTokenKey(value)

	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if isNilError(err) {
			// TTL eviction covers expiry, so a missing key covers both
			// "never existed" and "expired"
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return s.parseRefreshTokenPayload(data)
}

// DeleteRefreshToken removes a refresh token. Unknown values are not an error.
func (s *Store) DeleteRefreshToken(ctx context.Context, value string) error {
	key := s.refreshTokenKey(value)

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}

	s.logger.Debug("Deleted refresh token")
	return nil
}

// AtomicGetAndDeleteRefreshToken atomically retrieves and deletes a refresh token.
// This prevents race conditions in refresh token rotation and reuse detection.
//
// SECURITY: GETDEL is atomic - only ONE concurrent request can succeed. Any
// subsequent attempts to use the same token will receive a "token not found"
// error, which may indicate token theft.
func (s *Store) AtomicGetAndDeleteRefreshToken(ctx context.Context, value string) (*storage.RefreshToken, error) {
	key := s.refreshTokenKey(value)

	data, err := s.client.GetDel(ctx, key).Result()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: refresh token not found or already used", storage.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("failed to execute atomic refresh token operation: %w", err)
	}

	token, err := s.parseRefreshTokenPayload(data)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Atomically retrieved and deleted refresh token",
		"client_id", token.ClientID)
	return token, nil
}

// parseRefreshTokenPayload decrypts and unmarshals a stored refresh token record
func (s *Store) parseRefreshTokenPayload(data string) (*storage.RefreshToken, error) {
	plaintext, err := s.decryptPayload(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	var j refreshTokenJSON
	if err := json.Unmarshal([]byte(plaintext), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}

	return fromRefreshTokenJSON(&j), nil
}

// SaveAccessTokenID records an issued access token ID for revocation support.
// The key expires with the token itself; once the token has expired the
// revocation record serves no purpose.
func (s *Store) SaveAccessTokenID(ctx context.Context, tokenID, clientID string, expiresAt time.Time) error {
	if tokenID == "" || clientID == "" {
		return fmt.Errorf("tokenID and clientID cannot be empty")
	}

	if err := validateStringLength(tokenID, MaxIDLength, "tokenID"); err != nil {
		return err
	}

	data, err := json.Marshal(accessTokenIDJSON{ClientID: clientID})
	if err != nil {
		return fmt.Errorf("failed to marshal access token record: %w", err)
	}

	ttl := calculateTTL(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("access token already expired")
	}

	key := s.accessTokenIDKey(tokenID)

	if err := s.client.Set(ctx, key, string(data), ttl).Err(); err != nil {
		return fmt.Errorf("failed to save access token ID: %w", err)
	}

	s.logger.Debug("Saved access token ID",
		"client_id", clientID,
		"token_id_prefix", safeTruncate(tokenID, tokenIDLogLength))
	return nil
}

// RevokeAccessTokenID marks an access token ID as revoked. Idempotent.
func (s *Store) RevokeAccessTokenID(ctx context.Context, tokenID string) error {
	key := s.accessTokenIDKey(tokenID)

	if err := luaRevokeAccessTokenID.Run(ctx, s.client, []string{key}).Err(); err != nil {
		return fmt.Errorf("failed to revoke access token ID: %w", err)
	}

	s.logger.Debug("Revoked access token ID",
		"token_id_prefix", safeTruncate(tokenID, tokenIDLogLength))
	return nil
}

// IsAccessTokenRevoked reports whether an access token ID has been revoked
func (s *Store) IsAccessTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	key := s.accessTokenIDKey(tokenID)

	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if isNilError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check access token revocation: %w", err)
	}

	var rec accessTokenIDJSON
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return false, fmt.Errorf("failed to unmarshal access token record: %w", err)
	}

	return rec.Revoked, nil
}

// RevokeClientTokens revokes all outstanding refresh tokens and access token
// IDs for a client. Called when authorization code reuse is detected.
func (s *Store) RevokeClientTokens(ctx context.Context, clientID string) (int, error) {
	if clientID == "" {
		return 0, fmt.Errorf("clientID cannot be empty")
	}

	revoked := 0

	// Delete the client's refresh tokens
	pattern := s.refreshTokenKey("*")
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return revoked, fmt.Errorf("failed to scan refresh tokens: %w", err)
		}

		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Result()
			if err != nil {
				if isNilError(err) {
					continue
				}
				return revoked, fmt.Errorf("failed to get refresh token %s: %w", key, err)
			}

			token, err := s.parseRefreshTokenPayload(data)
			if err != nil {
				s.logger.Warn("Failed to parse refresh token during revocation, skipping",
					"key", key,
					"error", err)
				continue
			}

			if token.ClientID == clientID {
				if err := s.client.Del(ctx, key).Err(); err != nil {
					return revoked, fmt.Errorf("failed to delete refresh token: %w", err)
				}
				revoked++
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	// Mark the client's access token IDs as revoked
	pattern = s.accessTokenIDKey("*")
	cursor = 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return revoked, fmt.Errorf("failed to scan access token IDs: %w", err)
		}

		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Result()
			if err != nil {
				if isNilError(err) {
					continue
				}
				return revoked, fmt.Errorf("failed to get access token record %s: %w", key, err)
			}

			var rec accessTokenIDJSON
			if err := json.Unmarshal([]byte(data), &rec); err != nil {
				s.logger.Warn("Failed to unmarshal access token record during revocation, skipping",
					"key", key,
					"error", err)
				continue
			}

			if rec.ClientID == clientID && !rec.Revoked {
				if err := luaRevokeAccessTokenID.Run(ctx, s.client, []string{key}).Err(); err != nil {
					return revoked, fmt.Errorf("failed to revoke access token ID: %w", err)
				}
				revoked++
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if revoked > 0 {
		s.logger.Warn("Revoked all tokens for client",
			"client_id", clientID,
			"tokens_revoked", revoked)
	}

	return revoked, nil
}
