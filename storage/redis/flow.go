package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
)

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code.
// The key's TTL is derived from the code's expiry, so expired codes are
// evicted by Redis without a cleanup pass.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	if err := validateStringLength(code.Code, MaxTokenLength, "code"); err != nil {
		return err
	}

	data, err := json.Marshal(toAuthorizationCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := calculateTTL(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	key := s.codeKey(code.Code)

	if err := s.client.Set(ctx, key, string(data), ttl).Err(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", safeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without modifying it.
//
// NOTE: For actual code exchange, use AtomicCheckAndMarkAuthCodeUsed instead
// to prevent race conditions.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	key := s.codeKey(code)

	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if isNilError(err) {
			// Expired codes are evicted by TTL, so a missing key covers both
			// "never existed" and "expired"
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	return fromAuthorizationCodeJSON(&j), nil
}

// AtomicCheckAndMarkAuthCodeUsed atomically checks if a code is unused and marks it as used.
//
// SECURITY: This operation is atomic via Lua script - only ONE concurrent
// request can succeed. All other concurrent requests will receive an
// "already used" error.
//
// IMPORTANT: The code record is ONLY returned alongside an error on reuse,
// so the caller can revoke the client's outstanding tokens.
func (s *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	key := s.codeKey(code)

	result, err := luaAtomicCheckAndMarkCodeUsed.Run(ctx, s.client, []string{key}).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code operation: %w", err)
	}

	if result == "NOT_FOUND" {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	if stale, ok := strings.CutPrefix(result, "ALREADY_USED:"); ok {
		var j authorizationCodeJSON
		if err := json.Unmarshal([]byte(stale), &j); err != nil {
			return nil, fmt.Errorf("%w: failed to parse stale code record: %v", storage.ErrAuthorizationCodeUsed, err)
		}
		return fromAuthorizationCodeJSON(&j), storage.ErrAuthorizationCodeUsed
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse atomic operation result: %w", err)
	}

	authCode := fromAuthorizationCodeJSON(&j)
	authCode.Used = true

	s.logger.Debug("Marked authorization code as used",
		"code_prefix", safeTruncate(code, tokenIDLogLength))
	return authCode, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	key := s.codeKey(code)

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}

	s.logger.Debug("Deleted authorization code")
	return nil
}
