package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/AI-Publishing-International-LLP-UK/sallyport-auth/storage"
)

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	if err := validateStringLength(client.ClientID, MaxIDLength, "clientID"); err != nil {
		return err
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := s.clientKey(client.ClientID)

	if err := s.client.Set(ctx, key, string(data), 0).Err(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID, "client_type", client.ClientType)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	key := s.clientKey(clientID)

	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if isNilError(err) {
			// Generic error prevents client enumeration attacks
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	return fromClientJSON(&j), nil
}

// DeactivateClient marks a client inactive. Idempotent.
func (s *Store) DeactivateClient(ctx context.Context, clientID string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}

	if !client.Active {
		return nil
	}

	client.Active = false
	if err := s.SaveClient(ctx, client); err != nil {
		return fmt.Errorf("failed to deactivate client: %w", err)
	}

	s.logger.Info("Deactivated client", "client_id", clientID)
	return nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// Uses constant-time operations to prevent timing attacks.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	// SECURITY: Always perform the same operations to prevent timing attacks
	// that could reveal whether a client exists or not.

	// Pre-computed dummy hash for non-existent clients (bcrypt hash of "test").
	// The timing attack mitigation comes from always performing the bcrypt
	// comparison, not from the hash value.
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

	// ALWAYS perform the bcrypt comparison (constant-time by design)
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
	pattern := s.clientKey("*")
	ipPrefix := s.clientIPKey("")

	// Use a map to deduplicate results (SCAN can return duplicates across iterations)
	clientMap := make(map[string]*storage.Client)

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan clients: %w", err)
		}

		for _, key := range keys {
			if _, exists := clientMap[key]; exists {
				continue
			}
			// IP tracking keys share the client: prefix
			if len(key) >= len(ipPrefix) && key[:len(ipPrefix)] == ipPrefix {
				continue
			}

			data, err := s.client.Get(ctx, key).Result()
			if err != nil {
				if isNilError(err) {
					continue // Key may have been deleted between SCAN and GET
				}
				return nil, fmt.Errorf("failed to get client %s: %w", key, err)
			}

			var j clientJSON
			if err := json.Unmarshal([]byte(data), &j); err != nil {
				s.logger.Warn("Failed to unmarshal client, skipping",
					"key", key,
					"error", err)
				continue
			}

			clientMap[key] = fromClientJSON(&j)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	clients := make([]*storage.Client, 0, len(clientMap))
	for _, c := range clientMap {
		clients = append(clients, c)
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

	key := s.clientIPKey(ip)

	// INCR atomically reserves a registration slot
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check IP limit: %w", err)
	}

	// First registration for this IP starts the daily tracking window
	if count == 1 {
		if err := s.client.Expire(ctx, key, clientIPTrackingTTL).Err(); err != nil {
			s.logger.Warn("Failed to set TTL on client IP tracking key",
				"ip", ip,
				"error", err)
		}
	}

	if count > int64(maxClientsPerIP) {
		// SECURITY: Generic error message prevents revealing the current count
		s.logger.Warn("Client registration limit reached for IP",
			"ip", ip,
			"limit", maxClientsPerIP)
		return fmt.Errorf("%w: %s", storage.ErrIPLimitExceeded, ip)
	}

	return nil
}
