// Package redis provides a Redis-backed implementation of all storage
// interfaces, suitable for multi-instance deployments where clients, codes,
// and tokens must be shared across servers.
//
// # Features
//
//   - Implements storage.ClientStore, storage.FlowStore, and storage.TokenStore
//   - Expiry is delegated to Redis TTLs: codes, refresh tokens, and access
//     token IDs are evicted automatically when they expire
//   - Atomic single-use semantics for authorization codes via a Lua script
//   - Atomic refresh token consumption via GETDEL for rotation with reuse
//     detection
//   - Optional encryption at rest for refresh token records via
//     security.Encryptor
//   - Per-IP registration limits using atomic INCR with a daily window
//
// # Usage
//
//	store, err := redis.New(redis.Config{
//		Address:  "localhost:6379",
//		Password: os.Getenv("REDIS_PASSWORD"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
// # Key Layout
//
// All keys share a configurable prefix (default "auth:"):
//
//	{prefix}client:{clientID}   registered client (no TTL)
//	{prefix}client:ip:{ip}      registration counter per IP (24h TTL)
//	{prefix}code:{code}         authorization code (TTL = code lifetime)
//	{prefix}refresh:{token}     refresh token record (TTL = token lifetime)
//	{prefix}jti:{tokenID}       access token revocation record (TTL = token lifetime)
//
// # Security Considerations
//
// Authorization code redemption and access token revocation use Lua scripts
// so check-and-set sequences execute atomically on the server. Used codes
// are retained until their TTL elapses to support reuse detection.
package redis
