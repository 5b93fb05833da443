// Package storage provides interfaces and shared types for client, code, and
// token persistence.
//
// The storage package defines the core storage interfaces used throughout the
// sallyport-auth library:
//   - ClientStore: Manages registered client applications
//   - FlowStore: Manages authorization codes with atomic single-use semantics
//   - TokenStore: Manages refresh tokens and the access-token revocation ledger
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/redis: Redis-backed distributed storage for production
package storage
