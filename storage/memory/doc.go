// Package memory provides an in-memory implementation of the storage interfaces.
//
// This package implements ClientStore, FlowStore, and TokenStore using Go's
// built-in maps with mutex protection for thread safety. It is suitable for
// development, testing, and single-instance deployments where persistence is
// not required.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Automatic cleanup of expired codes, refresh tokens, and revocation entries
//   - Atomic single-use redemption of authorization codes
//   - Atomic consume-and-rotate for refresh tokens
//
// For production deployments requiring persistence or multi-instance
// deployments, use the storage/redis package instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Close()
//
//	// The store satisfies ClientStore, FlowStore, and TokenStore
//	srv, _ := server.New(store, store, store, config, logger)
package memory
