// Package keystore provides a small key/value abstraction used to share
// fetched key-set documents between verifier replicas.
//
// A Store only ever holds public material (JWKS documents), so
// implementations need durability and TTL support but no secrecy.
package keystore

import (
	"context"
	"errors"
	"time"
)

// Store defines the primary interface for shared document storage.
type Store interface {
	// Get retrieves data for key.
	// Returns a nil Item if the key doesn't exist or has expired.
	// Returns an error only for legitimate storage system failures.
	Get(ctx context.Context, key string) (*Item, error)

	// Set stores data for key. A ttl <= 0 stores the item without expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the backend.
	Close() error
}

// Item represents a stored document with metadata.
type Item struct {
	Data      []byte     // The stored data
	StoredAt  time.Time  // When the item was written
	ExpiresAt *time.Time // When the item expires (nil = no expiration)
}

// IsExpired reports whether the item has expired relative to now.
func (it *Item) IsExpired(now time.Time) bool {
	return it.ExpiresAt != nil && !now.Before(*it.ExpiresAt)
}

// ErrEmptyKey is returned when an operation is attempted with an empty key.
var ErrEmptyKey = errors.New("keystore: empty key")
