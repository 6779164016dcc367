// Package memory provides an in-process implementation of keystore.Store
// backed by a bounded LRU. It is suitable for single-replica deployments and
// tests.
package memory

import (
	"context"
	"time"

	"github.com/ggoodman/mcp-bearer-go/keystore"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxItems bounds the store when WithMaxItems is not given.
const DefaultMaxItems = 1024

// Store implements keystore.Store. The least recently used item is evicted
// once the store is full. The underlying lru.Cache does its own locking.
type Store struct {
	items    *lru.Cache[string, *keystore.Item]
	now      func() time.Time
	maxItems int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMaxItems sets the capacity. Values <= 0 keep the default.
func WithMaxItems(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxItems = n
		}
	}
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now, maxItems: DefaultMaxItems}
	for _, opt := range opts {
		opt(s)
	}
	// lru.New only fails for a non-positive size.
	s.items, _ = lru.New[string, *keystore.Item](s.maxItems)
	return s
}

// Get returns a copy of the stored item so callers can never corrupt it.
func (s *Store) Get(ctx context.Context, key string) (*keystore.Item, error) {
	if key == "" {
		return nil, keystore.ErrEmptyKey
	}

	item, ok := s.items.Get(key)
	if !ok {
		return nil, nil
	}

	if item.IsExpired(s.now()) {
		// A Set racing between Peek and Remove is dropped, which only costs
		// the next reader a miss.
		if cur, ok := s.items.Peek(key); ok && cur == item {
			s.items.Remove(key)
		}
		return nil, nil
	}

	out := *item
	out.Data = append([]byte(nil), item.Data...)
	return &out, nil
}

// Set stores a private copy of data under key.
func (s *Store) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if key == "" {
		return keystore.ErrEmptyKey
	}

	now := s.now()
	item := &keystore.Item{
		Data:     append([]byte(nil), data...),
		StoredAt: now,
	}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		item.ExpiresAt = &expiresAt
	}

	s.items.Add(key, item)
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return keystore.ErrEmptyKey
	}
	s.items.Remove(key)
	return nil
}

// Len reports how many items are held, expired ones included until they are
// next read or evicted.
func (s *Store) Len() int { return s.items.Len() }

// Close drops all items.
func (s *Store) Close() error {
	s.items.Purge()
	return nil
}

var _ keystore.Store = (*Store)(nil)
