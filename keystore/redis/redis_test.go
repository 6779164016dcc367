package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/mcp-bearer-go/keystore"
	"github.com/ggoodman/mcp-bearer-go/keystore/keystoretest"
	"github.com/redis/go-redis/v9"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := New(Config{Client: client, KeyPrefix: "test:"})
	if err != nil {
		t.Fatalf("Failed to create Redis store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	keystoretest.RunStoreTests(t, func(t *testing.T) keystore.Store {
		s, _ := newStore(t)
		return s
	})
}

func TestRedisStore_KeyPrefixAndNativeTTL(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "jwks:tenant", []byte("doc"), time.Minute); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if !mr.Exists("test:jwks:tenant") {
		t.Fatalf("expected prefixed key, have %v", mr.Keys())
	}
	if ttl := mr.TTL("test:jwks:tenant"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected native redis ttl of ~1m, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	item, err := s.Get(ctx, "jwks:tenant")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item != nil {
		t.Fatal("expected redis to have expired the key")
	}
}

func TestRedisStore_CorruptEnvelope(t *testing.T) {
	s, mr := newStore(t)
	if err := mr.Set("test:broken", "not-json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Get(context.Background(), "broken"); err == nil {
		t.Fatal("expected error decoding a corrupt envelope")
	}
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without client")
	}
}
