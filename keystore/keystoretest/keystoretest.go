// Package keystoretest provides a conformance suite that every
// keystore.Store implementation must pass.
package keystoretest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-bearer-go/keystore"
)

// StoreFactory creates a new, empty Store for a single subtest.
type StoreFactory func(t *testing.T) keystore.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("TTLExpiry", func(t *testing.T) { testTTLExpiry(t, factory) })
	t.Run("NoTTL", func(t *testing.T) { testNoTTL(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("EmptyKey", func(t *testing.T) { testEmptyKey(t, factory) })
	t.Run("CallerCannotMutateStoredData", func(t *testing.T) { testIsolation(t, factory) })
	t.Run("ConcurrentAccess", func(t *testing.T) { testConcurrent(t, factory) })
}

func testSetAndGet(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	data := []byte(`{"keys":[]}`)

	if err := s.Set(ctx, "jwks", data, time.Minute); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	item, err := s.Get(ctx, "jwks")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item == nil {
		t.Fatal("Get() returned nil item")
	}
	if !bytes.Equal(item.Data, data) {
		t.Fatalf("Get() returned wrong data: got %s, want %s", item.Data, data)
	}
	if item.ExpiresAt == nil {
		t.Fatal("expected ExpiresAt to be set for a TTL'd item")
	}
	if item.StoredAt.IsZero() {
		t.Fatal("expected StoredAt to be set")
	}
}

func testGetMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	item, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item for missing key, got %+v", item)
	}
}

func testOverwrite(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("one"), 0); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("two"), 0); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	item, err := s.Get(ctx, "k")
	if err != nil || item == nil {
		t.Fatalf("Get() = %v, %v", item, err)
	}
	if string(item.Data) != "two" {
		t.Fatalf("want two, got %s", item.Data)
	}
}

func testTTLExpiry(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	if err := s.Set(ctx, "short", []byte("x"), 50*time.Millisecond); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	item, err := s.Get(ctx, "short")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item != nil {
		t.Fatalf("expected expired item to be gone, got %s", item.Data)
	}
}

func testNoTTL(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	if err := s.Set(ctx, "forever", []byte("x"), 0); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	item, err := s.Get(ctx, "forever")
	if err != nil || item == nil {
		t.Fatalf("Get() = %v, %v", item, err)
	}
	if item.ExpiresAt != nil {
		t.Fatalf("expected no expiry, got %v", item.ExpiresAt)
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("x"), 0); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	item, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item != nil {
		t.Fatal("expected deleted key to be gone")
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() of missing key failed: %v", err)
	}
}

func testEmptyKey(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	if _, err := s.Get(ctx, ""); !errors.Is(err, keystore.ErrEmptyKey) {
		t.Fatalf("Get(\"\") want ErrEmptyKey, got %v", err)
	}
	if err := s.Set(ctx, "", []byte("x"), 0); !errors.Is(err, keystore.ErrEmptyKey) {
		t.Fatalf("Set(\"\") want ErrEmptyKey, got %v", err)
	}
	if err := s.Delete(ctx, ""); !errors.Is(err, keystore.ErrEmptyKey) {
		t.Fatalf("Delete(\"\") want ErrEmptyKey, got %v", err)
	}
}

func testIsolation(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	data := []byte("original")
	if err := s.Set(ctx, "k", data, 0); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	data[0] = 'X'

	item, err := s.Get(ctx, "k")
	if err != nil || item == nil {
		t.Fatalf("Get() = %v, %v", item, err)
	}
	if string(item.Data) != "original" {
		t.Fatalf("stored data was mutated through the input slice: %s", item.Data)
	}
	item.Data[0] = 'Y'

	again, err := s.Get(ctx, "k")
	if err != nil || again == nil {
		t.Fatalf("Get() = %v, %v", again, err)
	}
	if string(again.Data) != "original" {
		t.Fatalf("stored data was mutated through a returned item: %s", again.Data)
	}
}

func testConcurrent(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := s.Set(ctx, "shared", []byte(`{"keys":[]}`), time.Minute); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.Get(ctx, "shared"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent op failed: %v", err)
	}
}
