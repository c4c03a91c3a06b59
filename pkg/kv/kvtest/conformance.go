// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/realstake/realstake-backend/pkg/kv"
)

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, store kv.Store)
	}{
		{"SetGet", testSetGet},
		{"GetMissing", testGetMissing},
		{"Overwrite", testOverwrite},
		{"ValueIsCopied", testValueIsCopied},
		{"Del", testDel},
		{"Exists", testExists},
		{"SetWithTTL", testSetWithTTL},
		{"Expire", testExpire},
		{"TTL", testTTL},
		{"Keys", testKeys},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tt.test(t, store)
		})
	}
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()
	value := []byte(`{"bids":[],"asks":[]}`)

	if err := store.Set(ctx, "test:book", value, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "test:book")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Fatalf("Expected %q, got %q", value, got)
	}
}

func testGetMissing(t *testing.T, store kv.Store) {
	_, err := store.Get(context.Background(), "test:missing")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func testOverwrite(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.Set(ctx, "test:key", []byte("one"), time.Hour)
	store.Set(ctx, "test:key", []byte("two"), 0)

	got, err := store.Get(ctx, "test:key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("Expected overwrite, got %q", got)
	}

	// the second Set carried no TTL
	ttl, err := store.TTL(ctx, "test:key")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != -1 {
		t.Fatalf("Expected -1 after overwrite without TTL, got %v", ttl)
	}
}

func testValueIsCopied(t *testing.T, store kv.Store) {
	ctx := context.Background()
	value := []byte("abc")
	store.Set(ctx, "test:copy", value, 0)
	value[0] = 'x'

	got, _ := store.Get(ctx, "test:copy")
	if string(got) != "abc" {
		t.Fatalf("Store aliased caller buffer: got %q", got)
	}
	got[1] = 'y'

	again, _ := store.Get(ctx, "test:copy")
	if string(again) != "abc" {
		t.Fatalf("Store returned internal buffer: got %q", again)
	}
}

func testDel(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.Set(ctx, "test:del1", []byte("a"), 0)
	store.Set(ctx, "test:del2", []byte("b"), 0)

	deleted, err := store.Del(ctx, "test:del1", "test:absent")
	if err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("Expected 1 deleted, got %d", deleted)
	}

	if _, err := store.Get(ctx, "test:del1"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for deleted key, got %v", err)
	}
	if _, err := store.Get(ctx, "test:del2"); err != nil {
		t.Fatalf("Expected test:del2 to remain, got %v", err)
	}
}

func testExists(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.Set(ctx, "test:e1", []byte("1"), 0)
	store.Set(ctx, "test:e2", []byte("2"), 0)

	n, err := store.Exists(ctx, "test:e1", "test:e2", "test:e3")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2, got %d", n)
	}
}

func testSetWithTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.Set(ctx, "test:ttl", []byte("expires"), 50*time.Millisecond)

	if _, err := store.Get(ctx, "test:ttl"); err != nil {
		t.Fatalf("Expected key to exist initially, got %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if _, err := store.Get(ctx, "test:ttl"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected key to be expired, got %v", err)
	}
	if n, _ := store.Exists(ctx, "test:ttl"); n != 0 {
		t.Fatalf("Expected expired key to be invisible to Exists, got %d", n)
	}
}

func testExpire(t *testing.T, store kv.Store) {
	ctx := context.Background()

	ok, err := store.Expire(ctx, "test:nokey", time.Second)
	if err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if ok {
		t.Fatalf("Expected Expire to report false for a missing key")
	}

	store.Set(ctx, "test:expire", []byte("v"), 0)
	ok, err = store.Expire(ctx, "test:expire", 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("Expected Expire to succeed, got %v %v", ok, err)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := store.Get(ctx, "test:expire"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected key to be expired, got %v", err)
	}
}

func testTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()

	if _, err := store.TTL(ctx, "test:ttl-missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	store.Set(ctx, "test:ttl-check", []byte("v"), 500*time.Millisecond)
	ttl, err := store.TTL(ctx, "test:ttl-check")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > 500*time.Millisecond {
		t.Fatalf("Expected TTL in (0, 500ms], got %v", ttl)
	}
}

func testKeys(t *testing.T, store kv.Store) {
	ctx := context.Background()
	store.Set(ctx, "rsk:q:b", []byte("1"), 0)
	store.Set(ctx, "rsk:q:a", []byte("1"), 0)
	store.Set(ctx, "rsk:other", []byte("1"), 0)

	keys, err := store.Keys(ctx, "rsk:q:")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"rsk:q:a", "rsk:q:b"}) {
		t.Fatalf("Unexpected keys %v", keys)
	}
}

func testPing(t *testing.T, store kv.Store) {
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
