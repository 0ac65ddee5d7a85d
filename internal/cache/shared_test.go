package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/roamio/roamio/internal/config"
)

func newSharedForTest(t *testing.T) (*Shared, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	shared, err := NewShared(config.ValkeyCacheConfig{Address: server.Addr()})
	if err != nil {
		t.Fatalf("new shared: %v", err)
	}
	t.Cleanup(shared.Close)
	return shared, server
}

func TestSharedPutFetch(t *testing.T) {
	shared, server := newSharedForTest(t)
	ctx := context.Background()

	env := NewEnvelope(map[string][]string{
		"france": {"eiffel.jpg", "louvre.jpg"},
		"japan":  {"fuji.jpg"},
	})
	if err := shared.Put(ctx, "catalog:all", env, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	var got Envelope[[]string]
	ok, err := shared.Fetch(ctx, "catalog:all", &got)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !ok {
		t.Fatalf("expected shared tier hit")
	}
	if urls, ok := got.Lookup("france"); !ok || len(urls) != 2 || urls[0] != "eiffel.jpg" {
		t.Fatalf("unexpected envelope: %#v", got)
	}

	server.FastForward(2 * time.Minute)
	ok, err = shared.Fetch(ctx, "catalog:all", &got)
	if err != nil {
		t.Fatalf("fetch after ttl: %v", err)
	}
	if ok {
		t.Fatalf("expected entry to expire in the shared tier")
	}
}

func TestSharedMissIsNotAnError(t *testing.T) {
	shared, _ := newSharedForTest(t)

	var got Envelope[[]string]
	ok, err := shared.Fetch(context.Background(), "absent", &got)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ok {
		t.Fatalf("expected miss")
	}
}

func TestSharedDelete(t *testing.T) {
	shared, _ := newSharedForTest(t)
	ctx := context.Background()

	if err := shared.Put(ctx, "key", "value", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := shared.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var got string
	ok, err := shared.Fetch(ctx, "key", &got)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ok {
		t.Fatalf("expected deleted key to miss")
	}
}

func TestSharedNilTierIsNoOp(t *testing.T) {
	var shared *Shared
	ctx := context.Background()

	if err := shared.Put(ctx, "key", "value", time.Minute); err != nil {
		t.Fatalf("nil put: %v", err)
	}
	var got string
	ok, err := shared.Fetch(ctx, "key", &got)
	if err != nil || ok {
		t.Fatalf("expected nil tier to miss silently, ok=%v err=%v", ok, err)
	}
	if err := shared.Delete(ctx, "key"); err != nil {
		t.Fatalf("nil delete: %v", err)
	}
	shared.Close()
}

func TestSharedRejectsEmptyAddress(t *testing.T) {
	if _, err := NewShared(config.ValkeyCacheConfig{}); err == nil {
		t.Fatalf("expected error for missing address")
	}
}
