package cachestore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, ok, _ := s.Get(ctx, "x"); ok {
		t.Fatal("expected miss on empty store")
	}

	e := &Entry{Status: 200, Body: []byte("abc"), StoredAt: time.Now(), TTL: time.Second}
	if err := s.Set(ctx, "x", e); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, _ := s.Get(ctx, "x")
	if !ok || string(got.Body) != "abc" {
		t.Fatalf("unexpected result: ok=%v got=%+v", ok, got)
	}

	if err := s.Delete(ctx, "x"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "x"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestMemoryStoreDeletePrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Set(ctx, "base|a", &Entry{StoredAt: time.Now(), TTL: time.Second})
	s.Set(ctx, "base|b", &Entry{StoredAt: time.Now(), TTL: time.Second})
	s.Set(ctx, "other", &Entry{StoredAt: time.Now(), TTL: time.Second})

	if found, err := s.DeletePrefix(ctx, "base"); err != nil || !found {
		t.Fatalf("DeletePrefix: found=%v err=%v", found, err)
	}
	if _, ok, _ := s.Get(ctx, "base|a"); ok {
		t.Fatal("expected base|a purged")
	}
	if _, ok, _ := s.Get(ctx, "other"); !ok {
		t.Fatal("expected other to survive")
	}
}

func TestEntryExpired(t *testing.T) {
	e := &Entry{StoredAt: time.Now().Add(-time.Minute), TTL: time.Second}
	if !e.Expired(time.Now()) {
		t.Fatal("expected entry to be expired")
	}
	fresh := &Entry{StoredAt: time.Now(), TTL: time.Minute}
	if fresh.Expired(time.Now()) {
		t.Fatal("expected fresh entry to not be expired")
	}
}
