// Package cachestore provides pluggable backends for the director's
// optional response cache (spec §4.5): an in-process map store used by
// default, and a Redis-backed store for multi-instance deployments that
// need to share cached objects.
package cachestore

import (
	"context"
	"time"
)

// Entry is one stored response.
type Entry struct {
	Status      int
	Header      map[string][]string
	Body        []byte
	Compressed  bool
	StoredAt    time.Time
	TTL         time.Duration
}

// Expired reports whether e is past its TTL as of now.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.StoredAt.Add(e.TTL))
}

// Store persists cache entries keyed by the director's composite cache
// key (base path + Vary discriminator).
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, e *Entry) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every entry whose key has the given prefix,
	// used to purge all Vary variants of one base key at once. Reports
	// whether any entry matched, so a PURGE handler can answer 200 vs 404.
	DeletePrefix(ctx context.Context, prefix string) (bool, error)
}
