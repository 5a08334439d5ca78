package cachestore

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares cached objects across a fleet of director instances
// behind the same Redis (spec §4.5 "Backend: redis" config option). Keys
// are namespaced under a caller-supplied prefix so one Redis can host
// several clusters' caches without collision.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore wraps an existing go-redis client. keyPrefix is prepended
// to every cache key (e.g. "director:cache:").
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) fullKey(key string) string { return s.keyPrefix + key }

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.fullKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.fullKey(key), raw, e.TTL).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.fullKey(key)).Err()
}

func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) (bool, error) {
	pattern := s.fullKey(prefix) + "*"
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return false, nil
	}
	return true, s.client.Del(ctx, keys...).Err()
}
