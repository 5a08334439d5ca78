// Package redisclient builds the go-redis client used by the optional
// redis-backed ObjectCache store (internal/director/cachestore).
package redisclient

import (
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options mirrors the subset of redis connection tuning the director's
// cache config exposes; kept separate from internal/config to avoid an
// import cycle back into it.
type Options struct {
	Addr               string
	Username           string
	Password           string
	DB                 int
	PoolSizeMultiplier int
	MinIdleConns       int
	DialTimeout        time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxRetries         int
}

// New returns a configured go-redis client with pooling and retries.
func New(o Options) *redis.Client {
	poolSize := o.PoolSizeMultiplier * runtime.NumCPU()
	if poolSize <= 0 {
		poolSize = 10 * runtime.NumCPU()
	}
	return redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     poolSize,
		MinIdleConns: o.MinIdleConns,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
		MaxRetries:   o.MaxRetries,
	})
}
