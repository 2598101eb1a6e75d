// Package store provides the shared Redis client and the user repository
// adapter. Every store-backed entity in the service (OTP records, pending
// delivery payloads, the refresh blacklist, throttle counters, bans) lives
// on this one client.
package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/echonote/echonote-api/internal/config"
)

// NewClient builds the shared Redis client with a bounded connection pool.
// There is no process-wide singleton; callers inject the client into each
// component.
func NewClient(cfg *config.Config) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// Ping verifies connectivity within the given timeout. A failure is not
// fatal to startup: the rate limiter fails open and auth flows surface
// their own errors per operation.
func Ping(ctx context.Context, client redis.UniversalClient, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.Ping(ctx).Err()
}
