// Package redisconn builds the single redis.Cmdable connection shared by
// pkg/queue, pkg/cache and pkg/gate, so all three agree on TLS and auth
// configuration.
package redisconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wrgeorge1983/tom/pkg/config"
)

// New dials a redis client from the shared Redis config block.
func New(cfg config.Redis) redis.Cmdable {
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.AuthToken,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// NewFromCmdable is a convenience seam for tests: it lets callers swap in
// a miniredis-backed client without duplicating dial logic.
func NewFromCmdable(c redis.Cmdable) redis.Cmdable { return c }

// CheckReachable pings the backend once; used at process startup to fail
// fast with a clear error rather than surfacing opaque timeouts later.
func CheckReachable(c redis.Cmdable) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis not reachable: %w", err)
	}
	return nil
}
