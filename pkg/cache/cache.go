// Package cache implements the per-command response cache described in
// spec §4.3: a fingerprinted (device_host, command) key, stored in the
// same shared Redis backend as pkg/queue and pkg/gate, with partial-hit
// fan-out for multi-command jobs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wrgeorge1983/tom/pkg/types"
)

const (
	keyPrefix    = "tom:cache:"
	deviceIdxFmt = "tom:cache:idx:%s"
)

// Cache is the response cache over a shared redis.Cmdable.
type Cache struct {
	rdb redis.Cmdable

	// DefaultTTL is used when a request does not specify cache_ttl.
	DefaultTTL time.Duration
	// MaxTTL bounds any per-request cache_ttl override.
	MaxTTL time.Duration
}

// New builds a Cache with the given default/max TTLs.
func New(rdb redis.Cmdable, defaultTTL, maxTTL time.Duration) *Cache {
	return &Cache{rdb: rdb, DefaultTTL: defaultTTL, MaxTTL: maxTTL}
}

// Fingerprint computes the cache key for one (device host, command) pair.
func Fingerprint(deviceHost, command string) string {
	sum := sha256.Sum256([]byte(deviceHost + "\x00" + command))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Lookup performs a read-through lookup for one command. A cache miss, or
// use_cache=false, returns ok=false.
func (c *Cache) Lookup(ctx context.Context, deviceHost, command string, useCache bool) (*types.CacheEntry, bool, error) {
	if !useCache {
		return nil, false, nil
	}
	data, err := c.rdb.Get(ctx, Fingerprint(deviceHost, command)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup for %s: %w", command, err)
	}
	var entry types.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("decode cache entry for %s: %w", command, err)
	}
	if entry.Expired(time.Now()) {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Store writes a command's raw output with the given TTL override (0 means
// use DefaultTTL). The TTL is clamped to MaxTTL.
func (c *Cache) Store(ctx context.Context, deviceHost, command, rawOutput string, ttlOverride time.Duration) error {
	ttl := c.DefaultTTL
	if ttlOverride > 0 {
		ttl = ttlOverride
	}
	if c.MaxTTL > 0 && ttl > c.MaxTTL {
		ttl = c.MaxTTL
	}

	entry := types.CacheEntry{
		RawOutput: rawOutput,
		CachedAt:  time.Now(),
		TTLS:      int(ttl.Seconds()),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry for %s: %w", command, err)
	}
	key := Fingerprint(deviceHost, command)
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("store cache entry for %s: %w", command, err)
	}
	idxKey := fmt.Sprintf(deviceIdxFmt, deviceHost)
	if err := c.rdb.SAdd(ctx, idxKey, key).Err(); err != nil {
		return fmt.Errorf("index cache entry for %s: %w", deviceHost, err)
	}
	// the index itself outlives any single entry's TTL by a wide margin
	// so a burst of commands against a rarely-queried device doesn't
	// lose its index before the next invalidate-by-device call
	c.rdb.Expire(ctx, idxKey, 7*24*time.Hour)
	return nil
}

// Status resolves the CacheStatus and result metadata for one command,
// given the request-level use_cache/cache_refresh flags. A cache_refresh
// request reports REFRESH and never consults the lookup path (the caller
// must execute the command and Store its result).
func (c *Cache) Status(ctx context.Context, deviceHost, command string, useCache, refresh bool) (types.CommandCacheMeta, *types.CacheEntry, error) {
	if !useCache {
		return types.CommandCacheMeta{Status: types.CacheBypass}, nil, nil
	}
	if refresh {
		return types.CommandCacheMeta{Status: types.CacheRefresh}, nil, nil
	}

	entry, ok, err := c.Lookup(ctx, deviceHost, command, true)
	if err != nil {
		return types.CommandCacheMeta{}, nil, err
	}
	if !ok {
		return types.CommandCacheMeta{Status: types.CacheMiss}, nil, nil
	}

	age := time.Since(entry.CachedAt).Seconds()
	cachedAt := entry.CachedAt
	return types.CommandCacheMeta{
		Status:     types.CacheHit,
		CachedAt:   &cachedAt,
		AgeSeconds: &age,
	}, entry, nil
}

// InvalidateDevice deletes every cached command for one device host, via
// the per-device fingerprint index maintained by Store. The fingerprint
// itself is a one-way hash, so there is no way to enumerate a device's
// entries without this index.
func (c *Cache) InvalidateDevice(ctx context.Context, deviceHost string) (int, error) {
	idxKey := fmt.Sprintf(deviceIdxFmt, deviceHost)
	members, err := c.rdb.SMembers(ctx, idxKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list cache index for %s: %w", deviceHost, err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	n, err := c.rdb.Del(ctx, members...).Result()
	if err != nil {
		return 0, fmt.Errorf("invalidate device %s: %w", deviceHost, err)
	}
	if err := c.rdb.Del(ctx, idxKey).Err(); err != nil {
		return int(n), fmt.Errorf("clear cache index for %s: %w", deviceHost, err)
	}
	return int(n), nil
}

// InvalidateAll deletes every cache entry, together with the per-device
// index sets, and returns the number of entries (not index sets)
// deleted. Intended for administrative
// use only; it scans the whole tom:cache: namespace with SCAN rather than
// KEYS to avoid a long blocking call.
func (c *Cache) InvalidateAll(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, keyPrefix+"*", 200).Result()
		if err != nil {
			return total, fmt.Errorf("scan cache namespace: %w", err)
		}
		var entries, indexes []string
		for _, k := range keys {
			if strings.HasPrefix(k, keyPrefix+"idx:") {
				indexes = append(indexes, k)
			} else {
				entries = append(entries, k)
			}
		}
		if len(indexes) > 0 {
			if err := c.rdb.Del(ctx, indexes...).Err(); err != nil {
				return total, fmt.Errorf("delete scanned cache indexes: %w", err)
			}
		}
		if len(entries) > 0 {
			n, err := c.rdb.Del(ctx, entries...).Result()
			if err != nil {
				return total, fmt.Errorf("delete scanned cache keys: %w", err)
			}
			total += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return total, nil
}
