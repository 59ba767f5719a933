package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrgeorge1983/tom/pkg/types"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, 5*time.Minute, time.Hour)
}

func TestStoreThenLookupHits(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Store(ctx, "router1", "show version", "Cisco IOS...", 0))

	entry, ok, err := c.Lookup(ctx, "router1", "show version", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Cisco IOS...", entry.RawOutput)
}

func TestLookupMissWhenUncached(t *testing.T) {
	c := newTestCache(t)
	_, ok, err := c.Lookup(context.Background(), "router1", "show version", true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLookupBypassedWhenUseCacheFalse(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	require.NoError(t, c.Store(ctx, "router1", "show version", "output", 0))

	_, ok, err := c.Lookup(ctx, "router1", "show version", false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTLOverrideClampedToMaxTTL(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	require.NoError(t, c.Store(ctx, "router1", "show version", "output", 10*time.Hour))

	entry, ok, err := c.Lookup(ctx, "router1", "show version", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int(time.Hour.Seconds()), entry.TTLS)
}

func TestStatusReportsBypassRefreshMissHit(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	meta, entry, err := c.Status(ctx, "router1", "show version", false, false)
	require.NoError(t, err)
	assert.Equal(t, types.CacheBypass, meta.Status)
	assert.Nil(t, entry)

	meta, entry, err = c.Status(ctx, "router1", "show version", true, true)
	require.NoError(t, err)
	assert.Equal(t, types.CacheRefresh, meta.Status)
	assert.Nil(t, entry)

	meta, entry, err = c.Status(ctx, "router1", "show version", true, false)
	require.NoError(t, err)
	assert.Equal(t, types.CacheMiss, meta.Status)
	assert.Nil(t, entry)

	require.NoError(t, c.Store(ctx, "router1", "show version", "output", 0))
	meta, entry, err = c.Status(ctx, "router1", "show version", true, false)
	require.NoError(t, err)
	assert.Equal(t, types.CacheHit, meta.Status)
	require.NotNil(t, meta.CachedAt)
	require.NotNil(t, meta.AgeSeconds)
	require.NotNil(t, entry)
}

func TestInvalidateDeviceRemovesAllCommandsForHost(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Store(ctx, "router1", "show version", "a", 0))
	require.NoError(t, c.Store(ctx, "router1", "show interfaces", "b", 0))
	require.NoError(t, c.Store(ctx, "router2", "show version", "c", 0))

	n, err := c.InvalidateDevice(ctx, "router1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err := c.Lookup(ctx, "router1", "show version", true)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Lookup(ctx, "router2", "show version", true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInvalidateAllClearsEverything(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Store(ctx, "router1", "show version", "a", 0))
	require.NoError(t, c.Store(ctx, "router2", "show version", "b", 0))

	n, err := c.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err := c.Lookup(ctx, "router1", "show version", true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFingerprintIsStablePerDeviceCommandPair(t *testing.T) {
	a := Fingerprint("router1", "show version")
	b := Fingerprint("router1", "show version")
	c := Fingerprint("router1", "show interfaces")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
