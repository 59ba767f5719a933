package gate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
)

func newTestGate(t *testing.T, ttl time.Duration) (*Gate, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, ttl), srv
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGate(t, time.Minute)

	lease, err := g.Acquire(ctx, "router1", "worker-a", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "router1", lease.DeviceKey)
	assert.Equal(t, "worker-a", lease.HolderID)

	require.NoError(t, g.Release(ctx, lease))

	lease2, err := g.Acquire(ctx, "router1", "worker-b", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "worker-b", lease2.HolderID)
}

func TestAcquireBlocksWhileHeld(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGate(t, time.Minute)

	lease, err := g.Acquire(ctx, "router1", "worker-a", time.Second)
	require.NoError(t, err)

	_, err = g.Acquire(ctx, "router1", "worker-b", 50*time.Millisecond)
	require.Error(t, err)
	te, ok := tomerr.As(err)
	require.True(t, ok)
	assert.Equal(t, tomerr.GatingError, te.Kind)
	assert.Equal(t, tomerr.Transient, te.Retry)

	require.NoError(t, g.Release(ctx, lease))
}

func TestReleaseIsIdempotentAndHolderChecked(t *testing.T) {
	ctx := context.Background()
	g, srv := newTestGate(t, time.Minute)

	lease, err := g.Acquire(ctx, "router1", "worker-a", time.Second)
	require.NoError(t, err)

	// simulate TTL expiry and re-grant to a different holder
	require.NoError(t, srv.Set("tom:lease:router1", "worker-b"))

	// worker-a's stale release must not steal worker-b's lease
	require.NoError(t, g.Release(ctx, lease))
	val, err := srv.Get("tom:lease:router1")
	require.NoError(t, err)
	assert.Equal(t, "worker-b", val)

	// a second release of an already-released lease is a no-op, not an error
	require.NoError(t, srv.Del("tom:lease:router1"))
	require.NoError(t, g.Release(ctx, lease))
}

func TestRenewExtendsTTLForHolder(t *testing.T) {
	ctx := context.Background()
	g, srv := newTestGate(t, time.Minute)

	lease, err := g.Acquire(ctx, "router1", "worker-a", time.Second)
	require.NoError(t, err)

	srv.SetTTL("tom:lease:router1", 5*time.Second)
	require.NoError(t, g.Renew(ctx, lease))
	assert.Greater(t, srv.TTL("tom:lease:router1"), 5*time.Second)
}

func TestRenewReturnsErrLostWhenReclaimed(t *testing.T) {
	ctx := context.Background()
	g, srv := newTestGate(t, time.Minute)

	lease, err := g.Acquire(ctx, "router1", "worker-a", time.Second)
	require.NoError(t, err)

	require.NoError(t, srv.Set("tom:lease:router1", "worker-b"))

	err = g.Renew(ctx, lease)
	assert.ErrorIs(t, err, ErrLost)
}

func TestRenewIntervalIsHalfTTL(t *testing.T) {
	g := &Gate{TTL: 10 * time.Second}
	assert.Equal(t, 5*time.Second, g.RenewInterval())
}
