// Package gate implements the per-device concurrency lease described in
// spec §4.2: at most one in-flight transport session per device host
// across the whole worker fleet, backed by a set-if-absent key in the
// shared Redis store.
package gate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wrgeorge1983/tom/pkg/metrics"
	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

const keyPrefix = "tom:lease:"

// releaseScript deletes the lease key only if it is still held by the
// caller, so a lease re-granted to someone else after TTL expiry is never
// freed out from under them.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// renewScript extends the TTL only if the caller still holds the lease.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// ErrLost is returned by Renew when the lease was reclaimed by another
// holder after TTL expiry.
var ErrLost = errors.New("gate: lease no longer held")

// Gate coordinates per-device leases over a shared redis.Cmdable.
type Gate struct {
	rdb redis.Cmdable

	// TTL is the lease duration. Per spec, callers should size this to
	// 5x the typical job execution time and never less than the job
	// timeout.
	TTL time.Duration
}

// New builds a Gate with the given lease TTL.
func New(rdb redis.Cmdable, ttl time.Duration) *Gate {
	return &Gate{rdb: rdb, TTL: ttl}
}

func leaseKey(deviceKey string) string { return keyPrefix + deviceKey }

// Acquire blocks, retrying with jittered exponential backoff (500ms
// initial, doubling, capped at 5s, ±25% jitter), until it wins the lease
// or maxWait elapses. A timed-out acquisition returns a GATING_ERROR
// (TRANSIENT), matching the job-level retry accounting in pkg/queue.
func (g *Gate) Acquire(ctx context.Context, deviceKey, holderID string, maxWait time.Duration) (*types.DeviceLease, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 500 * time.Millisecond
	const (
		backoffCap = 5 * time.Second
		jitterFrac = 0.25
	)

	for {
		now := time.Now()
		ok, err := g.rdb.SetNX(ctx, leaseKey(deviceKey), holderID, g.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lease for %s: %w", deviceKey, err)
		}
		if ok {
			metrics.DeviceLeasesHeld.WithLabelValues(deviceKey).Inc()
			return &types.DeviceLease{DeviceKey: deviceKey, HolderID: holderID, AcquiredAt: now}, nil
		}

		if time.Now().Add(jittered(backoff, jitterFrac)).After(deadline) {
			return nil, tomerr.GatingFailure("device %s busy: no lease available within %s", deviceKey, maxWait)
		}

		wait := jittered(backoff, jitterFrac)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

// jittered returns d adjusted by +/- frac, never negative.
func jittered(d time.Duration, frac float64) time.Duration {
	delta := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * delta
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		return 0
	}
	return result
}

// Release deletes the lease if, and only if, it is still held by the
// lease's holder. It is idempotent: releasing a lease that was already
// released (or reclaimed by someone else) is not an error.
func (g *Gate) Release(ctx context.Context, lease *types.DeviceLease) error {
	if lease == nil {
		return nil
	}
	res, err := releaseScript.Run(ctx, g.rdb, []string{leaseKey(lease.DeviceKey)}, lease.HolderID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease for %s: %w", lease.DeviceKey, err)
	}
	// Only the holder that actually deleted the key held it at the
	// gauge's accounting: a lease already reclaimed by someone else (or
	// released twice) must not decrement a count it no longer owns.
	if deleted, _ := res.(int64); deleted > 0 {
		metrics.DeviceLeasesHeld.WithLabelValues(lease.DeviceKey).Dec()
	}
	return nil
}

// Renew extends the lease's TTL; callers must invoke this at half-TTL
// intervals for long-running commands. ErrLost indicates the key was
// reclaimed (TTL expired and another holder won it) and the caller must
// abort its in-flight operation with a TRANSIENT error.
func (g *Gate) Renew(ctx context.Context, lease *types.DeviceLease) error {
	ttlMS := g.TTL.Milliseconds()
	res, err := renewScript.Run(ctx, g.rdb, []string{leaseKey(lease.DeviceKey)}, lease.HolderID, ttlMS).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("renew lease for %s: %w", lease.DeviceKey, err)
	}
	n, _ := res.(int64)
	if n == 0 {
		return ErrLost
	}
	return nil
}

// RenewInterval is the half-TTL renewal cadence callers should use with a
// time.Ticker around long-running commands.
func (g *Gate) RenewInterval() time.Duration {
	return g.TTL / 2
}

// LeaseStatus reports a device lease's current holder and remaining TTL,
// for monitoring endpoints. It performs no mutation and takes no part in
// the acquire/release/renew protocol itself.
type LeaseStatus struct {
	Held       bool    `json:"held"`
	HolderID   string  `json:"holder_id,omitempty"`
	RemainingS float64 `json:"remaining_s,omitempty"`
}

// Status reads a device's lease without acquiring, renewing or releasing
// it, for the /monitoring/devices/{name} endpoint's lease-state detail.
func (g *Gate) Status(ctx context.Context, deviceKey string) (LeaseStatus, error) {
	holder, err := g.rdb.Get(ctx, leaseKey(deviceKey)).Result()
	if errors.Is(err, redis.Nil) {
		return LeaseStatus{}, nil
	}
	if err != nil {
		return LeaseStatus{}, fmt.Errorf("lease status for %s: %w", deviceKey, err)
	}
	ttl, err := g.rdb.PTTL(ctx, leaseKey(deviceKey)).Result()
	if err != nil {
		return LeaseStatus{}, fmt.Errorf("lease ttl for %s: %w", deviceKey, err)
	}
	return LeaseStatus{Held: true, HolderID: holder, RemainingS: ttl.Seconds()}, nil
}
