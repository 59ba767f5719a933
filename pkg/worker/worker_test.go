package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/wrgeorge1983/tom/pkg/cache"
	"github.com/wrgeorge1983/tom/pkg/credential"
	"github.com/wrgeorge1983/tom/pkg/gate"
	"github.com/wrgeorge1983/tom/pkg/queue"
	"github.com/wrgeorge1983/tom/pkg/transport"
	"github.com/wrgeorge1983/tom/pkg/types"
)

type fakeSession struct {
	sends map[string]string
	err   error
}

func (s *fakeSession) Send(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	out, ok := s.sends[command]
	if !ok {
		return "", fmt.Errorf("fakeSession: no canned output for %q", command)
	}
	return out, nil
}

func (s *fakeSession) Close() error { return nil }

type fakeAdapter struct {
	session *fakeSession
	openErr error
}

func (a *fakeAdapter) Open(ctx context.Context, host string, port int, driver string, options map[string]string, cred types.Credential) (transport.Session, error) {
	if a.openErr != nil {
		return nil, a.openErr
	}
	return a.session, nil
}

type fakeCredential struct {
	cred types.Credential
}

func (f *fakeCredential) Get(ctx context.Context, credentialID string) (types.Credential, error) {
	return f.cred, nil
}

func (f *fakeCredential) ListIDs(ctx context.Context, timeout time.Duration) ([]credential.CredentialStatus, error) {
	return []credential.CredentialStatus{{ID: "default", Reachable: true}}, nil
}

func newTestWorker(t *testing.T, adapter *fakeAdapter) (*Worker, *queue.Queue) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	q := queue.New(rdb)
	g := gate.New(rdb, time.Minute)
	c := cache.New(rdb, time.Minute, time.Hour)

	registry := transport.NewRegistry()
	registry.Register(types.AdapterA, adapter)

	w := New(Config{ConsumerID: "test-worker", MaxConcurrentJobs: 2, FetchTimeout: 200 * time.Millisecond}, q, g, c, registry, &fakeCredential{cred: types.Credential{Username: "admin", Password: "secret"}})
	return w, q
}

func TestRunJob_CacheMissExecutesAndCaches(t *testing.T) {
	adapter := &fakeAdapter{session: &fakeSession{sends: map[string]string{"show version": "Version 1.0"}}}
	w, q := newTestWorker(t, adapter)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, types.JobPayload{
		Host:             "router1",
		Port:             22,
		Adapter:          types.AdapterA,
		Commands:         []types.CommandSpec{{Command: "show version"}},
		CredentialRef:    "default",
		MaxQueueWaitS:    5,
		TimeoutS:         5,
		UseCache:         true,
		RetriesRemaining: 1,
	}, types.JobMetadata{DeviceName: "router1", Commands: []types.CommandSpec{{Command: "show version"}}})
	require.NoError(t, err)

	job, ok, err := q.Fetch(ctx, "test-worker", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, job.ID)

	w.runJob(ctx, job)

	final, err := q.Poll(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusComplete, final.Status)
	require.Equal(t, "Version 1.0", final.Result.Data["show version"])
	require.Equal(t, types.CacheMiss, final.Result.Meta.Cache["show version"].Status)

	entry, ok, err := w.cache.Lookup(ctx, "router1", "show version", true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Version 1.0", entry.RawOutput)
}

func TestRunJob_CacheHitSkipsTransport(t *testing.T) {
	adapter := &fakeAdapter{openErr: fmt.Errorf("transport should not be opened on a full cache hit")}
	w, q := newTestWorker(t, adapter)
	ctx := context.Background()

	require.NoError(t, w.cache.Store(ctx, "router1", "show version", "cached output", time.Minute))

	id, err := q.Enqueue(ctx, types.JobPayload{
		Host:          "router1",
		Port:          22,
		Adapter:       types.AdapterA,
		Commands:      []types.CommandSpec{{Command: "show version"}},
		CredentialRef: "default",
		MaxQueueWaitS: 5,
		TimeoutS:      5,
		UseCache:      true,
	}, types.JobMetadata{DeviceName: "router1", Commands: []types.CommandSpec{{Command: "show version"}}})
	require.NoError(t, err)

	job, ok, err := q.Fetch(ctx, "test-worker", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	w.runJob(ctx, job)

	final, err := q.Poll(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusComplete, final.Status)
	require.Equal(t, "cached output", final.Result.Data["show version"])
	require.Equal(t, types.CacheHit, final.Result.Meta.Cache["show version"].Status)
}

func TestRunJob_TransportFailureIsRetried(t *testing.T) {
	adapter := &fakeAdapter{openErr: fmt.Errorf("dial tcp: connection refused")}
	w, q := newTestWorker(t, adapter)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, types.JobPayload{
		Host:             "router1",
		Port:             22,
		Adapter:          types.AdapterA,
		Commands:         []types.CommandSpec{{Command: "show version"}},
		CredentialRef:    "default",
		MaxQueueWaitS:    5,
		TimeoutS:         5,
		UseCache:         true,
		RetriesRemaining: 1,
	}, types.JobMetadata{DeviceName: "router1", Commands: []types.CommandSpec{{Command: "show version"}}})
	require.NoError(t, err)

	job, ok, err := q.Fetch(ctx, "test-worker", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	w.runJob(ctx, job)

	// transport errors are TRANSIENT and one retry remains, so the job is
	// requeued rather than left FAILED.
	requeued, err := q.Poll(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusQueued, requeued.Status)
	require.Equal(t, 0, requeued.Payload.RetriesRemaining)
}

func TestWorker_StopDrainsInFlightJob(t *testing.T) {
	adapter := &fakeAdapter{session: &fakeSession{sends: map[string]string{"show version": "Version 1.0"}}}
	w, q := newTestWorker(t, adapter)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, types.JobPayload{
		Host:          "router1",
		Port:          22,
		Adapter:       types.AdapterA,
		Commands:      []types.CommandSpec{{Command: "show version"}},
		CredentialRef: "default",
		MaxQueueWaitS: 5,
		TimeoutS:      5,
		UseCache:      true,
	}, types.JobMetadata{DeviceName: "router1", Commands: []types.CommandSpec{{Command: "show version"}}})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		w.Run(runCtx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}
