// Package worker implements the per-job execution loop described in spec
// §4.6: fetch a job from the shared queue, partition its commands against
// the response cache, acquire the device lease for any cache misses, run
// them over a transport session, store fresh results, and report the
// outcome back to the queue. Workers are stateless beyond a consumer
// identity string and may be started or stopped at any time (spec §4.7).
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrgeorge1983/tom/pkg/cache"
	"github.com/wrgeorge1983/tom/pkg/credential"
	"github.com/wrgeorge1983/tom/pkg/gate"
	"github.com/wrgeorge1983/tom/pkg/log"
	"github.com/wrgeorge1983/tom/pkg/queue"
	"github.com/wrgeorge1983/tom/pkg/transport"
)

// Config holds the parameters one worker process runs with.
type Config struct {
	// ConsumerID identifies this worker instance in job envelopes and
	// logs. Must be unique within the fleet; defaults to a generated
	// value if empty (see cmd/tom-worker).
	ConsumerID string

	// FetchTimeout bounds each blocking pull from the queue, so the main
	// loop can periodically check ctx/shutdown even when no jobs arrive.
	FetchTimeout time.Duration

	// MaxConcurrentJobs bounds how many jobs this worker executes at
	// once; each runs on its own goroutine (spec §5 "multiple concurrent
	// jobs per worker are permitted").
	MaxConcurrentJobs int

	// ShutdownGrace is how long Stop waits for in-flight jobs to finish
	// before returning anyway.
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConsumerID == "" {
		c.ConsumerID = "worker-" + time.Now().Format("150405.000000")
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Second
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 4
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	return c
}

// Worker is the data-plane process role: it owns no state beyond its
// identity and drains jobs from the shared queue/cache/gate until told to
// stop.
type Worker struct {
	cfg Config

	queue      *queue.Queue
	gate       *gate.Gate
	cache      *cache.Cache
	transport  *transport.Registry
	credential credential.Plugin

	logger zerolog.Logger

	sem    chan struct{}
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New builds a Worker from its collaborators. Exactly one instance of
// each plugin kind runs for the process lifetime (spec §4.7).
func New(cfg Config, q *queue.Queue, g *gate.Gate, c *cache.Cache, tr *transport.Registry, cred credential.Plugin) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		cfg:        cfg,
		queue:      q,
		gate:       g,
		cache:      c,
		transport:  tr,
		credential: cred,
		logger:     log.WithConsumerID(cfg.ConsumerID),
		sem:        make(chan struct{}, cfg.MaxConcurrentJobs),
		stopCh:     make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled or Stop is called, then
// waits up to ShutdownGrace for in-flight jobs before returning.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().
		Int("max_concurrent_jobs", w.cfg.MaxConcurrentJobs).
		Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-w.stopCh:
			w.drain()
			return
		default:
		}

		job, ok, err := w.queue.Fetch(ctx, w.cfg.ConsumerID, w.cfg.FetchTimeout)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch from queue failed")
			continue
		}
		if !ok {
			continue // fetch timed out with nothing queued; loop and check ctx/stopCh again
		}

		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			w.drain()
			return
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.runJob(ctx, job)
		}()
	}
}

// Stop signals the main loop to stop fetching new jobs.
func (w *Worker) Stop() {
	close(w.stopCh)
}

// drain waits up to ShutdownGrace for in-flight jobs to finish, per the
// graceful-shutdown contract of spec §4.6.
func (w *Worker) drain() {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info().Msg("worker stopped: all jobs finished")
	case <-time.After(w.cfg.ShutdownGrace):
		w.logger.Warn().Dur("grace", w.cfg.ShutdownGrace).Msg("worker stopped: shutdown grace elapsed with jobs still in flight")
	}
}
