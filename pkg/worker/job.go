package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrgeorge1983/tom/pkg/metrics"
	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

// runJob drives one job through cache partitioning, lease acquisition,
// transport execution and result reporting, per spec §4.6. It never
// returns an error: every failure is recorded on the job itself via
// queue.Fail, since by this point the job has already left the queue and
// has no other channel back to the caller.
func (w *Worker) runJob(ctx context.Context, job *types.Job) {
	logger := w.logger.With().Str("job_id", job.ID).Str("host", job.Payload.Host).Logger()
	logger.Info().Int("commands", len(job.Payload.Commands)).Msg("job started")

	stopHeartbeat := w.startHeartbeat(ctx, job.ID)
	defer stopHeartbeat()

	data := make(map[string]string, len(job.Payload.Commands))
	cacheMeta := make(map[string]types.CommandCacheMeta, len(job.Payload.Commands))
	var misses []string

	for _, spec := range job.Payload.Commands {
		meta, entry, err := w.cache.Status(ctx, job.Payload.Host, spec.Command, job.Payload.UseCache, job.Payload.CacheRefresh)
		if err != nil {
			w.fail(ctx, job.ID, tomerr.InternalError(err, "cache lookup for %s", spec.Command), logger)
			return
		}
		metrics.CacheLookupsTotal.WithLabelValues(string(meta.Status)).Inc()
		cacheMeta[spec.Command] = meta
		if entry != nil {
			data[spec.Command] = entry.RawOutput
			continue
		}
		misses = append(misses, spec.Command)
	}

	if len(misses) == 0 {
		w.complete(ctx, job.ID, data, cacheMeta, logger)
		return
	}

	holderID := w.cfg.ConsumerID + ":" + job.ID
	maxWait := time.Duration(job.Payload.MaxQueueWaitS) * time.Second
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}

	gateTimer := metrics.NewTimer()
	lease, err := w.gate.Acquire(ctx, job.Payload.Host, holderID, maxWait)
	gateTimer.ObserveDuration(metrics.GateWaitDuration)
	if err != nil {
		w.failClassified(ctx, job.ID, err, logger)
		return
	}
	defer func() {
		if relErr := w.gate.Release(context.Background(), lease); relErr != nil {
			logger.Warn().Err(relErr).Msg("release device lease failed")
		}
	}()

	stopRenew := w.startLeaseRenewal(ctx, job.ID, lease)
	defer stopRenew()

	cred, err := w.resolveCredential(ctx, job)
	if err != nil {
		w.failClassified(ctx, job.ID, err, logger)
		return
	}

	sess, err := w.transport.Open(ctx, types.DeviceDescriptor{
		Host:           job.Payload.Host,
		Port:           job.Payload.Port,
		Adapter:        job.Payload.Adapter,
		AdapterDriver:  job.Payload.AdapterDriver,
		AdapterOptions: job.Payload.AdapterOptions,
	}, cred)
	if err != nil {
		metrics.TransportSessionsTotal.WithLabelValues(string(job.Payload.Adapter), "error").Inc()
		if _, ok := tomerr.As(err); !ok {
			err = tomerr.TransportFailure(err, "open session to %s", job.Payload.Host)
		}
		w.failClassified(ctx, job.ID, err, logger)
		return
	}
	metrics.TransportSessionsTotal.WithLabelValues(string(job.Payload.Adapter), "ok").Inc()
	defer sess.Close()

	timeout := time.Duration(job.Payload.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	for _, command := range misses {
		if current, pollErr := w.queue.Poll(ctx, job.ID); pollErr == nil && current.Status == types.JobStatusAborted {
			logger.Info().Msg("job aborted mid-execution, stopping")
			return
		}

		cmdTimer := metrics.NewTimer()
		raw, err := sess.Send(ctx, command, timeout)
		cmdTimer.ObserveDurationVec(metrics.CommandDuration, string(job.Payload.Adapter))
		if err != nil {
			w.failClassified(ctx, job.ID, err, logger)
			return
		}
		data[command] = raw

		var ttlOverride time.Duration
		if job.Payload.CacheTTLS > 0 {
			ttlOverride = time.Duration(job.Payload.CacheTTLS) * time.Second
		}
		if job.Payload.UseCache {
			if err := w.cache.Store(ctx, job.Payload.Host, command, raw, ttlOverride); err != nil {
				logger.Warn().Err(err).Str("command", command).Msg("store cache entry failed")
			}
		}

		meta := cacheMeta[command]
		if meta.Status == types.CacheRefresh {
			now := time.Now()
			zero := 0.0
			cacheMeta[command] = types.CommandCacheMeta{Status: types.CacheRefresh, CachedAt: &now, AgeSeconds: &zero}
		}
	}

	w.complete(ctx, job.ID, data, cacheMeta, logger)
}

func (w *Worker) complete(ctx context.Context, jobID string, data map[string]string, cacheMeta map[string]types.CommandCacheMeta, logger zerolog.Logger) {
	result := types.JobResult{Data: data, Meta: types.ResultMeta{Cache: cacheMeta}}
	if err := w.queue.Complete(ctx, jobID, result); err != nil {
		logger.Error().Err(err).Msg("mark job complete failed")
		return
	}
	metrics.JobsTotal.WithLabelValues(string(types.JobStatusComplete)).Inc()
	logger.Info().Msg("job completed")
}

// failClassified inspects err for a tomerr.Error to pick the right Kind
// and RetryHint; anything else is wrapped as an internal, non-retryable
// failure.
func (w *Worker) failClassified(ctx context.Context, jobID string, err error, logger zerolog.Logger) {
	if te, ok := tomerr.As(err); ok {
		hint := types.RetryFatal
		if te.Retry == tomerr.Transient {
			hint = types.RetryTransient
		}
		w.failWith(ctx, jobID, types.JobError{Kind: string(te.Kind), Message: te.Error()}, hint, logger)
		return
	}
	w.fail(ctx, jobID, tomerr.InternalError(err, "job execution"), logger)
}

func (w *Worker) fail(ctx context.Context, jobID string, err *tomerr.Error, logger zerolog.Logger) {
	w.failWith(ctx, jobID, types.JobError{Kind: string(err.Kind), Message: err.Error()}, types.RetryFatal, logger)
}

func (w *Worker) failWith(ctx context.Context, jobID string, jobErr types.JobError, hint types.RetryHint, logger zerolog.Logger) {
	if err := w.queue.Fail(context.Background(), jobID, jobErr, hint); err != nil {
		logger.Error().Err(err).Msg("mark job failed failed")
		return
	}
	if cur, pollErr := w.queue.Poll(context.Background(), jobID); pollErr == nil && cur.Status.Terminal() {
		metrics.JobsTotal.WithLabelValues(string(cur.Status)).Inc()
	}
	logger.Warn().Str("kind", jobErr.Kind).Str("retry_hint", string(hint)).Msg("job failed")
}

func (w *Worker) resolveCredential(ctx context.Context, job *types.Job) (types.Credential, error) {
	if job.Payload.CredentialOverride != nil {
		return *job.Payload.CredentialOverride, nil
	}
	if job.Payload.CredentialRef == "" {
		return types.Credential{}, tomerr.ValidationError("job has no credential reference or override")
	}
	cred, err := w.credential.Get(ctx, job.Payload.CredentialRef)
	if err != nil {
		return types.Credential{}, tomerr.AuthFailureError(err, "resolve credential %s", job.Payload.CredentialRef)
	}
	return cred, nil
}

// startHeartbeat ticks queue.Heartbeat at a cadence well inside the
// supervisor's stale-job window until the returned stop func is called.
func (w *Worker) startHeartbeat(ctx context.Context, jobID string) func() {
	const interval = 15 * time.Second
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := w.queue.Heartbeat(ctx, jobID); err != nil {
					w.logger.Warn().Err(err).Str("job_id", jobID).Msg("heartbeat failed")
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

// startLeaseRenewal ticks gate.Renew at the gate's half-TTL cadence so a
// long-running job never loses its device lease out from under it.
func (w *Worker) startLeaseRenewal(ctx context.Context, jobID string, lease *types.DeviceLease) func() {
	ticker := time.NewTicker(w.gate.RenewInterval())
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := w.gate.Renew(ctx, lease); err != nil {
					w.logger.Warn().Err(err).Str("job_id", jobID).Str("device_key", lease.DeviceKey).Msg("lease renewal failed")
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
