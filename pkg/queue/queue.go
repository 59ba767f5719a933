// Package queue implements the job lifecycle and queue coordination
// described in spec §4.1: durable job envelopes stored as JSON in Redis
// string keys, a list
// used as the worker-visible queue, and heartbeat-based supervision that
// requeues jobs abandoned by a crashed worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wrgeorge1983/tom/pkg/types"
)

const (
	keyPrefix    = "tom:job:"
	queueKey     = "tom:queue"
	activeSetKey = "tom:active"

	jobTTL = 24 * time.Hour

	waitPollMin = 50 * time.Millisecond
	waitPollMax = 1 * time.Second
)

var (
	// ErrNotFound is returned when a job_id has no known envelope.
	ErrNotFound = errors.New("queue: job not found")
	// ErrTerminal is returned when an operation expects a non-terminal job.
	ErrTerminal = errors.New("queue: job already in terminal state")
)

// Queue is the job lifecycle and queue coordinator backed by a shared
// redis.Cmdable. It is safe for concurrent use by multiple controller and
// worker goroutines/processes.
type Queue struct {
	rdb redis.Cmdable

	// WorkerLiveness is the staleness window after which the supervisor
	// sweep considers an ACTIVE job's heartbeat abandoned.
	WorkerLiveness time.Duration
}

// New builds a Queue over the given redis backend.
func New(rdb redis.Cmdable) *Queue {
	return &Queue{rdb: rdb, WorkerLiveness: 60 * time.Second}
}

func jobKey(id string) string { return keyPrefix + id }

// Enqueue stores the job envelope (status NEW -> QUEUED) and pushes its id
// onto the worker queue. The envelope write happens before the queue push
// so that a crash between the two never leaves a queue entry with no
// backing envelope.
func (q *Queue) Enqueue(ctx context.Context, payload types.JobPayload, meta types.JobMetadata) (string, error) {
	id := uuid.New().String()
	now := time.Now()

	job := types.Job{
		ID:        id,
		Status:    types.JobStatusQueued,
		Attempts:  0,
		Payload:   payload,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	if err := q.rdb.Set(ctx, jobKey(id), data, jobTTL).Err(); err != nil {
		return "", fmt.Errorf("store job envelope: %w", err)
	}
	if err := q.rdb.LPush(ctx, queueKey, id).Err(); err != nil {
		return "", fmt.Errorf("push job to queue: %w", err)
	}
	return id, nil
}

// Fetch blocks (up to timeout) for the next queued job id, then
// transitions it QUEUED -> ACTIVE and records acquisition bookkeeping. A
// zero job with ok=false is returned on timeout; callers should loop.
func (q *Queue) Fetch(ctx context.Context, consumerID string, timeout time.Duration) (*types.Job, bool, error) {
	res, err := q.rdb.BRPop(ctx, timeout, queueKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch from queue: %w", err)
	}
	if len(res) != 2 {
		return nil, false, fmt.Errorf("unexpected BRPOP reply: %v", res)
	}
	id := res[1]

	job, err := q.load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if job.Status.Terminal() || job.Status == types.JobStatusAborted {
		// Job was aborted/completed out-of-band while queued; drop it
		// silently and let the caller fetch again.
		return nil, false, nil
	}

	now := time.Now()
	job.Status = types.JobStatusActive
	job.ConsumerID = consumerID
	job.AcquiredAt = &now
	job.LastTick = &now
	job.Attempts++
	job.UpdatedAt = now

	if err := q.save(ctx, job); err != nil {
		return nil, false, err
	}
	if err := q.rdb.SAdd(ctx, activeSetKey, id).Err(); err != nil {
		return nil, false, fmt.Errorf("track active job: %w", err)
	}
	return job, true, nil
}

// Heartbeat records a liveness tick for an ACTIVE job so the supervisor
// sweep does not consider it abandoned.
func (q *Queue) Heartbeat(ctx context.Context, jobID string) error {
	job, err := q.load(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != types.JobStatusActive {
		return nil
	}
	now := time.Now()
	job.LastTick = &now
	return q.save(ctx, job)
}

// Complete transitions ACTIVE -> COMPLETE and stores the result.
func (q *Queue) Complete(ctx context.Context, jobID string, result types.JobResult) error {
	job, err := q.load(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}
	job.Status = types.JobStatusComplete
	job.Result = &result
	job.UpdatedAt = time.Now()
	if err := q.save(ctx, job); err != nil {
		return err
	}
	return q.untrackActive(ctx, jobID)
}

// Fail records a failed attempt. FATAL hints, or a TRANSIENT hint with no
// retries remaining, transition ACTIVE -> FAILED. A TRANSIENT hint with
// retries remaining decrements retries_remaining and re-queues the job
// (ACTIVE -> QUEUED) after a small jittered backoff.
func (q *Queue) Fail(ctx context.Context, jobID string, jobErr types.JobError, hint types.RetryHint) error {
	job, err := q.load(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}

	retryable := hint == types.RetryTransient && job.Payload.RetriesRemaining > 0
	if !retryable {
		job.Status = types.JobStatusFailed
		job.Error = &jobErr
		job.UpdatedAt = time.Now()
		if err := q.save(ctx, job); err != nil {
			return err
		}
		return q.untrackActive(ctx, jobID)
	}

	job.Payload.RetriesRemaining--
	job.Status = types.JobStatusQueued
	job.ConsumerID = ""
	job.AcquiredAt = nil
	job.LastTick = nil
	job.UpdatedAt = time.Now()
	if err := q.save(ctx, job); err != nil {
		return err
	}
	if err := q.untrackActive(ctx, jobID); err != nil {
		return err
	}

	backoff := retryBackoff(job.Attempts)
	if backoff > 0 {
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return q.rdb.LPush(ctx, queueKey, jobID).Err()
}

// retryBackoff returns a small jittered delay that grows with attempt
// count, capped well below the heartbeat window so a retried job doesn't
// look abandoned to the supervisor sweep.
func retryBackoff(attempts int) time.Duration {
	base := time.Duration(attempts) * 200 * time.Millisecond
	if base > 2*time.Second {
		base = 2 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
	return base + jitter
}

// Abort transitions a non-terminal job to ABORTED. It is cooperative: a
// worker already executing the job observes the ABORTED status on its next
// heartbeat/checkpoint and stops, it is not forcibly killed.
func (q *Queue) Abort(ctx context.Context, jobID string) error {
	job, err := q.load(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}
	job.Status = types.JobStatusAborted
	job.UpdatedAt = time.Now()
	if err := q.save(ctx, job); err != nil {
		return err
	}
	return q.untrackActive(ctx, jobID)
}

// Poll performs one idempotent read of a job's current snapshot.
func (q *Queue) Poll(ctx context.Context, jobID string) (*types.Job, error) {
	return q.load(ctx, jobID)
}

// Wait polls with exponential backoff ([50ms, 100, 200, 400, ...] capped at
// 1s) until the job reaches a terminal status or the deadline elapses. It
// never mutates the job: a deadline expiry returns the last-seen
// non-terminal snapshot alongside ok=false so the job is never lost.
func (q *Queue) Wait(ctx context.Context, jobID string, deadline time.Duration) (*types.Job, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	delay := waitPollMin
	for {
		job, err := q.load(ctx, jobID)
		if err != nil {
			return nil, false, err
		}
		if job.Status.Terminal() {
			return job, true, nil
		}

		select {
		case <-ctx.Done():
			return job, false, nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > waitPollMax {
			delay = waitPollMax
		}
	}
}

// SweepStale requeues ACTIVE jobs whose last heartbeat tick is older than
// WorkerLiveness, decrementing retries_remaining as if a Fail(TRANSIENT)
// had occurred. It returns the ids it requeued or failed outright.
func (q *Queue) SweepStale(ctx context.Context) ([]string, error) {
	ids, err := q.rdb.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}

	var touched []string
	cutoff := time.Now().Add(-q.WorkerLiveness)
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			_ = q.rdb.SRem(ctx, activeSetKey, id).Err()
			continue
		}
		if err != nil {
			return touched, err
		}
		if job.Status != types.JobStatusActive {
			_ = q.rdb.SRem(ctx, activeSetKey, id).Err()
			continue
		}
		if job.LastTick == nil || job.LastTick.Before(cutoff) {
			jobErr := types.JobError{Kind: "TIMEOUT_ERROR", Message: "worker heartbeat lost"}
			if err := q.Fail(ctx, id, jobErr, types.RetryTransient); err != nil {
				return touched, fmt.Errorf("requeue stale job %s: %w", id, err)
			}
			touched = append(touched, id)
		}
	}
	return touched, nil
}

// ActiveJobs returns the current snapshot of every ACTIVE job, for the
// controller's /monitoring endpoints. Entries whose envelope has expired
// or gone stale are skipped rather than erroring the whole call.
func (q *Queue) ActiveJobs(ctx context.Context) ([]*types.Job, error) {
	ids, err := q.rdb.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	jobs := make([]*types.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *Queue) load(ctx context.Context, jobID string) (*types.Job, error) {
	data, err := q.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}

func (q *Queue) save(ctx context.Context, job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := q.rdb.Set(ctx, jobKey(job.ID), data, jobTTL).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (q *Queue) untrackActive(ctx context.Context, jobID string) error {
	if err := q.rdb.SRem(ctx, activeSetKey, jobID).Err(); err != nil {
		return fmt.Errorf("untrack job %s: %w", jobID, err)
	}
	return nil
}
