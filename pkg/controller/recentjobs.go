package controller

import (
	"sync"

	"github.com/wrgeorge1983/tom/pkg/types"
)

// recentJobs is a small fixed-capacity ring buffer of recently FAILED
// jobs, kept in the controller process to back /monitoring/failed_commands
// without a second durable store. It is populated as the controller
// observes terminal FAILED jobs (on /job/{id} retrieval and at dispatch
// time), so it is best-effort — a controller restart clears it, and a job
// failed while no one polled it may never appear.
type recentJobs struct {
	mu    sync.Mutex
	cap   int
	items []types.Job
}

func newRecentJobs(capacity int) *recentJobs {
	return &recentJobs{cap: capacity}
}

// Record appends job if it is FAILED and not already present (by ID),
// evicting the oldest entry once at capacity.
func (r *recentJobs) Record(job *types.Job) {
	if job == nil || job.Status != types.JobStatusFailed {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.items {
		if existing.ID == job.ID {
			return
		}
	}
	r.items = append(r.items, *job)
	if len(r.items) > r.cap {
		r.items = r.items[len(r.items)-r.cap:]
	}
}

// Snapshot returns the recorded jobs, most recent last.
func (r *recentJobs) Snapshot() []types.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Job, len(r.items))
	copy(out, r.items)
	return out
}
