package controller

import (
	"sync"

	"github.com/wrgeorge1983/tom/pkg/types"
)

// deviceHistory is a small fixed-capacity, per-device ring of recently
// terminal jobs, kept in the controller process to back
// /monitoring/devices/{name}'s history detail without a second durable
// store. Like recentJobs it is best-effort: a controller restart clears
// it, and a job whose terminal status was never observed by this
// process (never polled, never dispatched synchronously) never appears.
type deviceHistory struct {
	mu     sync.Mutex
	cap    int
	byHost map[string][]types.Job
}

func newDeviceHistory(capacity int) *deviceHistory {
	return &deviceHistory{cap: capacity, byHost: make(map[string][]types.Job)}
}

// Record appends job to its host's ring if job has reached a terminal
// status and isn't already present (by ID), evicting the oldest entry
// once that host's ring is at capacity.
func (d *deviceHistory) Record(job *types.Job) {
	if job == nil || !job.Status.Terminal() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	items := d.byHost[job.Payload.Host]
	for _, existing := range items {
		if existing.ID == job.ID {
			return
		}
	}
	items = append(items, *job)
	if len(items) > d.cap {
		items = items[len(items)-d.cap:]
	}
	d.byHost[job.Payload.Host] = items
}

// Snapshot returns host's recorded jobs, most recent last.
func (d *deviceHistory) Snapshot(host string) []types.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	items := d.byHost[host]
	out := make([]types.Job, len(items))
	copy(out, items)
	return out
}
