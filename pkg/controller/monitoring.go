package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wrgeorge1983/tom/pkg/gate"
	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

// workerSummary reports one consumer_id's currently in-flight job count
// and its most recently seen heartbeat, derived from the ACTIVE job set
// rather than a separate worker registry — workers carry no state beyond
// the jobs they are holding (spec §4.7).
type workerSummary struct {
	ConsumerID    string `json:"consumer_id"`
	ActiveJobs    int    `json:"active_jobs"`
	LastHeartbeat string `json:"last_heartbeat,omitempty"`
}

func (ctl *Controller) handleMonitoringWorkers(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	active, err := ctl.Queue.ActiveJobs(r.Context())
	if err != nil {
		return nil, tomerr.InternalError(err, "list active jobs")
	}

	byConsumer := map[string]*workerSummary{}
	for _, job := range active {
		if job.ConsumerID == "" {
			continue
		}
		s, ok := byConsumer[job.ConsumerID]
		if !ok {
			s = &workerSummary{ConsumerID: job.ConsumerID}
			byConsumer[job.ConsumerID] = s
		}
		s.ActiveJobs++
		if job.LastTick != nil {
			tick := job.LastTick.Format("2006-01-02T15:04:05Z07:00")
			if s.LastHeartbeat == "" || tick > s.LastHeartbeat {
				s.LastHeartbeat = tick
			}
		}
	}

	out := make([]workerSummary, 0, len(byConsumer))
	for _, s := range byConsumer {
		out = append(out, *s)
	}
	return out, nil
}

func (ctl *Controller) handleMonitoringFailedCommands(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	return ctl.FailedJobs.Snapshot(), nil
}

// deviceMonitoringResult combines active-job, lease state and recent job
// history for one device so an operator can see at a glance why a
// device looks busy and what it has done recently.
type deviceMonitoringResult struct {
	Device     string           `json:"device"`
	Lease      gate.LeaseStatus `json:"lease"`
	ActiveJobs []types.Job      `json:"active_jobs"`
	History    []types.Job      `json:"history"`
}

func (ctl *Controller) handleMonitoringDevice(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	name := chi.URLParam(r, "name")
	desc, err := ctl.Inventory.GetDevice(r.Context(), name)
	if err != nil {
		return nil, err
	}

	active, err := ctl.Queue.ActiveJobs(r.Context())
	if err != nil {
		return nil, tomerr.InternalError(err, "list active jobs")
	}

	var forDevice []types.Job
	for _, job := range active {
		if job.Payload.Host == desc.Host {
			forDevice = append(forDevice, *job)
		}
	}

	var lease gate.LeaseStatus
	if ctl.Gate != nil {
		lease, err = ctl.Gate.Status(r.Context(), desc.Host)
		if err != nil {
			return nil, tomerr.InternalError(err, "read lease status for %s", desc.Host)
		}
	}

	return deviceMonitoringResult{
		Device:     name,
		Lease:      lease,
		ActiveJobs: forDevice,
		History:    ctl.DeviceHistory.Snapshot(desc.Host),
	}, nil
}
