package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrgeorge1983/tom/pkg/log"
)

// Supervisor runs the periodic stale-job sweep described in spec §4.1: a
// ticker loop that requeues ACTIVE jobs whose worker has stopped sending
// heartbeats.
type Supervisor struct {
	queue    *Queue
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// NewSupervisor builds a Supervisor that sweeps at the given interval.
func NewSupervisor(q *Queue, interval time.Duration) *Supervisor {
	return &Supervisor{
		queue:    q,
		interval: interval,
		logger:   log.WithComponent("supervisor"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Supervisor) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop ends the sweep loop.
func (s *Supervisor) Stop() {
	close(s.stopCh)
}

func (s *Supervisor) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("supervisor sweep started")

	for {
		select {
		case <-ticker.C:
			requeued, err := s.queue.SweepStale(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("stale job sweep failed")
				continue
			}
			if len(requeued) > 0 {
				s.logger.Warn().Strs("job_ids", requeued).Msg("requeued jobs with lost heartbeat")
			}
		case <-ctx.Done():
			s.logger.Info().Msg("supervisor sweep stopped")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("supervisor sweep stopped")
			return
		}
	}
}
