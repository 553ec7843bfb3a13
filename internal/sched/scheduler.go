// Package sched runs the periodic jobs: quote refresh, news
// ingestion, enrichment sweeps and trading cycles. Jobs are cron-like,
// guarded against overlap, and cancelled together on shutdown.
package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/internal/metrics"
)

// JobFunc is one schedulable unit of work. It must honor ctx
// cancellation and stop at the next safe point.
type JobFunc func(ctx context.Context) error

// Scheduler wraps robfig/cron with per-job non-overlap guards and a
// shared cancellation context.
type Scheduler struct {
	cron   *cron.Cron
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped scheduler.
func New(log zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		log:    log.With().Str("component", "scheduler").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job under a cron spec. If a previous run is still in
// flight at the next tick, the tick is skipped and logged.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	var running atomic.Bool

	_, err := s.cron.AddFunc(spec, func() {
		if !running.CompareAndSwap(false, true) {
			s.log.Warn().Str("job", name).Msg("previous run still in flight, skipping tick")
			metrics.JobRuns.WithLabelValues(name, "skipped").Inc()
			return
		}
		defer running.Store(false)

		s.wg.Add(1)
		defer s.wg.Done()

		runID := uuid.NewString()[:8]
		started := time.Now()
		s.log.Debug().Str("job", name).Str("run", runID).Msg("job started")

		if err := fn(s.ctx); err != nil {
			if s.ctx.Err() != nil {
				metrics.JobRuns.WithLabelValues(name, "cancelled").Inc()
				s.log.Info().Str("job", name).Str("run", runID).Msg("job cancelled")
				return
			}
			metrics.JobRuns.WithLabelValues(name, "error").Inc()
			s.log.Error().Err(err).Str("job", name).Str("run", runID).
				Dur("took", time.Since(started)).Msg("job failed")
			return
		}
		metrics.JobRuns.WithLabelValues(name, "ok").Inc()
		s.log.Debug().Str("job", name).Str("run", runID).
			Dur("took", time.Since(started)).Msg("job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("job", name).Str("spec", spec).Msg("job registered")
	return nil
}

// Start begins dispatching ticks.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop cancels all jobs and waits for in-flight runs to finish their
// current safe point.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}
