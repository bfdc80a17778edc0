package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tidesync/tidesync/pkg/metrics"
)

// Executor runs one pipeline and reports the outcome. *Engine is the
// production implementation.
type Executor interface {
	Execute(ctx context.Context, p *Pipeline) (*RunReport, error)
}

// Scheduler drives due pipelines. Executions are strictly serialized: the
// scheduler runs one pipeline at a time and marks it executing in the
// store, so a second scheduler process skips it.
type Scheduler struct {
	pipelines   Store
	engine      Executor
	maxDuration time.Duration
	logger      *zap.Logger

	clock func() time.Time
}

// NewScheduler builds a scheduler over the given pipeline store and engine.
// maxDuration is the stale-lock timeout for pipelines that do not carry
// their own; non-positive falls back to 600s.
func NewScheduler(pipelines Store, engine Executor, maxDuration time.Duration, logger *zap.Logger) *Scheduler {
	if maxDuration <= 0 {
		maxDuration = defaultMaxDuration
	}
	return &Scheduler{
		pipelines:   pipelines,
		engine:      engine,
		maxDuration: maxDuration,
		logger:      logger,
		clock:       time.Now,
	}
}

// staleAfter returns the stale-lock timeout of a pipeline: its own when
// set, the scheduler default otherwise.
func (s *Scheduler) staleAfter(p *Pipeline) time.Duration {
	if p.MaxDurationSeconds > 0 {
		return time.Duration(p.MaxDurationSeconds) * time.Second
	}
	return s.maxDuration
}

// Run polls for due pipelines until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	s.logger.Info("scheduler started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_ = s.GetDueAndRun(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetDueAndRun clears stale locks, then runs every due pipeline in order
// and returns their reports. A failed run is reported and never stops the
// remaining pipelines.
func (s *Scheduler) GetDueAndRun(ctx context.Context) []*RunReport {
	now := s.clock()

	pipelines, err := s.pipelines.List(ctx)
	if err != nil {
		s.logger.Error("cannot list pipelines", zap.Error(err))
		return nil
	}

	var reports []*RunReport
	for _, p := range pipelines {
		// Stale locks are cleared before the due check so a recovered
		// pipeline is evaluated fresh in the same pass.
		if !s.clearStaleLock(ctx, p, now) {
			continue
		}
		if p.Executing || !p.Schedule.Due(now, p.LastRun) {
			continue
		}
		if report := s.runOne(ctx, p, now); report != nil {
			reports = append(reports, report)
		}

		if ctx.Err() != nil {
			break
		}
	}
	return reports
}

// clearStaleLock resets the executing flag of a pipeline whose run exceeded
// its timeout, e.g. after a crash mid-run, leaving it eligible for the due
// check of the same pass. It reports whether the pipeline is in a state the
// caller may act on; only a failed state save returns false.
func (s *Scheduler) clearStaleLock(ctx context.Context, p *Pipeline, now time.Time) bool {
	if !p.Executing || now.Sub(p.LastRun) <= s.staleAfter(p) {
		return true
	}

	s.logger.Warn("clearing stale execution lock",
		zap.String("pipeline", p.Name),
		zap.Time("last_run", p.LastRun),
		zap.Duration("max_duration", s.staleAfter(p)))

	p.Executing = false
	if err := s.pipelines.Save(ctx, p); err != nil {
		s.logger.Error("cannot clear stale lock", zap.String("pipeline", p.Name), zap.Error(err))
		return false
	}
	metrics.StaleLocksCleared.Inc()
	return true
}

// runOne takes the execution lock, runs the pipeline and releases the lock
// regardless of the outcome.
func (s *Scheduler) runOne(ctx context.Context, p *Pipeline, now time.Time) *RunReport {
	p.Executing = true
	p.LastRun = now
	if err := s.pipelines.Save(ctx, p); err != nil {
		s.logger.Error("cannot lock pipeline", zap.String("pipeline", p.Name), zap.Error(err))
		return nil
	}

	// Execute logs its own failures; the lock is released either way.
	report, _ := s.engine.Execute(ctx, p)

	p.Executing = false
	p.LastDurationSeconds = report.Duration.Seconds()
	if err := s.pipelines.Save(ctx, p); err != nil {
		s.logger.Error("cannot release pipeline lock", zap.String("pipeline", p.Name), zap.Error(err))
	}
	return report
}
