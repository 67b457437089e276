package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"lms-payments/internal/config"
	"lms-payments/internal/domain"
	"lms-payments/internal/domain/ports/adapter"
	"lms-payments/internal/infra/metrics"
	"lms-payments/internal/usecase"
)

const (
	JobRenewals = "renewals"
	JobExpiry   = "expiry"

	poolStatsSpec = "@every 30s"
)

// Sweeper is the part of the subscription use case driven by the scheduler.
type Sweeper interface {
	ProcessRenewals(ctx context.Context) (usecase.SweepReport, error)
	DeactivateExpired(ctx context.Context) (usecase.SweepReport, error)
}

// PoolStats reports database pool gauges; nil disables the job.
type PoolStats func() (total, idle, inUse int32)

// Scheduler runs the daily subscription sweeps. A distributed lock keeps
// concurrent instances from sweeping the same day twice.
type Scheduler struct {
	cron   *cron.Cron
	subs   Sweeper
	locker adapter.Locker // nil runs unlocked (single instance)
	cfg    config.SchedulerConfig
	stats  PoolStats
	log    *zerolog.Logger
}

func New(subs Sweeper, locker adapter.Locker, cfg config.SchedulerConfig, stats PoolStats, logger *zerolog.Logger) *Scheduler {
	l := logger.With().Str("component", "Scheduler").Logger()
	cl := cronLogger{log: &l}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{cron: c, subs: subs, locker: locker, cfg: cfg, stats: stats, log: &l}
}

type job struct {
	spec string
	name string
	fn   func()
}

// Start registers the jobs and starts the cron loop in the background.
func (s *Scheduler) Start() error {
	jobs := []job{
		{s.cfg.RenewalCron, JobRenewals, func() { _ = s.RunRenewals(context.Background()) }},
		{s.cfg.ExpiryCron, JobExpiry, func() { _ = s.RunExpiry(context.Background()) }},
	}
	if s.stats != nil {
		jobs = append(jobs, job{poolStatsSpec, "db_pool_stats", s.recordPoolStats})
	}
	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("schedule %s job (%q): %w", j.name, j.spec, err)
		}
		s.log.Info().Str("job", j.name).Str("schedule", j.spec).Msg("job scheduled")
	}
	s.cron.Start()
	return nil
}

// Stop stops scheduling and returns a context done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) RunRenewals(ctx context.Context) error {
	return s.run(ctx, JobRenewals, s.subs.ProcessRenewals)
}

func (s *Scheduler) RunExpiry(ctx context.Context) error {
	return s.run(ctx, JobExpiry, s.subs.DeactivateExpired)
}

func (s *Scheduler) run(ctx context.Context, job string, sweep func(context.Context) (usecase.SweepReport, error)) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LockTTL)
	defer cancel()
	log := s.log.With().Str("job", job).Logger()

	if s.locker != nil {
		key := "sweep:" + job
		token, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockNotAcquired) {
			metrics.IncSweepRun(job, "locked")
			log.Info().Msg("sweep already running elsewhere; skipped")
			return nil
		}
		if err != nil {
			metrics.IncSweepRun(job, "error")
			log.Error().Err(err).Msg("acquire sweep lock")
			return err
		}
		defer func() {
			if err := s.locker.Unlock(context.Background(), key, token); err != nil {
				log.Warn().Err(err).Msg("release sweep lock")
			}
		}()
	}

	start := time.Now()
	rep, err := sweep(ctx)
	if err != nil {
		metrics.IncSweepRun(job, "error")
		log.Error().Err(err).Int("processed", rep.Processed).Msg("sweep aborted")
		return err
	}
	metrics.IncSweepRun(job, "ok")
	log.Info().
		Int("processed", rep.Processed).
		Int("succeeded", rep.Succeeded).
		Int("failed", rep.Failed).
		Int("skipped", rep.Skipped).
		Int("pending", rep.Pending).
		Dur("duration", time.Since(start)).
		Msg("sweep finished")
	return nil
}

func (s *Scheduler) recordPoolStats() {
	total, idle, inUse := s.stats()
	metrics.SetDBPoolStats(total, idle, inUse)
}
