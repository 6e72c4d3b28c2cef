package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rubhub/payouts/internal/clock"
	"github.com/rubhub/payouts/internal/config"
	obscontext "github.com/rubhub/payouts/internal/observability/context"
	obsmetrics "github.com/rubhub/payouts/internal/observability/metrics"
	settlementdomain "github.com/rubhub/payouts/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log          *zap.Logger
	Settlement   settlementdomain.Service
	PayoutConfig *config.PayoutConfigHolder
	Redis        *redis.Client                `optional:"true"`
	Clock        clock.Clock                  `optional:"true"`
	Metrics      *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log          *zap.Logger
	settlement   settlementdomain.Service
	payoutConfig *config.PayoutConfigHolder
	clock        clock.Clock
	metrics      *obsmetrics.SchedulerMetrics
	lock         *RunLock

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Settlement == nil || p.PayoutConfig == nil {
		return nil, ErrInvalidConfig
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	log := p.Log.Named("scheduler").With(zap.String("component", "scheduler"))
	// The lock key is fixed for the process lifetime, like the schedule.
	lockKey := FromPayoutConfig(p.PayoutConfig.Get()).LockKey
	return &Scheduler{
		log:          log,
		settlement:   p.Settlement,
		payoutConfig: p.PayoutConfig,
		clock:        clk,
		metrics:      p.Metrics,
		lock:         NewRunLock(p.Redis, lockKey, log),
	}, nil
}

func (s *Scheduler) config() Config {
	return FromPayoutConfig(s.payoutConfig.Get())
}

// RunOnce runs the weekly settlement now. Cron triggers and manual triggers both go
// through here, so they share the run lock. When another run holds the lock the call
// returns an error wrapping ErrRunInProgress without side effects.
func (s *Scheduler) RunOnce(ctx context.Context) (*settlementdomain.Summary, error) {
	cfg := s.config()

	release, err := s.lock.TryAcquire(ctx, cfg.LockTTL)
	if err != nil {
		reason := obsmetrics.SkipReasonLockUnavailable
		switch {
		case errors.Is(err, ErrRemoteLockHeld):
			reason = obsmetrics.SkipReasonRemoteLockHeld
		case errors.Is(err, ErrRunInProgress):
			reason = obsmetrics.SkipReasonLocalRunInFlight
		}
		s.metrics.IncRunSkipped(JobWeeklySettlement, reason)
		s.log.Warn("scheduler.job.skipped",
			zap.String("job", JobWeeklySettlement),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil, err
	}
	defer release()

	var summary *settlementdomain.Summary
	err = s.runJob(ctx, JobWeeklySettlement, cfg.RunTimeout, func(ctx context.Context, run *jobRun) error {
		result, err := s.settlement.RunWeeklySettlement(ctx, s.clock.Now())
		if err != nil {
			return err
		}
		summary = result
		run.AddProcessed(result.Processed())
		run.AddErrors(len(result.Errors))
		s.metrics.AddBatchProcessed(JobWeeklySettlement, "requests", result.RequestsMaterialized)
		if joined := result.Err(); joined != nil {
			s.metrics.IncJobError(JobWeeklySettlement, joined)
		}
		return nil
	})
	return summary, err
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	run := s.newJobRun(name, timeout)
	ctx = obscontext.WithRunID(ctx, run.runID)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	err := fn(ctx, run)
	s.metrics.ObserveJobDuration(name, time.Since(run.startedAt))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("scheduler.job.timeout",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
	}
	return fmt.Errorf("%s: %w", name, err)
}

// Start registers the cron trigger in the configured timezone.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cfg := s.config()
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	logger := cronLogger{log: s.log.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	ctx, cancel := context.WithCancel(context.Background())

	var id cron.EntryID
	id, err = c.AddFunc(cfg.Schedule, func() {
		s.trigger(ctx, c.Entry(id).Prev)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
	}

	s.cron = c
	s.cancel = cancel
	c.Start()

	s.log.Info("scheduler.started",
		zap.String("job", JobWeeklySettlement),
		zap.String("schedule", cfg.Schedule),
		zap.String("timezone", cfg.Timezone),
		zap.Time("next_run", c.Entry(id).Next),
		zap.Bool("distributed_lock", s.lock.Distributed()),
	)
	return nil
}

// Stop cancels an in-flight run and waits for it to wind down or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	cancel()
	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler.stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) trigger(ctx context.Context, scheduled time.Time) {
	if !scheduled.IsZero() {
		s.metrics.ObserveRunLoopLag(time.Since(scheduled))
	}
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
		s.log.Warn("scheduler run failed", zap.Error(err))
	}
}
