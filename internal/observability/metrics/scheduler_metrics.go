package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonDB                   = "db"
	SchedulerJobReasonUnknown              = "unknown"
)

const (
	SkipReasonLocalRunInFlight = "local_run_in_flight"
	SkipReasonRemoteLockHeld   = "remote_lock_held"
	SkipReasonLockUnavailable  = "lock_unavailable"
)

const (
	RequestOutcomeMaterialized = "materialized"
	RequestOutcomeSkipped      = "skipped"
	RequestOutcomeFailed       = "failed"

	TransferOutcomeCompleted = "completed"
	TransferOutcomeFailed    = "failed"
	TransferOutcomeExhausted = "exhausted"
)

// SchedulerMetrics captures payout scheduler and settlement health signals.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	runsSkipped    *prometheus.CounterVec
	runLoopLag     prometheus.Histogram

	requests     *prometheus.CounterVec
	payouts      *prometheus.CounterVec
	payoutAmount prometheus.Counter
	feeAmount    prometheus.Counter
	feeTransfers *prometheus.CounterVec
	lastSuccess  prometheus.Gauge
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// NewSchedulerMetrics registers a separate set of scheduler metrics on registerer.
func NewSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	return newSchedulerMetrics(registerer, cfg)
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "rubhub-payouts"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rubhub_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "rubhub_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rubhub_scheduler_job_timeouts_total",
			Help:        "Scheduler jobs that hit their run timeout.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rubhub_scheduler_job_errors_total",
			Help:        "Scheduler job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rubhub_scheduler_batch_processed_total",
			Help:        "Items processed by scheduler jobs per resource.",
			ConstLabels: constLabels,
		}, []string{"job", "resource"}),
		runsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rubhub_scheduler_runs_skipped_total",
			Help:        "Triggers skipped because another run held the run lock.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "rubhub_scheduler_runloop_lag_seconds",
			Help:        "Delay between the scheduled fire time and the actual job start.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rubhub_settlement_requests_total",
			Help:        "Service requests handled during materialization by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rubhub_settlement_payouts_total",
			Help:        "Therapist payout transfers by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		payoutAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rubhub_settlement_payout_amount_cents_total",
			Help:        "Therapist earnings transferred, in minor currency units.",
			ConstLabels: constLabels,
		}),
		feeAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rubhub_settlement_fee_amount_cents_total",
			Help:        "Platform fees transferred to the master account, in minor currency units.",
			ConstLabels: constLabels,
		}),
		feeTransfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "rubhub_settlement_fee_transfers_total",
			Help:        "Master account fee transfers by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rubhub_settlement_last_success_timestamp_seconds",
			Help:        "Unix time of the last settlement run that finished without errors.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.batchProcessed,
		m.runsSkipped,
		m.runLoopLag,
		m.requests,
		m.payouts,
		m.payoutAmount,
		m.feeAmount,
		m.feeTransfers,
		m.lastSuccess,
	)
	return m
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the scheduler job.
func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

// AddBatchProcessed increments the processed counter for a resource by count.
func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

// IncRunSkipped counts a trigger that did not run because the run lock was held.
func (m *SchedulerMetrics) IncRunSkipped(job, reason string) {
	if m == nil {
		return
	}
	m.runsSkipped.WithLabelValues(job, reason).Inc()
}

// ObserveRunLoopLag records lag between the scheduled fire time and actual run start.
func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(max(duration, 0).Seconds())
}

// AddSettlementRequests counts service requests by materialization outcome.
func (m *SchedulerMetrics) AddSettlementRequests(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.requests.WithLabelValues(outcome).Add(float64(count))
}

// IncPayout counts a therapist transfer attempt; amount is added only for completed transfers.
func (m *SchedulerMetrics) IncPayout(outcome string, amount int64) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(outcome).Inc()
	if outcome == TransferOutcomeCompleted && amount > 0 {
		m.payoutAmount.Add(float64(amount))
	}
}

// IncFeeTransfer counts a master transfer attempt; amount is added only for completed transfers.
func (m *SchedulerMetrics) IncFeeTransfer(outcome string, amount int64) {
	if m == nil {
		return
	}
	m.feeTransfers.WithLabelValues(outcome).Inc()
	if outcome == TransferOutcomeCompleted && amount > 0 {
		m.feeAmount.Add(float64(amount))
	}
}

// SetLastSuccess records the completion time of a clean settlement run.
func (m *SchedulerMetrics) SetLastSuccess(at time.Time) {
	if m == nil {
		return
	}
	m.lastSuccess.Set(float64(at.Unix()))
}

// ClassifySchedulerJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	if err == nil {
		return SchedulerJobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SchedulerJobReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return SchedulerJobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return SchedulerJobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return SchedulerJobReasonUniqueViolation
	}
	if isDBError(err) {
		return SchedulerJobReasonDB
	}
	return SchedulerJobReasonUnknown
}

// IsSchedulerErrorRetryable reports whether the error is transient.
func IsSchedulerErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return hasPGCode(err, "55P03") || hasPGCode(err, "40001")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
