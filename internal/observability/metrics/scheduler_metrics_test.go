package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "wrapped_cancel", err: fmt.Errorf("list pending: %w", context.Canceled), want: SchedulerJobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SchedulerJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{name: "other_pg_error", err: &pgconn.PgError{Code: "42P01"}, want: SchedulerJobReasonDB},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifySchedulerJobReason(tc.err))
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	assert.True(t, IsSchedulerErrorRetryable(context.DeadlineExceeded))
	assert.True(t, IsSchedulerErrorRetryable(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsSchedulerErrorRetryable(gorm.ErrDuplicatedKey))
	assert.False(t, IsSchedulerErrorRetryable(nil))
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{ServiceName: "rubhub-payouts", Environment: "test"})

	metrics.AddBatchProcessed("weekly_settlement", "payments", 3)
	metrics.AddBatchProcessed("weekly_settlement", "payments", 0)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("weekly_settlement", "payments"))
	assert.Equal(t, float64(3), got)
}

func TestPayoutAndFeeCountersOnlyAddCompletedAmounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{Environment: "test"})

	metrics.IncPayout(TransferOutcomeCompleted, 39600)
	metrics.IncPayout(TransferOutcomeFailed, 10000)
	metrics.IncFeeTransfer(TransferOutcomeCompleted, 5400)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.payouts.WithLabelValues(TransferOutcomeCompleted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.payouts.WithLabelValues(TransferOutcomeFailed)))
	assert.Equal(t, float64(39600), testutil.ToFloat64(metrics.payoutAmount))
	assert.Equal(t, float64(5400), testutil.ToFloat64(metrics.feeAmount))
}

func TestRunSkippedAndLastSuccess(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{Environment: "test"})

	metrics.IncRunSkipped("weekly_settlement", SkipReasonRemoteLockHeld)
	at := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	metrics.SetLastSuccess(at)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.runsSkipped.WithLabelValues("weekly_settlement", SkipReasonRemoteLockHeld)))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(metrics.lastSuccess))
}

func TestNilSchedulerMetricsIsSafe(t *testing.T) {
	var m *SchedulerMetrics
	assert.NotPanics(t, func() {
		m.IncJobRun("job")
		m.IncJobError("job", errors.New("x"))
		m.IncPayout(TransferOutcomeCompleted, 1)
		m.ObserveRunLoopLag(-time.Second)
	})
}
