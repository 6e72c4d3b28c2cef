package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/rubhub/payouts/internal/clock"
	"github.com/rubhub/payouts/internal/config"
	"github.com/rubhub/payouts/internal/servicerequest/domain"
	"github.com/rubhub/payouts/internal/servicerequest/repository"
	"github.com/rubhub/payouts/internal/servicerequest/service"
	"github.com/rubhub/payouts/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	svc domain.Service
	clk *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC))
	svc := service.New(service.Params{
		DB:    testutil.OpenDB(t),
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Repo:  repository.Provide(),
		Clock: clk,
	})
	return fixture{svc: svc, clk: clk}
}

func TestCreateComputesFeeSplit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc, clk := f.svc, f.clk

	created, err := svc.Create(ctx, domain.CreateRequest{
		TherapistID: 11,
		CustomerID:  22,
		BasePrice:   40000,
		TravelFee:   5000,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5400), created.RubgoServiceFee)
	assert.Equal(t, int64(39600), created.TherapistEarnings)
	assert.Equal(t, int64(45000), created.TotalPrice)
	assert.Equal(t, "ZAR", created.Currency)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, domain.PaymentStatusUnpaid, created.PaymentStatus)
	assert.False(t, created.PayoutProcessed)

	stored, err := svc.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.TotalPrice, stored.TotalPrice)
	assert.True(t, stored.CreatedAt.Equal(clk.Now()))
}

func TestCreateDefaultsToSettlementCurrency(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultPayoutConfig()
	cfg.Currency = "USD"
	svc := service.New(service.Params{
		DB:           testutil.OpenDB(t),
		Log:          zap.NewNop(),
		GenID:        testutil.NewNode(t),
		Repo:         repository.Provide(),
		PayoutConfig: config.NewStaticPayoutConfigHolder(cfg),
	})

	created, err := svc.Create(ctx, domain.CreateRequest{TherapistID: 3, BasePrice: 10000})
	require.NoError(t, err)
	assert.Equal(t, "USD", created.Currency)

	explicit, err := svc.Create(ctx, domain.CreateRequest{TherapistID: 3, BasePrice: 10000, Currency: "zar"})
	require.NoError(t, err)
	assert.Equal(t, "ZAR", explicit.Currency)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	svc := newFixture(t).svc

	cases := []struct {
		name string
		req  domain.CreateRequest
		want error
	}{
		{name: "missing_therapist", req: domain.CreateRequest{BasePrice: 100}, want: domain.ErrMissingTherapist},
		{name: "negative_price", req: domain.CreateRequest{TherapistID: 1, BasePrice: -1}, want: domain.ErrNegativeAmount},
		{name: "discount_too_large", req: domain.CreateRequest{TherapistID: 1, BasePrice: 100, DiscountAmount: 101}, want: domain.ErrDiscountExceedsPrice},
		{name: "bad_currency", req: domain.CreateRequest{TherapistID: 1, BasePrice: 100, Currency: "RAND"}, want: domain.ErrInvalidCurrency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestLifecycleToSettleable(t *testing.T) {
	ctx := context.Background()
	svc := newFixture(t).svc

	created, err := svc.Create(ctx, domain.CreateRequest{TherapistID: 5, BasePrice: 30000})
	require.NoError(t, err)

	_, err = svc.MarkCompleted(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "pending bookings cannot complete")

	accepted, err := svc.Accept(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, accepted.Status)

	started, err := svc.Start(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, started.Status)

	completed, err := svc.MarkCompleted(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)

	paid, err := svc.MarkPaid(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, paid.PaymentStatus)
	assert.True(t, paid.Settleable())

	_, err = svc.MarkPaid(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "already paid")

	_, err = svc.Cancel(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "completed bookings cannot be cancelled")
}

func TestCancelledBookingCannotBePaid(t *testing.T) {
	ctx := context.Background()
	svc := newFixture(t).svc

	created, err := svc.Create(ctx, domain.CreateRequest{TherapistID: 7, BasePrice: 25000})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.False(t, cancelled.Settleable())

	_, err = svc.MarkPaid(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = svc.Accept(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestGetByIDNotFound(t *testing.T) {
	svc := newFixture(t).svc
	_, err := svc.GetByID(context.Background(), 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.MarkPaid(context.Background(), 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
