package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/rubhub/payouts/internal/servicerequest/domain"
	"github.com/rubhub/payouts/internal/servicerequest/repository"
	"github.com/rubhub/payouts/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindSettleableFiltersEligibility(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	fixtures := testutil.NewFixtures(db, testutil.NewNode(t))
	repo := repository.Provide()

	asOf := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	since := asOf.Add(-7 * 24 * time.Hour)

	eligible, err := fixtures.SeedRequest(ctx, testutil.RequestSeed{BasePrice: 40000, TravelFee: 5000, CreatedAt: asOf.Add(-2 * 24 * time.Hour)})
	require.NoError(t, err)
	onBoundary, err := fixtures.SeedRequest(ctx, testutil.RequestSeed{BasePrice: 1000, CreatedAt: since})
	require.NoError(t, err)

	_, err = fixtures.SeedRequest(ctx, testutil.RequestSeed{BasePrice: 1000, CreatedAt: since.Add(-time.Second)})
	require.NoError(t, err)
	_, err = fixtures.SeedRequest(ctx, testutil.RequestSeed{BasePrice: 1000, Status: domain.StatusInProgress, CreatedAt: asOf})
	require.NoError(t, err)
	_, err = fixtures.SeedRequest(ctx, testutil.RequestSeed{BasePrice: 1000, PaymentStatus: domain.PaymentStatusUnpaid, CreatedAt: asOf})
	require.NoError(t, err)
	_, err = fixtures.SeedRequest(ctx, testutil.RequestSeed{BasePrice: 1000, PayoutProcessed: true, CreatedAt: asOf})
	require.NoError(t, err)

	found, err := repo.FindSettleable(ctx, db, since)
	require.NoError(t, err)
	require.Len(t, found, 2)
	ids := []int64{found[0].ID.Int64(), found[1].ID.Int64()}
	assert.ElementsMatch(t, []int64{eligible.ID.Int64(), onBoundary.ID.Int64()}, ids)
	for _, item := range found {
		assert.Equal(t, item.TotalPrice, item.RubgoServiceFee+item.TherapistEarnings)
	}
}

func TestMarkPayoutProcessedIsConditional(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	fixtures := testutil.NewFixtures(db, testutil.NewNode(t))
	repo := repository.Provide()

	req, err := fixtures.SeedRequest(ctx, testutil.RequestSeed{BasePrice: 1000})
	require.NoError(t, err)

	now := time.Now().UTC()
	ok, err := repo.MarkPayoutProcessed(ctx, db, req.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkPayoutProcessed(ctx, db, req.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "second flip must not affect any row")

	stored, err := repo.FindByID(ctx, db, req.ID)
	require.NoError(t, err)
	assert.True(t, stored.PayoutProcessed)
	require.NotNil(t, stored.PayoutProcessedAt)
}

func TestFindByIDMissing(t *testing.T) {
	db := testutil.OpenDB(t)
	item, err := repository.Provide().FindByID(context.Background(), db, 404)
	require.NoError(t, err)
	assert.Nil(t, item)
}
