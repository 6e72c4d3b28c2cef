package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeFees(t *testing.T) {
	cases := []struct {
		name     string
		base     int64
		travel   int64
		discount int64
		fee      int64
		earnings int64
	}{
		{name: "standard_booking", base: 40000, travel: 5000, fee: 5400, earnings: 39600},
		{name: "discounted", base: 50000, travel: 0, discount: 10000, fee: 4800, earnings: 35200},
		// 12% of 1005 is 120.6 cents.
		{name: "rounds_half_up", base: 1005, fee: 121, earnings: 884},
		// 12% of 1004 is 120.48 cents.
		{name: "rounds_down", base: 1004, fee: 120, earnings: 884},
		{name: "travel_only_counts", base: 1037, travel: 1038, fee: 249, earnings: 1826},
		{name: "free_session", base: 1000, discount: 1000, fee: 0, earnings: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fees, err := ComputeFees(tc.base, tc.travel, tc.discount)
			require.NoError(t, err)
			assert.Equal(t, tc.fee, fees.ServiceFee)
			assert.Equal(t, tc.earnings, fees.TherapistEarnings)
			assert.Equal(t, fees.Subtotal, fees.ServiceFee+fees.TherapistEarnings)
		})
	}
}

func TestComputeFeesRejectsInvalidAmounts(t *testing.T) {
	_, err := ComputeFees(-1, 0, 0)
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = ComputeFees(1000, 500, 1501)
	assert.ErrorIs(t, err, ErrDiscountExceedsPrice)
}

func TestApplyFeesSetsTotalPrice(t *testing.T) {
	req := &ServiceRequest{BasePrice: 40000, TravelFee: 5000}
	require.NoError(t, req.ApplyFees())
	assert.Equal(t, int64(45000), req.TotalPrice)
	assert.Equal(t, int64(5400), req.RubgoServiceFee)
	assert.Equal(t, int64(39600), req.TherapistEarnings)
}
