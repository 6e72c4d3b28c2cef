package domain

// ServiceFeePercent is the platform commission taken from every booking subtotal.
const ServiceFeePercent = 12

// Fees is the split of a booking subtotal between the platform and the therapist.
type Fees struct {
	Subtotal          int64
	ServiceFee        int64
	TherapistEarnings int64
}

// ComputeFees splits base+travel-discount into the platform fee, rounded half up to
// the cent, and the therapist's share. ServiceFee+TherapistEarnings always equals Subtotal.
func ComputeFees(basePrice, travelFee, discount int64) (Fees, error) {
	if basePrice < 0 || travelFee < 0 || discount < 0 {
		return Fees{}, ErrNegativeAmount
	}
	gross := basePrice + travelFee
	if discount > gross {
		return Fees{}, ErrDiscountExceedsPrice
	}
	subtotal := gross - discount
	fee := (subtotal*ServiceFeePercent + 50) / 100
	return Fees{
		Subtotal:          subtotal,
		ServiceFee:        fee,
		TherapistEarnings: subtotal - fee,
	}, nil
}

// ApplyFees computes and stores the fee split on r.
func (r *ServiceRequest) ApplyFees() error {
	fees, err := ComputeFees(r.BasePrice, r.TravelFee, r.DiscountAmount)
	if err != nil {
		return err
	}
	r.RubgoServiceFee = fees.ServiceFee
	r.TherapistEarnings = fees.TherapistEarnings
	r.TotalPrice = fees.Subtotal
	return nil
}
