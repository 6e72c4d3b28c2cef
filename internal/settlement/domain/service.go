package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidAsOf          = errors.New("invalid_as_of")
	ErrAlreadyMaterialized  = errors.New("request_already_materialized")
	ErrInconsistentAmounts  = errors.New("inconsistent_request_amounts")
	ErrFeeAttachMismatch    = errors.New("fee_transfer_attach_mismatch")
	ErrGatewayNotConfigured = errors.New("payout_gateway_not_configured")
)

type Service interface {
	// RunWeeklySettlement pays out every completed, paid and unprocessed booking created
	// within DiscoveryWindow of asOf, retries earlier pending payouts and forwards the
	// platform fees of this run to the master account.
	RunWeeklySettlement(ctx context.Context, asOf time.Time) (*Summary, error)
}
