package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// TherapistTransfer moves a therapist's earnings for one payment.
// IdempotencyKey is the payment ID so a retried transfer is never paid twice.
type TherapistTransfer struct {
	IdempotencyKey string
	PaymentID      snowflake.ID
	TherapistID    snowflake.ID
	Amount         int64
	Currency       string
}

// MasterTransfer moves aggregated platform fees to the master account.
// IdempotencyKey is the fee transfer ID.
type MasterTransfer struct {
	IdempotencyKey string
	FeeTransferID  snowflake.ID
	RunID          string
	Account        string
	Amount         int64
	Currency       string
}

// TransferReceipt is what the provider reports back for an accepted transfer.
type TransferReceipt struct {
	Provider  string
	Reference string
}

// Metadata renders the receipt for storage on the payout record.
func (r TransferReceipt) Metadata() map[string]any {
	meta := map[string]any{"provider": r.Provider}
	if r.Reference != "" {
		meta["reference"] = r.Reference
	}
	return meta
}

// Gateway is the money-movement provider.
type Gateway interface {
	Provider() string
	TransferToTherapist(ctx context.Context, req TherapistTransfer) (TransferReceipt, error)
	TransferToMaster(ctx context.Context, req MasterTransfer) (TransferReceipt, error)
}

// GatewayConfig is the provider-agnostic configuration handed to factories.
type GatewayConfig struct {
	BaseURL       string
	APIToken      string
	MasterAccount string
	Timeout       time.Duration
}

type GatewayFactory interface {
	Provider() string
	NewGateway(cfg GatewayConfig) (Gateway, error)
}
