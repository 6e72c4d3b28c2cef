// Package domain describes the weekly payout settlement run and its outcome.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// DiscoveryWindow bounds how far back a run looks for settleable bookings.
const DiscoveryWindow = 7 * 24 * time.Hour

// FeeTransferOutcome describes what happened to this run's master-account transfers.
// With several currencies in one run it reports the worst outcome among them.
type FeeTransferOutcome string

const (
	// FeeTransferNone means no payment completed in the run, so no fees were owed.
	FeeTransferNone FeeTransferOutcome = "none"
	// FeeTransferCompleted means the fees reached the master account.
	FeeTransferCompleted FeeTransferOutcome = "completed"
	// FeeTransferPending means the fee row exists but the transfer failed and will be retried.
	FeeTransferPending FeeTransferOutcome = "pending"
	// FeeTransferNotRecorded means the fee row could not be written.
	FeeTransferNotRecorded FeeTransferOutcome = "not_recorded"
)

// Summary reports a settlement run. Per-item failures never abort the run; each is
// collected in Errors.
type Summary struct {
	RunID      string    `json:"run_id"`
	AsOf       time.Time `json:"as_of"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	RequestsDiscovered   int `json:"requests_discovered"`
	RequestsMaterialized int `json:"requests_materialized"`
	RequestsSkipped      int `json:"requests_skipped"`
	RequestsFailed       int `json:"requests_failed"`

	PaymentsReset    int64 `json:"payments_reset"`
	PayoutsAttempted int   `json:"payouts_attempted"`
	PayoutsCompleted int   `json:"payouts_completed"`
	PayoutsFailed    int   `json:"payouts_failed"`
	PayoutsExhausted int   `json:"payouts_exhausted"`
	TotalPayouts     int64 `json:"total_payouts"`
	TotalFees        int64 `json:"total_fees"`

	FeeTransferIDs        []snowflake.ID     `json:"fee_transfer_ids,omitempty"`
	FeeTransferStatus     FeeTransferOutcome `json:"fee_transfer_status"`
	FeeTransfersRetried   int                `json:"fee_transfers_retried"`
	FeeTransfersRecovered int                `json:"fee_transfers_recovered"`

	Errors []error `json:"-"`
}

// Err joins every per-item failure, or returns nil for a clean run.
func (s *Summary) Err() error {
	if s == nil {
		return nil
	}
	return errors.Join(s.Errors...)
}

// ErrorMessages renders Errors for JSON responses and logs.
func (s *Summary) ErrorMessages() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Errors))
	for _, err := range s.Errors {
		out = append(out, err.Error())
	}
	return out
}

// Processed counts the items that moved forward in the run.
func (s *Summary) Processed() int {
	if s == nil {
		return 0
	}
	return s.RequestsMaterialized + s.PayoutsCompleted + s.FeeTransfersRecovered
}
