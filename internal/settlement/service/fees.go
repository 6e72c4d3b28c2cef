package service

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/rubhub/payouts/internal/observability/metrics"
	payoutdomain "github.com/rubhub/payouts/internal/payout/domain"
	"github.com/rubhub/payouts/internal/settlement/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// settleFees records one fee transfer per currency for the payments completed in this
// run and sends each to the master account. A failed transfer stays pending for
// retryFeeTransfers.
func (s *Service) settleFees(ctx context.Context, r *run) {
	byCurrency := make(map[string][]completedPayment)
	for _, p := range r.completed {
		if p.fee <= 0 {
			continue
		}
		byCurrency[p.currency] = append(byCurrency[p.currency], p)
	}
	if len(byCurrency) == 0 {
		r.summary.FeeTransferStatus = domain.FeeTransferNone
		return
	}

	currencies := make([]string, 0, len(byCurrency))
	for currency := range byCurrency {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	status := domain.FeeTransferNone
	for _, currency := range currencies {
		status = worseFeeOutcome(status, s.settleCurrencyFees(ctx, r, currency, byCurrency[currency]))
	}
	r.summary.FeeTransferStatus = status
}

func (s *Service) settleCurrencyFees(ctx context.Context, r *run, currency string, payments []completedPayment) domain.FeeTransferOutcome {
	var (
		amount int64
		ids    = make([]snowflake.ID, 0, len(payments))
	)
	for _, p := range payments {
		amount += p.fee
		ids = append(ids, p.id)
	}

	ctx, span := s.tracer.Start(ctx, "settlement.fees")
	defer span.End()
	span.SetAttributes(
		attribute.String("currency", currency),
		attribute.Int64("amount", amount),
		attribute.Int("payments", len(ids)),
	)

	// Payments are already paid out; the fee row must be written even past the run deadline.
	bookkeeping := context.WithoutCancel(ctx)
	now := s.clock.Now()
	transfer := &payoutdomain.FeeTransfer{
		ID:        s.genID.Generate(),
		RunID:     r.summary.RunID,
		Amount:    amount,
		Currency:  currency,
		Status:    payoutdomain.FeeTransferStatusPending,
		Metadata:  datatypes.JSONMap{"payments": len(ids)},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(bookkeeping).Transaction(func(tx *gorm.DB) error {
		if err := s.payouts.InsertFeeTransfer(bookkeeping, tx, transfer); err != nil {
			return err
		}
		attached, err := s.payouts.AttachFeeTransfer(bookkeeping, tx, ids, transfer.ID, now)
		if err != nil {
			return err
		}
		if attached != int64(len(ids)) {
			return fmt.Errorf("%w: attached %d of %d payments", domain.ErrFeeAttachMismatch, attached, len(ids))
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		r.fail(fmt.Errorf("record %s fee transfer: %w", currency, err))
		s.schedMetrics.IncFeeTransfer(metrics.TransferOutcomeFailed, 0)
		r.log.Error("settlement.fee_transfer.failed",
			zap.Bool("alert", true),
			zap.String("stage", "record"),
			zap.String("currency", currency),
			zap.Int64("amount", amount),
			zap.Int("payments", len(ids)),
			zap.Error(err),
		)
		return domain.FeeTransferNotRecorded
	}

	r.summary.FeeTransferIDs = append(r.summary.FeeTransferIDs, transfer.ID)
	if s.sendFeeTransfer(ctx, r, transfer) {
		return domain.FeeTransferCompleted
	}
	return domain.FeeTransferPending
}

// worseFeeOutcome keeps the outcome that needs the most attention.
func worseFeeOutcome(a, b domain.FeeTransferOutcome) domain.FeeTransferOutcome {
	rank := func(o domain.FeeTransferOutcome) int {
		switch o {
		case domain.FeeTransferNotRecorded:
			return 3
		case domain.FeeTransferPending:
			return 2
		case domain.FeeTransferCompleted:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// retryFeeTransfers resends fee transfers left pending by earlier runs. Amounts come
// from the stored row, never from re-summing payments.
func (s *Service) retryFeeTransfers(ctx context.Context, r *run) {
	if ctx.Err() != nil {
		return
	}
	pending, err := s.payouts.ListFeeTransfers(ctx, s.db, payoutdomain.FeeTransferStatusPending, 0, 0)
	if err != nil {
		r.fail(fmt.Errorf("list pending fee transfers: %w", err))
		return
	}

	for i := range pending {
		transfer := &pending[i]
		if slices.Contains(r.summary.FeeTransferIDs, transfer.ID) {
			continue
		}
		if ctx.Err() != nil {
			r.fail(fmt.Errorf("retry fee transfers: %w", ctx.Err()))
			return
		}
		r.summary.FeeTransfersRetried++
		r.log.Info("settlement.fee_transfer.retry",
			zap.String("fee_transfer_id", transfer.ID.String()),
			zap.String("origin_run_id", transfer.RunID),
			zap.Int("attempts", transfer.Attempts),
		)
		if s.sendFeeTransfer(ctx, r, transfer) {
			r.summary.FeeTransfersRecovered++
		}
	}
}

// sendFeeTransfer calls the gateway for one fee row and records the outcome on it.
func (s *Service) sendFeeTransfer(ctx context.Context, r *run, transfer *payoutdomain.FeeTransfer) bool {
	log := r.log.With(
		zap.String("fee_transfer_id", transfer.ID.String()),
		zap.String("currency", transfer.Currency),
		zap.Int64("amount", transfer.Amount),
	)

	transferCtx, cancel := context.WithTimeout(ctx, r.cfg.TransferTimeout)
	receipt, transferErr := r.gateway.TransferToMaster(transferCtx, payoutdomain.MasterTransfer{
		IdempotencyKey: transfer.ID.String(),
		FeeTransferID:  transfer.ID,
		RunID:          transfer.RunID,
		Account:        r.cfg.Gateway.MasterAccount,
		Amount:         transfer.Amount,
		Currency:       transfer.Currency,
	})
	cancel()

	bookkeeping := context.WithoutCancel(ctx)
	now := s.clock.Now()

	if transferErr != nil {
		if err := s.payouts.RecordFeeTransferFailure(bookkeeping, s.db, transfer.ID, transferErr.Error(), now); err != nil {
			r.fail(fmt.Errorf("record failure for fee transfer %s: %w", transfer.ID, err))
		}
		r.fail(fmt.Errorf("transfer fees %s: %w", transfer.ID, transferErr))
		s.schedMetrics.IncFeeTransfer(metrics.TransferOutcomeFailed, 0)
		s.obsMetrics.RecordTransfer(ctx, r.gateway.Provider(), "master", metrics.TransferOutcomeFailed, transfer.Currency, 0)
		log.Error("settlement.fee_transfer.failed",
			zap.Bool("alert", true),
			zap.String("stage", "transfer"),
			zap.Int("attempts", transfer.Attempts+1),
			zap.Error(transferErr),
		)
		return false
	}

	completed, err := s.payouts.CompleteFeeTransfer(bookkeeping, s.db, transfer.ID, now, receipt.Metadata())
	if err != nil || !completed {
		if err == nil {
			err = payoutdomain.ErrInvalidStatus
		}
		r.fail(fmt.Errorf("complete fee transfer %s: %w", transfer.ID, err))
		log.Error("settlement.fee_transfer.unrecorded", zap.Bool("alert", true), zap.Error(err))
		return false
	}

	s.schedMetrics.IncFeeTransfer(metrics.TransferOutcomeCompleted, transfer.Amount)
	s.obsMetrics.RecordTransfer(ctx, r.gateway.Provider(), "master", metrics.TransferOutcomeCompleted, transfer.Currency, transfer.Amount)
	log.Info("settlement.fee_transfer.completed", zap.String("reference", receipt.Reference))
	return true
}
