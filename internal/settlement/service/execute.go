package service

import (
	"context"
	"fmt"

	"github.com/rubhub/payouts/internal/observability/metrics"
	payoutdomain "github.com/rubhub/payouts/internal/payout/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// execute transfers earnings for every pending payment, including ones left over from
// earlier runs. Failures leave the payment pending for the next run until MaxAttempts.
func (s *Service) execute(ctx context.Context, r *run) {
	ctx, span := s.tracer.Start(ctx, "settlement.execute")
	defer span.End()

	reset, err := s.payouts.ResetProcessing(ctx, s.db, s.clock.Now())
	if err != nil {
		r.fail(fmt.Errorf("reset processing payments: %w", err))
		return
	}
	r.summary.PaymentsReset = reset
	if reset > 0 {
		r.log.Warn("settlement.execute.reset_processing", zap.Int64("payments", reset))
	}

	pending, err := s.payouts.ListPayments(ctx, s.db, payoutdomain.PaymentStatusPending, 0, 0)
	if err != nil {
		r.fail(fmt.Errorf("list pending payments: %w", err))
		return
	}

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i := range pending {
		if ctx.Err() != nil {
			r.fail(fmt.Errorf("execute: %d payments not attempted: %w", len(pending)-i, ctx.Err()))
			break
		}
		payment := pending[i]
		g.Go(func() error {
			s.payOne(ctx, r, payment)
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("pending", len(pending)),
		attribute.Int("completed", r.summary.PayoutsCompleted),
		attribute.Int("failed", r.summary.PayoutsFailed),
	)
	s.schedMetrics.AddBatchProcessed("weekly_settlement", "payments", r.summary.PayoutsCompleted)
}

func (s *Service) payOne(ctx context.Context, r *run, payment payoutdomain.Payment) {
	log := r.log.With(
		zap.String("payment_id", payment.ID.String()),
		zap.String("therapist_id", payment.TherapistID.String()),
	)

	claimed, err := s.payouts.ClaimPayment(ctx, s.db, payment.ID, s.clock.Now())
	if err != nil {
		r.fail(fmt.Errorf("claim payment %s: %w", payment.ID, err))
		return
	}
	if !claimed {
		return
	}

	r.mu.Lock()
	r.summary.PayoutsAttempted++
	r.mu.Unlock()

	transferCtx, cancel := context.WithTimeout(ctx, r.cfg.TransferTimeout)
	receipt, transferErr := r.gateway.TransferToTherapist(transferCtx, payoutdomain.TherapistTransfer{
		IdempotencyKey: payment.ID.String(),
		PaymentID:      payment.ID,
		TherapistID:    payment.TherapistID,
		Amount:         payment.TherapistEarnings,
		Currency:       payment.Currency,
	})
	cancel()

	// The transfer outcome must be recorded even if the run deadline has passed.
	bookkeeping := context.WithoutCancel(ctx)
	now := s.clock.Now()

	if transferErr != nil {
		status, err := s.payouts.RecordPaymentFailure(bookkeeping, s.db, payment.ID, transferErr.Error(), r.cfg.MaxAttempts, now)
		if err != nil {
			r.fail(fmt.Errorf("record failure for payment %s: %w", payment.ID, err))
		}
		outcome := metrics.TransferOutcomeFailed
		r.mu.Lock()
		r.summary.PayoutsFailed++
		if status == payoutdomain.PaymentStatusFailed {
			r.summary.PayoutsExhausted++
			outcome = metrics.TransferOutcomeExhausted
		}
		r.summary.Errors = append(r.summary.Errors, fmt.Errorf("transfer payment %s: %w", payment.ID, transferErr))
		r.mu.Unlock()

		s.schedMetrics.IncPayout(outcome, 0)
		s.obsMetrics.RecordTransfer(ctx, r.gateway.Provider(), "therapist", metrics.TransferOutcomeFailed, payment.Currency, 0)
		if outcome == metrics.TransferOutcomeExhausted {
			log.Error("settlement.payout.exhausted", zap.Int("attempts", payment.Attempts+1), zap.Error(transferErr))
		} else {
			log.Warn("settlement.payout.failed", zap.Int("attempts", payment.Attempts+1), zap.Error(transferErr))
		}
		return
	}

	completed, err := s.payouts.CompletePayment(bookkeeping, s.db, payment.ID, now, receipt.Metadata())
	if err != nil || !completed {
		if err == nil {
			err = payoutdomain.ErrInvalidStatus
		}
		// Left processing; the next run resets it and retries under the same idempotency key.
		r.fail(fmt.Errorf("complete payment %s: %w", payment.ID, err))
		log.Error("settlement.payout.unrecorded", zap.Error(err))
		return
	}

	r.mu.Lock()
	r.summary.PayoutsCompleted++
	r.summary.TotalPayouts += payment.TherapistEarnings
	r.summary.TotalFees += payment.RubgoServiceFee
	r.completed = append(r.completed, completedPayment{id: payment.ID, fee: payment.RubgoServiceFee, currency: payment.Currency})
	r.mu.Unlock()

	s.schedMetrics.IncPayout(metrics.TransferOutcomeCompleted, payment.TherapistEarnings)
	s.obsMetrics.RecordTransfer(ctx, r.gateway.Provider(), "therapist", metrics.TransferOutcomeCompleted, payment.Currency, payment.TherapistEarnings)
	log.Info("settlement.payout.completed",
		zap.Int64("amount", payment.TherapistEarnings),
		zap.String("reference", receipt.Reference),
	)
}
