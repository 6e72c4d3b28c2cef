package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rubhub/payouts/internal/observability/metrics"
	payoutdomain "github.com/rubhub/payouts/internal/payout/domain"
	servicerequestdomain "github.com/rubhub/payouts/internal/servicerequest/domain"
	"github.com/rubhub/payouts/internal/settlement/domain"
	"github.com/rubhub/payouts/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// materialize turns each discovered booking into a pending payment. The insert and the
// payout_processed flip share one transaction so a booking is never paid twice.
func (s *Service) materialize(ctx context.Context, r *run, requests []servicerequestdomain.ServiceRequest) {
	ctx, span := s.tracer.Start(ctx, "settlement.materialize")
	defer span.End()

	for i := range requests {
		if err := ctx.Err(); err != nil {
			r.fail(fmt.Errorf("materialize: %w", err))
			r.summary.RequestsFailed += len(requests) - i
			break
		}
		req := &requests[i]
		err := s.materializeOne(ctx, req)
		switch {
		case err == nil:
			r.summary.RequestsMaterialized++
		case errors.Is(err, domain.ErrAlreadyMaterialized):
			r.summary.RequestsSkipped++
			r.log.Info("settlement.materialize.skipped", zap.String("request_id", req.ID.String()))
		default:
			r.summary.RequestsFailed++
			r.fail(fmt.Errorf("materialize request %s: %w", req.ID, err))
			r.log.Error("settlement.materialize.failed", zap.String("request_id", req.ID.String()), zap.Error(err))
		}
	}

	span.SetAttributes(
		attribute.Int("materialized", r.summary.RequestsMaterialized),
		attribute.Int("skipped", r.summary.RequestsSkipped),
		attribute.Int("failed", r.summary.RequestsFailed),
	)
	s.schedMetrics.AddSettlementRequests(metrics.RequestOutcomeMaterialized, r.summary.RequestsMaterialized)
	s.schedMetrics.AddSettlementRequests(metrics.RequestOutcomeSkipped, r.summary.RequestsSkipped)
	s.schedMetrics.AddSettlementRequests(metrics.RequestOutcomeFailed, r.summary.RequestsFailed)
	s.obsMetrics.RecordMaterialized(ctx, r.summary.RequestsMaterialized)
}

func (s *Service) materializeOne(ctx context.Context, req *servicerequestdomain.ServiceRequest) error {
	if req.RubgoServiceFee+req.TherapistEarnings != req.TotalPrice {
		return domain.ErrInconsistentAmounts
	}

	now := s.clock.Now()
	payment := &payoutdomain.Payment{
		ID:                s.genID.Generate(),
		TherapistID:       req.TherapistID,
		RequestID:         req.ID,
		BasePrice:         req.BasePrice,
		TravelFee:         req.TravelFee,
		RubgoServiceFee:   req.RubgoServiceFee,
		TherapistEarnings: req.TherapistEarnings,
		TotalAmount:       req.TotalPrice,
		Currency:          req.Currency,
		Status:            payoutdomain.PaymentStatusPending,
		Metadata:          datatypes.JSONMap{},
		PaymentDate:       now,
		PayoutDate:        now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.payouts.InsertPayment(ctx, tx, payment); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrAlreadyMaterialized
			}
			return err
		}
		flipped, err := s.requests.MarkPayoutProcessed(ctx, tx, req.ID, now)
		if err != nil {
			return err
		}
		if !flipped {
			return domain.ErrAlreadyMaterialized
		}
		return nil
	})
}
