package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/rubhub/payouts/internal/clock"
	"github.com/rubhub/payouts/internal/config"
	obscontext "github.com/rubhub/payouts/internal/observability/context"
	"github.com/rubhub/payouts/internal/observability/logger"
	obsmetrics "github.com/rubhub/payouts/internal/observability/metrics"
	"github.com/rubhub/payouts/internal/payout/gateway"
	payoutdomain "github.com/rubhub/payouts/internal/payout/domain"
	servicerequestdomain "github.com/rubhub/payouts/internal/servicerequest/domain"
	"github.com/rubhub/payouts/internal/settlement/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	PayoutConfig *config.PayoutConfigHolder
	Requests     servicerequestdomain.Repository
	Payouts      payoutdomain.Repository
	Gateways     *gateway.Registry            `optional:"true"`
	Gateway      payoutdomain.Gateway         `optional:"true"`
	Clock        clock.Clock                  `optional:"true"`
	SchedMetrics *obsmetrics.SchedulerMetrics `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics          `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	payoutConfig *config.PayoutConfigHolder
	requests     servicerequestdomain.Repository
	payouts      payoutdomain.Repository
	gateways     *gateway.Registry
	gateway      payoutdomain.Gateway
	clock        clock.Clock
	tracer       trace.Tracer
	schedMetrics *obsmetrics.SchedulerMetrics
	obsMetrics   *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("settlement.service"),
		genID:        p.GenID,
		payoutConfig: p.PayoutConfig,
		requests:     p.Requests,
		payouts:      p.Payouts,
		gateways:     p.Gateways,
		gateway:      p.Gateway,
		clock:        clk,
		tracer:       otel.Tracer("rubhub/settlement"),
		schedMetrics: p.SchedMetrics,
		obsMetrics:   p.ObsMetrics,
	}
}

// run carries the state shared by the steps of one settlement run.
type run struct {
	cfg     config.PayoutConfig
	gateway payoutdomain.Gateway
	summary *domain.Summary
	log     *zap.Logger

	mu        sync.Mutex
	completed []completedPayment
}

type completedPayment struct {
	id       snowflake.ID
	fee      int64
	currency string
}

func (r *run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Errors = append(r.summary.Errors, err)
}

func (s *Service) RunWeeklySettlement(ctx context.Context, asOf time.Time) (*domain.Summary, error) {
	if asOf.IsZero() {
		return nil, domain.ErrInvalidAsOf
	}

	cfg := s.payoutConfig.Get()
	gw, err := s.resolveGateway(cfg)
	if err != nil {
		return nil, err
	}

	runID := obscontext.RunIDFromContext(ctx)
	if runID == "" {
		runID = ulid.Make().String()
		ctx = obscontext.WithRunID(ctx, runID)
	}
	ctx, span := s.tracer.Start(ctx, "settlement.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("gateway", gw.Provider()),
	))
	defer span.End()

	r := &run{
		cfg:     cfg,
		gateway: gw,
		log:     logger.WithContext(ctx, s.log),
		summary: &domain.Summary{
			RunID:             runID,
			AsOf:              asOf.UTC(),
			StartedAt:         s.clock.Now(),
			FeeTransferStatus: domain.FeeTransferNone,
		},
	}
	r.log.Info("settlement.run.start",
		zap.Time("as_of", r.summary.AsOf),
		zap.String("gateway", gw.Provider()),
		zap.Int("concurrency", cfg.Concurrency),
	)

	candidates, err := s.discover(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		r.log.Error("settlement.run.aborted", zap.Error(err))
		return nil, fmt.Errorf("discover settleable requests: %w", err)
	}

	s.materialize(ctx, r, candidates)
	s.execute(ctx, r)
	s.settleFees(ctx, r)
	s.retryFeeTransfers(ctx, r)

	summary := r.summary
	summary.FinishedAt = s.clock.Now()
	if err := summary.Err(); err != nil {
		span.SetStatus(codes.Error, "settlement completed with errors")
	} else {
		s.schedMetrics.SetLastSuccess(summary.FinishedAt)
	}
	span.SetAttributes(
		attribute.Int("payouts_completed", summary.PayoutsCompleted),
		attribute.Int("payouts_failed", summary.PayoutsFailed),
		attribute.Int64("total_fees", summary.TotalFees),
	)

	r.log.Info("settlement.run.finish",
		zap.Int("requests_discovered", summary.RequestsDiscovered),
		zap.Int("requests_materialized", summary.RequestsMaterialized),
		zap.Int("requests_skipped", summary.RequestsSkipped),
		zap.Int("requests_failed", summary.RequestsFailed),
		zap.Int("payouts_completed", summary.PayoutsCompleted),
		zap.Int("payouts_failed", summary.PayoutsFailed),
		zap.Int64("total_payouts", summary.TotalPayouts),
		zap.Int64("total_fees", summary.TotalFees),
		zap.String("fee_transfer_status", string(summary.FeeTransferStatus)),
		zap.Int("error_count", len(summary.Errors)),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

func (s *Service) resolveGateway(cfg config.PayoutConfig) (payoutdomain.Gateway, error) {
	if s.gateway != nil {
		return s.gateway, nil
	}
	if s.gateways == nil {
		return nil, domain.ErrGatewayNotConfigured
	}
	gw, err := s.gateways.FromPayoutConfig(cfg.Gateway)
	if err != nil {
		return nil, errors.Join(domain.ErrGatewayNotConfigured, err)
	}
	return gw, nil
}

// discover lists completed, paid and unprocessed bookings created in the window.
func (s *Service) discover(ctx context.Context, r *run) ([]servicerequestdomain.ServiceRequest, error) {
	ctx, span := s.tracer.Start(ctx, "settlement.discover")
	defer span.End()

	since := r.summary.AsOf.Add(-domain.DiscoveryWindow)
	items, err := s.requests.FindSettleable(ctx, s.db, since)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	r.summary.RequestsDiscovered = len(items)
	span.SetAttributes(attribute.Int("requests", len(items)))
	r.log.Info("settlement.discover.done", zap.Time("since", since), zap.Int("requests", len(items)))
	return items, nil
}
