package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/rubhub/payouts/internal/clock"
	"github.com/rubhub/payouts/internal/config"
	"github.com/rubhub/payouts/internal/servicerequest/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock `optional:"true"`

	PayoutConfig *config.PayoutConfigHolder `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock

	payoutConfig *config.PayoutConfigHolder
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("servicerequest.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,

		payoutConfig: p.PayoutConfig,
	}
}

// defaultCurrency is the settlement currency bookings fall back to.
func (s *Service) defaultCurrency() string {
	if s.payoutConfig == nil {
		return domain.DefaultCurrency
	}
	return s.payoutConfig.Get().Currency
}

// Create persists a pending, unpaid booking with its fee split computed up front.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.ServiceRequest, error) {
	if req.TherapistID == 0 {
		return nil, domain.ErrMissingTherapist
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency()
	}
	if len(currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}

	now := s.clock.Now().UTC()
	item := &domain.ServiceRequest{
		ID:             s.genID.Generate(),
		TherapistID:    req.TherapistID,
		CustomerID:     req.CustomerID,
		Status:         domain.StatusPending,
		PaymentStatus:  domain.PaymentStatusUnpaid,
		BasePrice:      req.BasePrice,
		TravelFee:      req.TravelFee,
		DiscountAmount: req.DiscountAmount,
		Currency:       currency,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := item.ApplyFees(); err != nil {
		return nil, err
	}

	if err := s.repo.Insert(ctx, s.db, item); err != nil {
		return nil, err
	}

	s.log.Info("service request created",
		zap.String("request_id", item.ID.String()),
		zap.String("therapist_id", item.TherapistID.String()),
		zap.Int64("total_price", item.TotalPrice),
		zap.Int64("rubgo_service_fee", item.RubgoServiceFee),
	)
	return item, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.ServiceRequest, error) {
	if id == 0 {
		return nil, domain.ErrInvalidRequest
	}
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

// Accept records the therapist taking a pending booking.
func (s *Service) Accept(ctx context.Context, id snowflake.ID) (*domain.ServiceRequest, error) {
	return s.transition(ctx, id, domain.StatusAccepted, domain.StatusPending)
}

func (s *Service) Start(ctx context.Context, id snowflake.ID) (*domain.ServiceRequest, error) {
	return s.transition(ctx, id, domain.StatusInProgress, domain.StatusAccepted)
}

// Cancel stops a booking that has not been completed. Cancelled bookings are never settled.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (*domain.ServiceRequest, error) {
	return s.transition(ctx, id, domain.StatusCancelled,
		domain.StatusPending, domain.StatusAccepted, domain.StatusInProgress)
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, to domain.Status, from ...domain.Status) (*domain.ServiceRequest, error) {
	return s.update(ctx, id, func(tx *gorm.DB) (bool, error) {
		return s.repo.TransitionStatus(ctx, tx, id, from, to, s.clock.Now().UTC())
	})
}

// MarkCompleted finishes an accepted or in-progress session.
func (s *Service) MarkCompleted(ctx context.Context, id snowflake.ID) (*domain.ServiceRequest, error) {
	return s.transition(ctx, id, domain.StatusCompleted, domain.StatusAccepted, domain.StatusInProgress)
}

// MarkPaid records the customer payment for a booking that has not been cancelled.
func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID) (*domain.ServiceRequest, error) {
	return s.update(ctx, id, func(tx *gorm.DB) (bool, error) {
		return s.repo.MarkPaid(ctx, tx, id, s.clock.Now().UTC())
	})
}

func (s *Service) update(ctx context.Context, id snowflake.ID, apply func(tx *gorm.DB) (bool, error)) (*domain.ServiceRequest, error) {
	if id == 0 {
		return nil, domain.ErrInvalidRequest
	}

	var updated *domain.ServiceRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := apply(tx)
		if err != nil {
			return err
		}
		item, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrNotFound
		}
		if !ok {
			return domain.ErrInvalidTransition
		}
		updated = item
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrInvalidTransition) {
			s.log.Error("service request update failed", zap.String("request_id", id.String()), zap.Error(err))
		}
		return nil, err
	}
	return updated, nil
}
