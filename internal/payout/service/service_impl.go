package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/rubhub/payouts/internal/payout/domain"
	"github.com/rubhub/payouts/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("payout.service"),
		repo: p.Repo,
	}
}

func (s *Service) GetPayment(ctx context.Context, id snowflake.ID) (*domain.Payment, error) {
	item, err := s.repo.FindPaymentByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return item, nil
}

func (s *Service) ListPayments(ctx context.Context, req domain.ListPaymentsRequest) (domain.ListPaymentsResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListPaymentsResponse{}, domain.ErrInvalidStatus
	}
	afterID, err := req.AfterID()
	if err != nil {
		return domain.ListPaymentsResponse{}, err
	}
	limit := req.Limit()

	items, err := s.repo.ListPayments(ctx, s.db, req.Status, snowflake.ID(afterID), limit+1)
	if err != nil {
		return domain.ListPaymentsResponse{}, err
	}
	page, info, err := pagination.Page(items, limit, func(p domain.Payment) int64 { return p.ID.Int64() })
	if err != nil {
		return domain.ListPaymentsResponse{}, err
	}
	if page == nil {
		page = []domain.Payment{}
	}
	return domain.ListPaymentsResponse{Payments: page, PageInfo: info}, nil
}

func (s *Service) ListFeeTransfers(ctx context.Context, req domain.ListFeeTransfersRequest) (domain.ListFeeTransfersResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListFeeTransfersResponse{}, domain.ErrInvalidStatus
	}
	afterID, err := req.AfterID()
	if err != nil {
		return domain.ListFeeTransfersResponse{}, err
	}
	limit := req.Limit()

	items, err := s.repo.ListFeeTransfers(ctx, s.db, req.Status, snowflake.ID(afterID), limit+1)
	if err != nil {
		return domain.ListFeeTransfersResponse{}, err
	}
	page, info, err := pagination.Page(items, limit, func(t domain.FeeTransfer) int64 { return t.ID.Int64() })
	if err != nil {
		return domain.ListFeeTransfersResponse{}, err
	}
	if page == nil {
		page = []domain.FeeTransfer{}
	}
	return domain.ListFeeTransfersResponse{FeeTransfers: page, PageInfo: info}, nil
}
