package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, req *ServiceRequest) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ServiceRequest, error)
	// TransitionStatus moves the request to status only when its current status is one of from.
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status, at time.Time) (bool, error)
	// MarkPaid flips payment_status from unpaid to paid for a request that is not cancelled.
	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	// FindSettleable lists completed, paid, unprocessed requests created at or after since.
	FindSettleable(ctx context.Context, db *gorm.DB, since time.Time) ([]ServiceRequest, error)
	// MarkPayoutProcessed sets payout_processed only if it is still false.
	MarkPayoutProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
}

type CreateRequest struct {
	TherapistID    snowflake.ID `json:"therapist_id"`
	CustomerID     snowflake.ID `json:"customer_id"`
	BasePrice      int64        `json:"base_price"`
	TravelFee      int64        `json:"travel_fee"`
	DiscountAmount int64        `json:"discount_amount"`
	Currency       string       `json:"currency"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*ServiceRequest, error)
	GetByID(ctx context.Context, id snowflake.ID) (*ServiceRequest, error)
	Accept(ctx context.Context, id snowflake.ID) (*ServiceRequest, error)
	Start(ctx context.Context, id snowflake.ID) (*ServiceRequest, error)
	MarkCompleted(ctx context.Context, id snowflake.ID) (*ServiceRequest, error)
	Cancel(ctx context.Context, id snowflake.ID) (*ServiceRequest, error)
	MarkPaid(ctx context.Context, id snowflake.ID) (*ServiceRequest, error)
}
