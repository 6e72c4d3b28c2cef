package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rubhub/payouts/internal/servicerequest/domain"
	"gorm.io/gorm"
)

const selectColumns = `id, therapist_id, customer_id, status, payment_status,
	base_price, travel_fee, discount_amount, rubgo_service_fee, therapist_earnings,
	total_price, currency, payout_processed, payout_processed_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, req *domain.ServiceRequest) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO service_requests (
			id, therapist_id, customer_id, status, payment_status,
			base_price, travel_fee, discount_amount, rubgo_service_fee, therapist_earnings,
			total_price, currency, payout_processed, payout_processed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID,
		req.TherapistID,
		req.CustomerID,
		req.Status,
		req.PaymentStatus,
		req.BasePrice,
		req.TravelFee,
		req.DiscountAmount,
		req.RubgoServiceFee,
		req.TherapistEarnings,
		req.TotalPrice,
		req.Currency,
		req.PayoutProcessed,
		req.PayoutProcessedAt,
		req.CreatedAt,
		req.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ServiceRequest, error) {
	var item domain.ServiceRequest
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+`
		 FROM service_requests
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.Status, to domain.Status, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE service_requests
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		to,
		at,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE service_requests
		 SET payment_status = ?, updated_at = ?
		 WHERE id = ? AND payment_status = ? AND status <> ?`,
		domain.PaymentStatusPaid,
		at,
		id,
		domain.PaymentStatusUnpaid,
		domain.StatusCancelled,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindSettleable(ctx context.Context, db *gorm.DB, since time.Time) ([]domain.ServiceRequest, error) {
	var items []domain.ServiceRequest
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+`
		 FROM service_requests
		 WHERE status = ?
		   AND payment_status = ?
		   AND payout_processed = ?
		   AND created_at >= ?
		 ORDER BY id ASC`,
		domain.StatusCompleted,
		domain.PaymentStatusPaid,
		false,
		since,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkPayoutProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE service_requests
		 SET payout_processed = ?, payout_processed_at = ?, updated_at = ?
		 WHERE id = ? AND payout_processed = ?`,
		true,
		at,
		at,
		id,
		false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
