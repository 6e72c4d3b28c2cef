package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rubhub/payouts/internal/payout/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const paymentColumns = `id, therapist_id, request_id, base_price, travel_fee, rubgo_service_fee,
	therapist_earnings, total_amount, currency, status, attempts, last_error, fee_transfer_id,
	metadata, payment_date, payout_date, processed_date, created_at, updated_at`

const feeTransferColumns = `id, run_id, amount, currency, status, attempts, last_error,
	metadata, created_at, updated_at, transferred_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, p *domain.Payment) error {
	if p.Metadata == nil {
		p.Metadata = datatypes.JSONMap{}
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.TherapistID,
		p.RequestID,
		p.BasePrice,
		p.TravelFee,
		p.RubgoServiceFee,
		p.TherapistEarnings,
		p.TotalAmount,
		p.Currency,
		p.Status,
		p.Attempts,
		p.LastError,
		p.FeeTransferID,
		p.Metadata,
		p.PaymentDate,
		p.PayoutDate,
		p.ProcessedDate,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) FindPaymentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.findPayment(ctx, db, "id", id)
}

func (r *repo) FindPaymentByRequestID(ctx context.Context, db *gorm.DB, requestID snowflake.ID) (*domain.Payment, error) {
	return r.findPayment(ctx, db, "request_id", requestID)
}

func (r *repo) findPayment(ctx context.Context, db *gorm.DB, column string, value snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT %s FROM payments WHERE %s = ? LIMIT 1`, paymentColumns, column),
		value,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListPayments(ctx context.Context, db *gorm.DB, status domain.PaymentStatus, afterID snowflake.ID, limit int) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id > ?`
	args := []any{afterID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var items []domain.Payment
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ResetProcessing(ctx context.Context, db *gorm.DB, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, updated_at = ?
		 WHERE status = ?`,
		domain.PaymentStatusPending,
		at,
		domain.PaymentStatusProcessing,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ClaimPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PaymentStatusProcessing,
		at,
		id,
		domain.PaymentStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CompletePayment(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, metadata map[string]any) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, processed_date = ?, last_error = NULL, metadata = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PaymentStatusCompleted,
		at,
		datatypes.JSONMap(metadata),
		at,
		id,
		domain.PaymentStatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) RecordPaymentFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, maxAttempts int, at time.Time) (domain.PaymentStatus, error) {
	// status is assigned before attempts so every dialect compares the pre-increment value.
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END,
		     attempts = attempts + 1,
		     last_error = ?,
		     updated_at = ?
		 WHERE id = ? AND status = ?`,
		maxAttempts,
		domain.PaymentStatusFailed,
		domain.PaymentStatusPending,
		reason,
		at,
		id,
		domain.PaymentStatusProcessing,
	)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", domain.ErrInvalidStatus
	}

	var status string
	if err := db.WithContext(ctx).Raw(`SELECT status FROM payments WHERE id = ?`, id).Scan(&status).Error; err != nil {
		return "", err
	}
	return domain.PaymentStatus(status), nil
}

func (r *repo) AttachFeeTransfer(ctx context.Context, db *gorm.DB, paymentIDs []snowflake.ID, feeTransferID snowflake.ID, at time.Time) (int64, error) {
	if len(paymentIDs) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET fee_transfer_id = ?, updated_at = ?
		 WHERE id IN ? AND status = ? AND fee_transfer_id IS NULL`,
		feeTransferID,
		at,
		paymentIDs,
		domain.PaymentStatusCompleted,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) SumFeesByTransfer(ctx context.Context, db *gorm.DB, feeTransferID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(rubgo_service_fee), 0)
		 FROM payments
		 WHERE fee_transfer_id = ?`,
		feeTransferID,
	).Scan(&total).Error
	return total, err
}

func (r *repo) InsertFeeTransfer(ctx context.Context, db *gorm.DB, t *domain.FeeTransfer) error {
	if t.Metadata == nil {
		t.Metadata = datatypes.JSONMap{}
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO fee_transfers (`+feeTransferColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.RunID,
		t.Amount,
		t.Currency,
		t.Status,
		t.Attempts,
		t.LastError,
		t.Metadata,
		t.CreatedAt,
		t.UpdatedAt,
		t.TransferredAt,
	).Error
}

func (r *repo) FindFeeTransferByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.FeeTransfer, error) {
	var item domain.FeeTransfer
	err := db.WithContext(ctx).Raw(
		`SELECT `+feeTransferColumns+` FROM fee_transfers WHERE id = ? LIMIT 1`,
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

func (r *repo) ListFeeTransfers(ctx context.Context, db *gorm.DB, status domain.FeeTransferStatus, afterID snowflake.ID, limit int) ([]domain.FeeTransfer, error) {
	query := `SELECT ` + feeTransferColumns + ` FROM fee_transfers WHERE id > ?`
	args := []any{afterID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var items []domain.FeeTransfer
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CompleteFeeTransfer(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, metadata map[string]any) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE fee_transfers
		 SET status = ?, attempts = attempts + 1, transferred_at = ?, last_error = NULL, metadata = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.FeeTransferStatusCompleted,
		at,
		datatypes.JSONMap(metadata),
		at,
		id,
		domain.FeeTransferStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) RecordFeeTransferFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE fee_transfers
		 SET attempts = attempts + 1, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		reason,
		at,
		id,
		domain.FeeTransferStatusPending,
	).Error
}
