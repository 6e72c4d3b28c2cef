package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindPaymentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindPaymentByRequestID(ctx context.Context, db *gorm.DB, requestID snowflake.ID) (*Payment, error)
	// ListPayments returns payments in ascending ID order. An empty status matches all;
	// limit <= 0 returns every row after afterID.
	ListPayments(ctx context.Context, db *gorm.DB, status PaymentStatus, afterID snowflake.ID, limit int) ([]Payment, error)
	// ResetProcessing returns payments abandoned mid-transfer to pending.
	ResetProcessing(ctx context.Context, db *gorm.DB, at time.Time) (int64, error)
	// ClaimPayment moves a pending payment to processing.
	ClaimPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	CompletePayment(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, metadata map[string]any) (bool, error)
	// RecordPaymentFailure increments attempts on a processing payment and returns it to
	// pending, or to failed once attempts reaches maxAttempts.
	RecordPaymentFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, maxAttempts int, at time.Time) (PaymentStatus, error)
	AttachFeeTransfer(ctx context.Context, db *gorm.DB, paymentIDs []snowflake.ID, feeTransferID snowflake.ID, at time.Time) (int64, error)
	SumFeesByTransfer(ctx context.Context, db *gorm.DB, feeTransferID snowflake.ID) (int64, error)

	InsertFeeTransfer(ctx context.Context, db *gorm.DB, transfer *FeeTransfer) error
	FindFeeTransferByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*FeeTransfer, error)
	ListFeeTransfers(ctx context.Context, db *gorm.DB, status FeeTransferStatus, afterID snowflake.ID, limit int) ([]FeeTransfer, error)
	CompleteFeeTransfer(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, metadata map[string]any) (bool, error)
	RecordFeeTransferFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) error
}
