// Package domain contains payout records and the gateway contract used to settle them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PaymentStatus represents the therapist payout lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// Payment is the payout record materialized from exactly one service request.
type Payment struct {
	ID                snowflake.ID      `json:"id" gorm:"primaryKey"`
	TherapistID       snowflake.ID      `json:"therapist_id" gorm:"not null;index"`
	RequestID         snowflake.ID      `json:"request_id" gorm:"not null;uniqueIndex:ux_payments_request_id"`
	BasePrice         int64             `json:"base_price" gorm:"not null"`
	TravelFee         int64             `json:"travel_fee" gorm:"not null"`
	RubgoServiceFee   int64             `json:"rubgo_service_fee" gorm:"not null"`
	TherapistEarnings int64             `json:"therapist_earnings" gorm:"not null"`
	TotalAmount       int64             `json:"total_amount" gorm:"not null"`
	Currency          string            `json:"currency" gorm:"type:text;not null"`
	Status            PaymentStatus     `json:"status" gorm:"type:text;not null;default:'pending';index"`
	Attempts          int               `json:"attempts" gorm:"not null;default:0"`
	LastError         *string           `json:"last_error,omitempty" gorm:"type:text"`
	FeeTransferID     *snowflake.ID     `json:"fee_transfer_id,omitempty" gorm:"index"`
	Metadata          datatypes.JSONMap `json:"metadata" gorm:"type:jsonb;not null;default:'{}'"`
	PaymentDate       time.Time         `json:"payment_date" gorm:"not null"`
	PayoutDate        time.Time         `json:"payout_date" gorm:"not null"`
	ProcessedDate     *time.Time        `json:"processed_date,omitempty"`
	CreatedAt         time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// FeeTransferStatus represents the master-account transfer lifecycle.
type FeeTransferStatus string

const (
	FeeTransferStatusPending   FeeTransferStatus = "pending"
	FeeTransferStatusCompleted FeeTransferStatus = "completed"
)

func (s FeeTransferStatus) Valid() bool {
	return s == FeeTransferStatusPending || s == FeeTransferStatusCompleted
}

// FeeTransfer aggregates the platform fees of the payments completed in one run.
type FeeTransfer struct {
	ID            snowflake.ID      `json:"id" gorm:"primaryKey"`
	RunID         string            `json:"run_id" gorm:"type:text;not null;index"`
	Amount        int64             `json:"amount" gorm:"not null"`
	Currency      string            `json:"currency" gorm:"type:text;not null"`
	Status        FeeTransferStatus `json:"status" gorm:"type:text;not null;default:'pending';index"`
	Attempts      int               `json:"attempts" gorm:"not null;default:0"`
	LastError     *string           `json:"last_error,omitempty" gorm:"type:text"`
	Metadata      datatypes.JSONMap `json:"metadata" gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt     time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time         `json:"updated_at" gorm:"not null"`
	TransferredAt *time.Time        `json:"transferred_at,omitempty"`
}

func (FeeTransfer) TableName() string { return "fee_transfers" }
