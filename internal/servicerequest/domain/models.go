// Package domain contains the booking model that payouts are settled from.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the lifecycle state of a massage booking.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// PaymentStatus tracks whether the customer has paid for the booking.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

const DefaultCurrency = "ZAR"

// ServiceRequest is a booked session. Amounts are in minor units (cents).
type ServiceRequest struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	TherapistID       snowflake.ID  `json:"therapist_id" gorm:"not null;index"`
	CustomerID        snowflake.ID  `json:"customer_id" gorm:"not null;index"`
	Status            Status        `json:"status" gorm:"type:text;not null;default:'pending'"`
	PaymentStatus     PaymentStatus `json:"payment_status" gorm:"type:text;not null;default:'unpaid'"`
	BasePrice         int64         `json:"base_price" gorm:"not null"`
	TravelFee         int64         `json:"travel_fee" gorm:"not null;default:0"`
	DiscountAmount    int64         `json:"discount_amount" gorm:"not null;default:0"`
	RubgoServiceFee   int64         `json:"rubgo_service_fee" gorm:"not null"`
	TherapistEarnings int64         `json:"therapist_earnings" gorm:"not null"`
	TotalPrice        int64         `json:"total_price" gorm:"not null"`
	Currency          string        `json:"currency" gorm:"type:text;not null"`
	PayoutProcessed   bool          `json:"payout_processed" gorm:"not null;default:false;index"`
	PayoutProcessedAt *time.Time    `json:"payout_processed_at"`
	CreatedAt         time.Time     `json:"created_at" gorm:"not null;index"`
	UpdatedAt         time.Time     `json:"updated_at" gorm:"not null"`
}

func (ServiceRequest) TableName() string { return "service_requests" }

// Settleable reports whether the request is eligible for payout materialization.
func (r *ServiceRequest) Settleable() bool {
	return r != nil &&
		r.Status == StatusCompleted &&
		r.PaymentStatus == PaymentStatusPaid &&
		!r.PayoutProcessed
}
