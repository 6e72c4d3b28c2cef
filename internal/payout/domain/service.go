package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/rubhub/payouts/pkg/db/pagination"
)

type ListPaymentsRequest struct {
	Status PaymentStatus
	pagination.Pagination
}

type ListPaymentsResponse struct {
	Payments []Payment           `json:"payments"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type ListFeeTransfersRequest struct {
	Status FeeTransferStatus
	pagination.Pagination
}

type ListFeeTransfersResponse struct {
	FeeTransfers []FeeTransfer       `json:"fee_transfers"`
	PageInfo     pagination.PageInfo `json:"page_info"`
}

// Service is the read side of payouts used by operators.
type Service interface {
	GetPayment(ctx context.Context, id snowflake.ID) (*Payment, error)
	ListPayments(ctx context.Context, req ListPaymentsRequest) (ListPaymentsResponse, error)
	ListFeeTransfers(ctx context.Context, req ListFeeTransfersRequest) (ListFeeTransfersResponse, error)
}
