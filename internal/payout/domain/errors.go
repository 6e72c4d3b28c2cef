package domain

import "errors"

var (
	ErrPaymentNotFound     = errors.New("payment_not_found")
	ErrFeeTransferNotFound = errors.New("fee_transfer_not_found")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrProviderNotFound    = errors.New("payout_provider_not_found")
	ErrInvalidConfig       = errors.New("invalid_gateway_config")
	ErrInvalidTransfer     = errors.New("invalid_transfer")
	ErrTransferRejected    = errors.New("transfer_rejected")
	ErrGatewayUnavailable  = errors.New("gateway_unavailable")
)
