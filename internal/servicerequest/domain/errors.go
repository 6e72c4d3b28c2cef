package domain

import "errors"

var (
	ErrInvalidRequest       = errors.New("invalid_service_request")
	ErrMissingTherapist     = errors.New("missing_therapist_id")
	ErrNegativeAmount       = errors.New("negative_amount")
	ErrDiscountExceedsPrice = errors.New("discount_exceeds_price")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrNotFound             = errors.New("service_request_not_found")
	ErrInvalidTransition    = errors.New("invalid_status_transition")
)
