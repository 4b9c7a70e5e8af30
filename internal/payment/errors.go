package payment

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrEmptyCart        = errors.New("cart is empty, nothing to checkout")
	ErrInvalidAmount    = errors.New("amount must be a positive number")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
	ErrGateway          = errors.New("payment gateway error")
	ErrPersistence      = errors.New("persistence error")
	ErrCartBusy         = errors.New("cart is being modified by another request")
)
