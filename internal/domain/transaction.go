package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the ledger row for one gateway payment, keyed by ReferenceNumber.
type Transaction struct {
	ID              string              `json:"id"`
	OrderID         string              `json:"order_id"`
	ReferenceNumber string              `json:"reference_number"`
	Status          PaymentStatus       `json:"status"`
	RawStatus       string              `json:"raw_status"`
	Amount          Cents               `json:"amount"`
	Currency        string              `json:"currency"`
	PaidAmount      decimal.NullDecimal `json:"paid_amount"`
	PaidCurrency    string              `json:"paid_currency,omitempty"`
	LastEventAt     *time.Time          `json:"last_event_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// PaymentUpdate is the state change a gateway event asks the ledger and order to apply.
type PaymentUpdate struct {
	ReferenceNumber string
	OrderID         string
	Status          PaymentStatus
	RawStatus       string
	PaidAmount      decimal.NullDecimal
	PaidCurrency    string
	PaymentMethod   string
	OccurredAt      time.Time
}

// ApplyResult describes what an applied gateway event changed.
type ApplyResult struct {
	Duplicate     bool
	LedgerApplied bool
	Transitioned  bool
	Order         *Order
	UserEmail     string
}
