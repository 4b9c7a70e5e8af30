package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind is the closed set of gateway event types the reconciler understands.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventPaymentIntentSucceeded
	EventPaymentIntentFailed
	EventPaymentIntentCanceled
	EventPaymentIntentRequiresAction
	EventChargeSucceeded
	EventPaymentIntentCreated
	EventChargeUpdated
	EventPayoutPaid
	EventPayoutFailed
)

var eventKindNames = map[EventKind]string{
	EventPaymentIntentSucceeded:      "payment_intent.succeeded",
	EventPaymentIntentFailed:         "payment_intent.payment_failed",
	EventPaymentIntentCanceled:       "payment_intent.canceled",
	EventPaymentIntentRequiresAction: "payment_intent.requires_action",
	EventChargeSucceeded:             "charge.succeeded",
	EventPaymentIntentCreated:        "payment_intent.created",
	EventChargeUpdated:               "charge.updated",
	EventPayoutPaid:                  "payout.paid",
	EventPayoutFailed:                "payout.failed",
}

func ParseEventKind(s string) EventKind {
	for k, name := range eventKindNames {
		if name == s {
			return k
		}
	}
	return EventUnknown
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// PaymentStatus is the status a status-bearing event sets; ok is false for informational kinds.
func (k EventKind) PaymentStatus() (status PaymentStatus, ok bool) {
	switch k {
	case EventPaymentIntentSucceeded, EventChargeSucceeded:
		return PaymentStatusSucceeded, true
	case EventPaymentIntentFailed:
		return PaymentStatusFailed, true
	case EventPaymentIntentCanceled:
		return PaymentStatusCanceled, true
	case EventPaymentIntentRequiresAction:
		return PaymentStatusRequiresAction, true
	}
	return "", false
}

// PaymentObject is the gateway object (payment intent or charge) carried by an event.
type PaymentObject struct {
	ID              string
	PaymentIntentID string
	Status          string
	Amount          Cents
	AmountReceived  Cents
	Currency        string
	PaymentMethod   string
	Metadata        map[string]string
}

// GatewayEvent is a verified webhook event.
type GatewayEvent struct {
	ID      string
	Kind    EventKind
	Type    string
	Created time.Time
	Object  PaymentObject
}

const (
	MetadataUserID       = "user_id"
	MetadataOrderID      = "order_id"
	MetadataOrderDetails = "order_details"
)

// PaymentSucceededEvent is published once an order's payment has settled.
type PaymentSucceededEvent struct {
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	UserEmail       string          `json:"user_email"`
	ReferenceNumber string          `json:"reference_number"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Timestamp       time.Time       `json:"timestamp"`
}
