package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusSucceeded      PaymentStatus = "succeeded"
	PaymentStatusFailed         PaymentStatus = "failed"
	PaymentStatusCanceled       PaymentStatus = "canceled"
	PaymentStatusRequiresAction PaymentStatus = "requires_action"
)

func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCanceled:
		return true
	}
	return false
}

// CanTransitionTo reports whether a payment in status s may move to next.
// Terminal states never move; requires_action may be re-entered only by a terminal state.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusSucceeded ||
			next == PaymentStatusFailed ||
			next == PaymentStatusCanceled ||
			next == PaymentStatusRequiresAction
	case PaymentStatusRequiresAction:
		return next.IsTerminal()
	}
	return false
}

// OrderStatus is the order status implied by a payment status.
func (s PaymentStatus) OrderStatus() OrderStatus {
	switch s {
	case PaymentStatusSucceeded:
		return OrderStatusCompleted
	case PaymentStatusFailed, PaymentStatusCanceled:
		return OrderStatusFailed
	}
	return OrderStatusPending
}

// OrderLine is the snapshot of a cart line taken at checkout.
type OrderLine struct {
	CartItemID string `json:"cart_item_id"`
	ProductID  string `json:"product_id"`
	Title      string `json:"title"`
	Quantity   int    `json:"quantity"`
	UnitPrice  Cents  `json:"unit_price"`
	Subtotal   Cents  `json:"subtotal"`
}

type Order struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Status        OrderStatus   `json:"status"`
	PaymentMethod string        `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	TotalPrice    Cents         `json:"total_price"`
	Currency      string        `json:"currency"`
	Items         []OrderLine   `json:"items"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// SnapshotCart copies cart lines into order lines and returns them with their total.
func SnapshotCart(lines []CartLine) ([]OrderLine, Cents) {
	items := make([]OrderLine, 0, len(lines))
	var total Cents
	for _, l := range lines {
		sub := l.Subtotal()
		items = append(items, OrderLine{
			CartItemID: l.CartItemID,
			ProductID:  l.ProductID,
			Title:      l.Title,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
			Subtotal:   sub,
		})
		total += sub
	}
	return items, total
}
