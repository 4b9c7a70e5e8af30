package domain

import "time"

type CartItem struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CartLine is a cart item joined with the product it refers to.
type CartLine struct {
	CartItemID string `json:"id"`
	ProductID  string `json:"product_id"`
	Title      string `json:"title"`
	UnitPrice  Cents  `json:"price"`
	Quantity   int    `json:"quantity"`
}

func (l CartLine) Subtotal() Cents {
	return l.UnitPrice * Cents(l.Quantity)
}

// CartTotal sums quantity * unit price over all lines.
func CartTotal(lines []CartLine) Cents {
	var total Cents
	for _, l := range lines {
		total += l.Subtotal()
	}
	return total
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	BillingID string `json:"billing_id,omitempty"`
}
