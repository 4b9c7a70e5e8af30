package payment

import (
	"context"

	"github.com/joao-fontenele/marketplace-payments/internal/domain"
)

type IntentRequest struct {
	OrderID    string
	Amount     domain.Cents
	Currency   string
	CustomerID string
	Items      []domain.OrderLine
	Metadata   map[string]string
}

type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

// EventVerifier authenticates a raw webhook delivery and decodes it. A delivery whose signature
// verifies but whose object cannot be decoded yields an error wrapping ErrMalformedEvent.
type EventVerifier interface {
	ParseEvent(payload []byte, signature string) (*domain.GatewayEvent, error)
}

// Gateway is the external payment processor.
type Gateway interface {
	EventVerifier
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	CancelPaymentIntent(ctx context.Context, id string) error
}
