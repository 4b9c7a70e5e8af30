// Package stripegw adapts the Stripe API to the payment.Gateway port.
package stripegw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/joao-fontenele/marketplace-payments/internal/domain"
	"github.com/joao-fontenele/marketplace-payments/internal/payment"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the Stripe API endpoint; empty uses the default.
	BaseURL           string
	HTTPClient        *http.Client
	MaxNetworkRetries int64
}

type Client struct {
	api           *client.API
	webhookSecret string
	breaker       *gobreaker.CircuitBreaker[*stripe.PaymentIntent]
	logger        *slog.Logger
}

var _ payment.Gateway = (*Client)(nil)

func New(cfg Config, logger *slog.Logger) *Client {
	backendConfig := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     &leveledLogger{logger: logger},
	}
	if cfg.BaseURL != "" {
		backendConfig.URL = stripe.String(cfg.BaseURL)
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	}

	return &Client{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
		breaker:       newBreaker(logger),
		logger:        logger,
	}
}

func newBreaker(logger *slog.Logger) *gobreaker.CircuitBreaker[*stripe.PaymentIntent] {
	return gobreaker.NewCircuitBreaker[*stripe.PaymentIntent](gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: isProviderHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// isProviderHealthy treats client errors and card declines as healthy responses.
func isProviderHealthy(err error) bool {
	if err == nil {
		return true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500
	}
	return false
}

func (c *Client) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(req.Amount)),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey("checkout-" + req.OrderID)
	params.Context = ctx

	pi, err := c.breaker.Execute(func() (*stripe.PaymentIntent, error) {
		return c.api.PaymentIntents.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	return &payment.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}, nil
}

func (c *Client) CancelPaymentIntent(ctx context.Context, id string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	_, err := c.breaker.Execute(func() (*stripe.PaymentIntent, error) {
		return c.api.PaymentIntents.Cancel(id, params)
	})
	if err != nil {
		return fmt.Errorf("cancel payment intent %s: %w", id, err)
	}
	return nil
}

// ParseEvent verifies the Stripe-Signature header and decodes the event object.
// Decode failures after a successful verification wrap payment.ErrMalformedEvent.
func (c *Client) ParseEvent(payload []byte, signature string) (*domain.GatewayEvent, error) {
	if signature == "" {
		return nil, errors.New("missing signature header")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, err
	}

	out := &domain.GatewayEvent{
		ID:      event.ID,
		Kind:    domain.ParseEventKind(string(event.Type)),
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return out, nil
	}

	obj, err := decodeObject(out.Kind, event.Data.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s object of %s: %w", payment.ErrMalformedEvent, event.Type, event.ID, err)
	}
	out.Object = obj

	return out, nil
}

func decodeObject(kind domain.EventKind, raw json.RawMessage) (domain.PaymentObject, error) {
	switch kind {
	case domain.EventPaymentIntentSucceeded,
		domain.EventPaymentIntentFailed,
		domain.EventPaymentIntentCanceled,
		domain.EventPaymentIntentRequiresAction,
		domain.EventPaymentIntentCreated:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return domain.PaymentObject{}, err
		}
		return fromPaymentIntent(&pi), nil
	case domain.EventChargeSucceeded, domain.EventChargeUpdated:
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return domain.PaymentObject{}, err
		}
		return fromCharge(&ch), nil
	case domain.EventPayoutPaid, domain.EventPayoutFailed:
		var po stripe.Payout
		if err := json.Unmarshal(raw, &po); err != nil {
			return domain.PaymentObject{}, err
		}
		return domain.PaymentObject{
			ID:       po.ID,
			Status:   string(po.Status),
			Amount:   domain.Cents(po.Amount),
			Currency: string(po.Currency),
			Metadata: po.Metadata,
		}, nil
	}

	var generic struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return domain.PaymentObject{}, err
	}
	return domain.PaymentObject{ID: generic.ID, Status: generic.Status}, nil
}

func fromPaymentIntent(pi *stripe.PaymentIntent) domain.PaymentObject {
	obj := domain.PaymentObject{
		ID:              pi.ID,
		PaymentIntentID: pi.ID,
		Status:          string(pi.Status),
		Amount:          domain.Cents(pi.Amount),
		AmountReceived:  domain.Cents(pi.AmountReceived),
		Currency:        string(pi.Currency),
		Metadata:        pi.Metadata,
	}
	switch {
	case pi.PaymentMethod != nil && pi.PaymentMethod.Type != "":
		obj.PaymentMethod = string(pi.PaymentMethod.Type)
	case len(pi.PaymentMethodTypes) > 0:
		obj.PaymentMethod = pi.PaymentMethodTypes[0]
	}
	return obj
}

func fromCharge(ch *stripe.Charge) domain.PaymentObject {
	obj := domain.PaymentObject{
		ID:       ch.ID,
		Status:   string(ch.Status),
		Amount:   domain.Cents(ch.Amount),
		Currency: string(ch.Currency),
		Metadata: ch.Metadata,
	}
	if ch.PaymentIntent != nil {
		obj.PaymentIntentID = ch.PaymentIntent.ID
	}
	if ch.PaymentMethodDetails != nil {
		obj.PaymentMethod = string(ch.PaymentMethodDetails.Type)
	}
	return obj
}
