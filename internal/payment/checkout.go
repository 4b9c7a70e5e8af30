package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/marketplace-payments/internal/domain"
	"github.com/joao-fontenele/marketplace-payments/internal/lock"
)

const (
	defaultPaymentMethod = "wallet"
	maxMetadataValueLen  = 500
)

type CheckoutStore interface {
	// GetUser returns nil, nil when the user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	// CreatePendingOrder persists the order, its lines and the pending transaction atomically.
	CreatePendingOrder(ctx context.Context, order *domain.Order, txn *domain.Transaction) error
}

type CartLister interface {
	Lines(ctx context.Context, userID string) ([]domain.CartLine, error)
}

type CheckoutResult struct {
	ClientSecret string
	Order        *domain.Order
	TotalAmount  domain.Cents
}

type CheckoutService struct {
	store    CheckoutStore
	cart     CartLister
	gateway  Gateway
	locker   lock.Locker
	currency string
	logger   *slog.Logger
	requests metric.Int64Counter
	now      func() time.Time
}

func NewCheckoutService(store CheckoutStore, cart CartLister, gateway Gateway, locker lock.Locker, currency string, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{
		store:    store,
		cart:     cart,
		gateway:  gateway,
		locker:   locker,
		currency: currency,
		logger:   logger,
		requests: newCounter("payment.checkout.requests", "Checkout attempts by outcome"),
		now:      time.Now,
	}
}

// Checkout prices the user's cart, opens a payment intent for it and records a pending order.
func (s *CheckoutService) Checkout(ctx context.Context, userID string) (*CheckoutResult, error) {
	ctx, span := tracer.Start(ctx, "payment.checkout",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	result, err := s.checkout(ctx, userID)

	s.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", checkoutOutcome(err))))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("order.id", result.Order.ID),
		attribute.Int64("order.total_cents", int64(result.TotalAmount)),
	)
	return result, nil
}

func (s *CheckoutService) checkout(ctx context.Context, userID string) (*CheckoutResult, error) {
	unlock, err := s.locker.Lock(ctx, lock.CartKey(userID))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("%w: %w", ErrCartBusy, err)
		}
		return nil, fmt.Errorf("%w: acquire cart lock: %w", ErrPersistence, err)
	}
	defer unlock()

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: load user: %w", ErrPersistence, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}

	lines, err := s.cart.Lines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: load cart: %w", ErrPersistence, err)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	items, total := domain.SnapshotCart(lines)
	if total <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, total)
	}

	orderID := uuid.New().String()
	intent, err := s.gateway.CreatePaymentIntent(ctx, IntentRequest{
		OrderID:    orderID,
		Amount:     total,
		Currency:   s.currency,
		CustomerID: user.BillingID,
		Items:      items,
		Metadata:   intentMetadata(userID, orderID, items),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create payment intent: %w", ErrGateway, err)
	}

	now := s.now().UTC()
	order := &domain.Order{
		ID:            orderID,
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		PaymentMethod: defaultPaymentMethod,
		PaymentStatus: domain.PaymentStatusPending,
		TotalPrice:    total,
		Currency:      s.currency,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	txn := &domain.Transaction{
		ID:              uuid.New().String(),
		OrderID:         orderID,
		ReferenceNumber: intent.ID,
		Status:          domain.PaymentStatusPending,
		RawStatus:       intent.Status,
		Amount:          total,
		Currency:        s.currency,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreatePendingOrder(ctx, order, txn); err != nil {
		if cancelErr := s.gateway.CancelPaymentIntent(context.WithoutCancel(ctx), intent.ID); cancelErr != nil {
			s.logger.Error("failed to cancel orphaned payment intent", "error", cancelErr, "payment_intent_id", intent.ID)
		}
		return nil, fmt.Errorf("%w: create order: %w", ErrPersistence, err)
	}

	s.logger.Info("payment intent created",
		"order_id", order.ID,
		"user_id", userID,
		"payment_intent_id", intent.ID,
		"total", total.String(),
		"items", len(items),
	)

	return &CheckoutResult{
		ClientSecret: intent.ClientSecret,
		Order:        order,
		TotalAmount:  total,
	}, nil
}

func intentMetadata(userID, orderID string, items []domain.OrderLine) map[string]string {
	metadata := map[string]string{
		domain.MetadataUserID:  userID,
		domain.MetadataOrderID: orderID,
	}
	if details, err := json.Marshal(items); err == nil && len(details) <= maxMetadataValueLen {
		metadata[domain.MetadataOrderDetails] = string(details)
	}
	return metadata
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrNotFound):
		return "user_not_found"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrCartBusy):
		return "cart_busy"
	case errors.Is(err, ErrGateway):
		return "gateway_error"
	default:
		return "persistence_error"
	}
}
