package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/marketplace-payments/internal/domain"
)

// TopicPaymentSucceeded is the event type published after an order's payment settles.
const TopicPaymentSucceeded = "payment.succeeded"

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

type LedgerStore interface {
	// ApplyPaymentEvent records the event id and, when update is non-nil, applies it to the
	// ledger and the owning order in one transaction. Already-seen event ids yield Duplicate.
	ApplyPaymentEvent(ctx context.Context, event *domain.GatewayEvent, update *domain.PaymentUpdate) (*domain.ApplyResult, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, key, eventType string, event any) error
}

type Reconciler struct {
	store     LedgerStore
	verifier  EventVerifier
	publisher EventPublisher
	logger    *slog.Logger
	events    metric.Int64Counter
}

// NewReconciler builds a Reconciler. publisher may be nil, in which case no events are published.
func NewReconciler(store LedgerStore, verifier EventVerifier, publisher EventPublisher, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		verifier:  verifier,
		publisher: publisher,
		logger:    logger,
		events:    newCounter("payment.webhook.events", "Webhook events by kind and outcome"),
	}
}

// Handle verifies a webhook delivery and applies it. The returned error is non-nil only for
// deliveries that failed verification; decode and processing failures are reported as OutcomeFailed.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	event, err := r.verifier.ParseEvent(payload, signature)
	if errors.Is(err, ErrMalformedEvent) {
		r.logger.Error("failed to decode verified webhook event", "error", err)
		r.count(ctx, domain.EventUnknown, OutcomeFailed)
		return OutcomeFailed, nil
	}
	if err != nil {
		r.logger.Warn("rejected webhook delivery", "error", err)
		r.count(ctx, domain.EventUnknown, OutcomeRejected)
		return OutcomeRejected, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	ctx, span := tracer.Start(ctx, "payment.webhook",
		trace.WithAttributes(
			attribute.String("event.id", event.ID),
			attribute.String("event.type", event.Type),
		),
	)
	defer span.End()

	outcome := r.dispatch(ctx, event)
	span.SetAttributes(attribute.String("event.outcome", string(outcome)))
	if outcome == OutcomeFailed {
		span.SetStatus(codes.Error, "event processing failed")
	}
	r.count(ctx, event.Kind, outcome)

	return outcome, nil
}

func (r *Reconciler) dispatch(ctx context.Context, event *domain.GatewayEvent) Outcome {
	switch event.Kind {
	case domain.EventPaymentIntentSucceeded,
		domain.EventPaymentIntentFailed,
		domain.EventPaymentIntentCanceled,
		domain.EventPaymentIntentRequiresAction,
		domain.EventChargeSucceeded:
		return r.applyPayment(ctx, event)
	case domain.EventPaymentIntentCreated,
		domain.EventChargeUpdated,
		domain.EventPayoutPaid,
		domain.EventPayoutFailed:
		return r.record(ctx, event)
	default:
		r.logger.Info("unhandled event type", "event_id", event.ID, "event_type", event.Type)
		return OutcomeIgnored
	}
}

func (r *Reconciler) record(ctx context.Context, event *domain.GatewayEvent) Outcome {
	res, err := r.store.ApplyPaymentEvent(ctx, event, nil)
	if err != nil {
		r.logger.Error("failed to record event", "error", err, "event_id", event.ID, "event_type", event.Type)
		return OutcomeFailed
	}
	if res.Duplicate {
		return OutcomeDuplicate
	}
	r.logger.Info("event received",
		"event_id", event.ID,
		"event_type", event.Type,
		"object_id", event.Object.ID,
		"status", event.Object.Status,
	)
	return OutcomeRecorded
}

func (r *Reconciler) applyPayment(ctx context.Context, event *domain.GatewayEvent) Outcome {
	update := paymentUpdate(event)

	res, err := r.store.ApplyPaymentEvent(ctx, event, update)
	if err != nil {
		r.logger.Error("failed to apply payment event",
			"error", err,
			"event_id", event.ID,
			"event_type", event.Type,
			"reference_number", update.ReferenceNumber,
		)
		return OutcomeFailed
	}
	if res.Duplicate {
		r.logger.Info("duplicate event ignored", "event_id", event.ID, "event_type", event.Type)
		return OutcomeDuplicate
	}

	logger := r.logger.With(
		"event_id", event.ID,
		"event_type", event.Type,
		"reference_number", update.ReferenceNumber,
		"status", update.Status,
	)
	if !res.LedgerApplied {
		logger.Info("stale event did not update ledger or order")
		return OutcomeApplied
	}
	if res.Order == nil {
		logger.Warn("no order found for payment event", "order_id", update.OrderID)
		return OutcomeApplied
	}
	if !res.Transitioned {
		logger.Info("order already settled", "order_id", res.Order.ID, "payment_status", res.Order.PaymentStatus)
		return OutcomeApplied
	}

	logger.Info("order payment updated", "order_id", res.Order.ID, "order_status", res.Order.Status)

	if res.Order.PaymentStatus == domain.PaymentStatusSucceeded {
		if update.PaidAmount.Valid && domain.CentsFromDecimal(update.PaidAmount.Decimal) != res.Order.TotalPrice {
			logger.Warn("paid amount differs from order total",
				"order_id", res.Order.ID,
				"paid", update.PaidAmount.Decimal.StringFixed(2),
				"total", res.Order.TotalPrice.String(),
			)
		}
		r.publishSucceeded(ctx, event, update, res)
	}

	return OutcomeApplied
}

func (r *Reconciler) publishSucceeded(ctx context.Context, event *domain.GatewayEvent, update *domain.PaymentUpdate, res *domain.ApplyResult) {
	if r.publisher == nil {
		return
	}

	amount := res.Order.TotalPrice.Decimal()
	if update.PaidAmount.Valid {
		amount = update.PaidAmount.Decimal
	}
	currency := update.PaidCurrency
	if currency == "" {
		currency = res.Order.Currency
	}

	msg := domain.PaymentSucceededEvent{
		OrderID:         res.Order.ID,
		UserID:          res.Order.UserID,
		UserEmail:       res.UserEmail,
		ReferenceNumber: update.ReferenceNumber,
		Amount:          amount,
		Currency:        currency,
		Timestamp:       event.Created,
	}
	if err := r.publisher.Publish(ctx, res.Order.ID, TopicPaymentSucceeded, msg); err != nil {
		r.logger.Error("failed to publish payment event", "error", err, "order_id", res.Order.ID)
	}
}

func (r *Reconciler) count(ctx context.Context, kind domain.EventKind, outcome Outcome) {
	r.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.String("outcome", string(outcome)),
	))
}

// paymentUpdate maps a status-bearing event onto the ledger. Charge events are filed under
// their payment intent when they carry one so both event families share a ledger row.
func paymentUpdate(event *domain.GatewayEvent) *domain.PaymentUpdate {
	status, _ := event.Kind.PaymentStatus()
	obj := event.Object

	u := &domain.PaymentUpdate{
		ReferenceNumber: obj.ID,
		OrderID:         obj.Metadata[domain.MetadataOrderID],
		Status:          status,
		RawStatus:       obj.Status,
		PaymentMethod:   obj.PaymentMethod,
		OccurredAt:      event.Created,
	}
	if event.Kind == domain.EventChargeSucceeded && obj.PaymentIntentID != "" {
		u.ReferenceNumber = obj.PaymentIntentID
	}

	if status == domain.PaymentStatusSucceeded {
		paid := obj.AmountReceived
		if event.Kind == domain.EventChargeSucceeded || paid == 0 {
			paid = obj.Amount
		}
		u.PaidAmount = decimal.NullDecimal{Decimal: paid.Decimal(), Valid: true}
		u.PaidCurrency = obj.Currency
	}

	return u
}
