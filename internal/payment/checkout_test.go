package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/joao-fontenele/marketplace-payments/internal/domain"
	"github.com/joao-fontenele/marketplace-payments/internal/lock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleLines() []domain.CartLine {
	return []domain.CartLine{
		{CartItemID: "ci-1", ProductID: "p-1", Title: "Mug", UnitPrice: 1000, Quantity: 2},
		{CartItemID: "ci-2", ProductID: "p-2", Title: "Pen", UnitPrice: 500, Quantity: 1},
	}
}

type checkoutFixture struct {
	store   *fakeStore
	cart    *fakeCart
	gateway *fakeGateway
	locker  *fakeLocker
	svc     *CheckoutService
}

func newCheckoutFixture() *checkoutFixture {
	f := &checkoutFixture{
		store:   &fakeStore{user: &domain.User{ID: "u-1", Email: "ada@example.com", BillingID: "cus_1"}},
		cart:    &fakeCart{lines: sampleLines()},
		gateway: &fakeGateway{intent: &Intent{ID: "pi_1", ClientSecret: "pi_1_secret", Status: "requires_payment_method"}},
		locker:  &fakeLocker{},
	}
	f.svc = NewCheckoutService(f.store, f.cart, f.gateway, f.locker, "usd", discardLogger())
	return f
}

func TestCheckoutService_Checkout(t *testing.T) {
	t.Run("creates intent and pending order for the cart total", func(t *testing.T) {
		f := newCheckoutFixture()

		res, err := f.svc.Checkout(context.Background(), "u-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if res.TotalAmount != 2500 {
			t.Errorf("expected total 2500, got %d", res.TotalAmount)
		}
		if res.ClientSecret != "pi_1_secret" {
			t.Errorf("expected client secret pi_1_secret, got %s", res.ClientSecret)
		}
		if res.Order.Status != domain.OrderStatusPending || res.Order.PaymentStatus != domain.PaymentStatusPending {
			t.Errorf("expected pending order, got %s/%s", res.Order.Status, res.Order.PaymentStatus)
		}
		if len(res.Order.Items) != 2 {
			t.Errorf("expected 2 order lines, got %d", len(res.Order.Items))
		}

		if len(f.gateway.requests) != 1 {
			t.Fatalf("expected 1 intent request, got %d", len(f.gateway.requests))
		}
		req := f.gateway.requests[0]
		if req.Amount != 2500 || req.Currency != "usd" || req.CustomerID != "cus_1" {
			t.Errorf("unexpected intent request: %+v", req)
		}
		if req.OrderID != res.Order.ID {
			t.Errorf("expected intent order id %s, got %s", res.Order.ID, req.OrderID)
		}
		if req.Metadata[domain.MetadataOrderID] != res.Order.ID || req.Metadata[domain.MetadataUserID] != "u-1" {
			t.Errorf("unexpected metadata: %v", req.Metadata)
		}
		var details []domain.OrderLine
		if err := json.Unmarshal([]byte(req.Metadata[domain.MetadataOrderDetails]), &details); err != nil {
			t.Fatalf("order details metadata is not JSON: %v", err)
		}
		if len(details) != 2 {
			t.Errorf("expected 2 detail lines, got %d", len(details))
		}

		if len(f.store.txns) != 1 {
			t.Fatalf("expected 1 transaction, got %d", len(f.store.txns))
		}
		txn := f.store.txns[0]
		if txn.ReferenceNumber != "pi_1" || txn.OrderID != res.Order.ID || txn.Amount != 2500 {
			t.Errorf("unexpected transaction: %+v", txn)
		}

		if len(f.locker.locked) != 1 || f.locker.locked[0] != lock.CartKey("u-1") {
			t.Errorf("expected cart lock for u-1, got %v", f.locker.locked)
		}
		if f.locker.released != 1 {
			t.Errorf("expected lock released once, got %d", f.locker.released)
		}
	})

	t.Run("omits order details that exceed the metadata limit", func(t *testing.T) {
		f := newCheckoutFixture()
		var lines []domain.CartLine
		for i := 0; i < 20; i++ {
			lines = append(lines, domain.CartLine{
				CartItemID: "cart-item-with-a-long-identifier",
				ProductID:  "product-with-a-long-identifier",
				Title:      "A product title",
				UnitPrice:  100,
				Quantity:   1,
			})
		}
		f.cart.lines = lines

		if _, err := f.svc.Checkout(context.Background(), "u-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := f.gateway.requests[0].Metadata[domain.MetadataOrderDetails]; ok {
			t.Error("expected order details to be omitted")
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newCheckoutFixture()

		_, err := f.svc.Checkout(context.Background(), "u-404")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if len(f.gateway.requests) != 0 {
			t.Error("expected no gateway call")
		}
	})

	t.Run("empty cart", func(t *testing.T) {
		f := newCheckoutFixture()
		f.cart.lines = nil

		_, err := f.svc.Checkout(context.Background(), "u-1")
		if !errors.Is(err, ErrEmptyCart) {
			t.Errorf("expected ErrEmptyCart, got %v", err)
		}
		if len(f.gateway.requests) != 0 || len(f.store.orders) != 0 {
			t.Error("expected no intent and no order")
		}
	})

	t.Run("zero total", func(t *testing.T) {
		f := newCheckoutFixture()
		f.cart.lines = []domain.CartLine{{CartItemID: "ci-1", ProductID: "p-1", UnitPrice: 0, Quantity: 3}}

		_, err := f.svc.Checkout(context.Background(), "u-1")
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("expected ErrInvalidAmount, got %v", err)
		}
	})

	t.Run("cart busy", func(t *testing.T) {
		f := newCheckoutFixture()
		f.locker.err = lock.ErrNotAcquired

		_, err := f.svc.Checkout(context.Background(), "u-1")
		if !errors.Is(err, ErrCartBusy) {
			t.Errorf("expected ErrCartBusy, got %v", err)
		}
	})

	t.Run("gateway failure creates no order", func(t *testing.T) {
		f := newCheckoutFixture()
		f.gateway.createErr = errors.New("card network down")

		_, err := f.svc.Checkout(context.Background(), "u-1")
		if !errors.Is(err, ErrGateway) {
			t.Errorf("expected ErrGateway, got %v", err)
		}
		if len(f.store.orders) != 0 {
			t.Errorf("expected no orders, got %d", len(f.store.orders))
		}
	})

	t.Run("persistence failure cancels the intent", func(t *testing.T) {
		f := newCheckoutFixture()
		f.store.createErr = errors.New("connection reset")

		_, err := f.svc.Checkout(context.Background(), "u-1")
		if !errors.Is(err, ErrPersistence) {
			t.Errorf("expected ErrPersistence, got %v", err)
		}
		if len(f.gateway.canceled) != 1 || f.gateway.canceled[0] != "pi_1" {
			t.Errorf("expected pi_1 canceled, got %v", f.gateway.canceled)
		}
		if f.locker.released != 1 {
			t.Errorf("expected lock released once, got %d", f.locker.released)
		}
	})

	t.Run("user lookup failure", func(t *testing.T) {
		f := newCheckoutFixture()
		f.store.userErr = errors.New("timeout")

		_, err := f.svc.Checkout(context.Background(), "u-1")
		if !errors.Is(err, ErrPersistence) {
			t.Errorf("expected ErrPersistence, got %v", err)
		}
	})
}
