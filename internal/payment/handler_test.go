package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/marketplace-payments/internal/auth"
	"github.com/joao-fontenele/marketplace-payments/internal/domain"
	"github.com/joao-fontenele/marketplace-payments/internal/lock"
)

func newTestHandler(f *checkoutFixture, r *reconcilerFixture) *Handler {
	var (
		svc *CheckoutService
		rec *Reconciler
	)
	if f != nil {
		svc = f.svc
	}
	if r != nil {
		rec = r.rec
	}
	return NewHandler(svc, rec, discardLogger())
}

func payRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/payment/pay", nil)
	if userID != "" {
		req = req.WithContext(auth.WithUserID(req.Context(), userID))
	}
	return req
}

func TestHandler_HandlePay(t *testing.T) {
	t.Run("returns 201 with client secret and order", func(t *testing.T) {
		f := newCheckoutFixture()
		rec := httptest.NewRecorder()

		newTestHandler(f, nil).HandlePay(rec, payRequest("u-1"))

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp struct {
			ClientSecret string          `json:"clientSecret"`
			Msg          string          `json:"msg"`
			TotalAmount  json.Number     `json:"totalAmount"`
			OrderID      string          `json:"orderId"`
			Order        json.RawMessage `json:"order"`
		}
		dec := json.NewDecoder(rec.Body)
		dec.UseNumber()
		if err := dec.Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.ClientSecret != "pi_1_secret" {
			t.Errorf("expected pi_1_secret, got %s", resp.ClientSecret)
		}
		if resp.TotalAmount.String() != "25.00" {
			t.Errorf("expected totalAmount 25.00, got %s", resp.TotalAmount)
		}
		if resp.OrderID == "" || len(resp.Order) == 0 {
			t.Error("expected order in response")
		}
	})

	t.Run("maps checkout errors to status codes", func(t *testing.T) {
		tests := []struct {
			name   string
			setup  func(f *checkoutFixture)
			userID string
			status int
		}{
			{"unknown user", func(*checkoutFixture) {}, "u-404", http.StatusNotFound},
			{"empty cart", func(f *checkoutFixture) { f.cart.lines = nil }, "u-1", http.StatusUnprocessableEntity},
			{"cart busy", func(f *checkoutFixture) { f.locker.err = lock.ErrNotAcquired }, "u-1", http.StatusConflict},
			{"gateway down", func(f *checkoutFixture) { f.gateway.createErr = errors.New("boom") }, "u-1", http.StatusBadGateway},
			{"database down", func(f *checkoutFixture) { f.store.createErr = errors.New("boom") }, "u-1", http.StatusInternalServerError},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newCheckoutFixture()
				tt.setup(f)
				rec := httptest.NewRecorder()

				newTestHandler(f, nil).HandlePay(rec, payRequest(tt.userID))

				if rec.Code != tt.status {
					t.Errorf("expected status %d, got %d", tt.status, rec.Code)
				}
				var resp map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if resp["error"] == "" {
					t.Error("expected error message")
				}
			})
		}
	})

	t.Run("returns 401 without an authenticated user", func(t *testing.T) {
		rec := httptest.NewRecorder()

		newTestHandler(newCheckoutFixture(), nil).HandlePay(rec, payRequest(""))

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleWebhook(t *testing.T) {
	deliver := func(h *Handler, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/payment/webhook", strings.NewReader(`{"id":"evt_1"}`))
		if signature != "" {
			req.Header.Set("Stripe-Signature", signature)
		}
		rec := httptest.NewRecorder()
		h.HandleWebhook(rec, req)
		return rec
	}

	decode := func(t *testing.T, rec *httptest.ResponseRecorder) bool {
		t.Helper()
		var resp map[string]bool
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		return resp["received"]
	}

	t.Run("acknowledges a verified event", func(t *testing.T) {
		r := newReconcilerFixture()
		r.gateway.event = intentEvent("evt_1", domain.EventPaymentIntentSucceeded, baseTime)

		rec := deliver(newTestHandler(nil, r), "valid")

		if rec.Code != http.StatusOK || !decode(t, rec) {
			t.Errorf("expected 200 received=true, got %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("rejects a bad signature with 400", func(t *testing.T) {
		r := newReconcilerFixture()
		r.gateway.event = intentEvent("evt_1", domain.EventPaymentIntentSucceeded, baseTime)

		rec := deliver(newTestHandler(nil, r), "forged")

		if rec.Code != http.StatusBadRequest || decode(t, rec) {
			t.Errorf("expected 400 received=false, got %d %s", rec.Code, rec.Body.String())
		}
		if r.ledger.applied != 0 {
			t.Error("expected store untouched")
		}
	})

	t.Run("rejects a missing signature with 400", func(t *testing.T) {
		r := newReconcilerFixture()

		rec := deliver(newTestHandler(nil, r), "")

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("acknowledges processing failures with received=false", func(t *testing.T) {
		r := newReconcilerFixture()
		r.ledger.err = errors.New("db down")
		r.gateway.event = intentEvent("evt_1", domain.EventPaymentIntentSucceeded, baseTime)

		rec := deliver(newTestHandler(nil, r), "valid")

		if rec.Code != http.StatusOK || decode(t, rec) {
			t.Errorf("expected 200 received=false, got %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("acknowledges undecodable verified events with received=false", func(t *testing.T) {
		r := newReconcilerFixture()
		r.gateway.decodeErr = fmt.Errorf("%w: amount is a string", ErrMalformedEvent)

		rec := deliver(newTestHandler(nil, r), "valid")

		if rec.Code != http.StatusOK || decode(t, rec) {
			t.Errorf("expected 200 received=false, got %d %s", rec.Code, rec.Body.String())
		}
		if r.ledger.applied != 0 {
			t.Error("expected store untouched")
		}
	})

	t.Run("rejects oversized bodies", func(t *testing.T) {
		r := newReconcilerFixture()
		body := strings.Repeat("x", maxWebhookBodyBytes+1)
		req := httptest.NewRequest(http.MethodPost, "/payment/webhook", strings.NewReader(body))
		req.Header.Set("Stripe-Signature", "valid")
		rec := httptest.NewRecorder()

		newTestHandler(nil, r).HandleWebhook(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}
