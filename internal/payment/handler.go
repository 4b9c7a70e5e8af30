package payment

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/marketplace-payments/internal/auth"
	"github.com/joao-fontenele/marketplace-payments/internal/domain"
)

const (
	maxWebhookBodyBytes = 65536
	signatureHeader     = "Stripe-Signature"
)

type Handler struct {
	checkout   *CheckoutService
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewHandler(checkout *CheckoutService, reconciler *Reconciler, logger *slog.Logger) *Handler {
	return &Handler{
		checkout:   checkout,
		reconciler: reconciler,
		logger:     logger,
	}
}

type payResponse struct {
	ClientSecret string        `json:"clientSecret"`
	Msg          string        `json:"msg"`
	TotalAmount  domain.Cents  `json:"totalAmount"`
	OrderID      string        `json:"orderId"`
	Order        *domain.Order `json:"order"`
}

func (h *Handler) HandlePay(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.checkout.Checkout(r.Context(), userID)
	if err != nil {
		status, message := checkoutErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("checkout failed", "error", err, "user_id", userID)
		} else {
			h.logger.Info("checkout rejected", "reason", err.Error(), "user_id", userID)
		}
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusCreated, payResponse{
		ClientSecret: result.ClientSecret,
		Msg:          "payment intent created",
		TotalAmount:  result.TotalAmount,
		OrderID:      result.Order.ID,
		Order:        result.Order,
	})
}

type webhookResponse struct {
	Received bool `json:"received"`
}

// HandleWebhook answers 400 only for deliveries that fail verification.
// Processing failures are acknowledged with a 200 and received=false.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Warn("failed to read webhook body", "error", err)
		h.writeJSON(w, http.StatusBadRequest, webhookResponse{Received: false})
		return
	}

	outcome, err := h.reconciler.Handle(r.Context(), payload, r.Header.Get(signatureHeader))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, webhookResponse{Received: false})
		return
	}

	h.writeJSON(w, http.StatusOK, webhookResponse{Received: outcome != OutcomeFailed})
}

func checkoutErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, ErrEmptyCart):
		return http.StatusUnprocessableEntity, ErrEmptyCart.Error()
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusUnprocessableEntity, ErrInvalidAmount.Error()
	case errors.Is(err, ErrCartBusy):
		return http.StatusConflict, ErrCartBusy.Error()
	case errors.Is(err, ErrGateway):
		return http.StatusBadGateway, "payment gateway unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
