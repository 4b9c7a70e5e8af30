// Package notify sends payment receipts for settled orders.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/marketplace-payments/internal/domain"
	"github.com/joao-fontenele/marketplace-payments/internal/messaging"
	"github.com/joao-fontenele/marketplace-payments/internal/payment"
)

type ReceiptHandler struct {
	mailerURL  string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewReceiptHandler(mailerURL string, client *http.Client, logger *slog.Logger) *ReceiptHandler {
	return &ReceiptHandler{
		mailerURL:  strings.TrimRight(mailerURL, "/"),
		httpClient: client,
		logger:     logger,
	}
}

type email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Handle mails a receipt for a payment.succeeded message. Other event types are skipped.
func (h *ReceiptHandler) Handle(ctx context.Context, msg messaging.Message) error {
	if msg.Type != "" && msg.Type != payment.TopicPaymentSucceeded {
		h.logger.Info("skipping message", "type", msg.Type, "key", msg.Key)
		return nil
	}

	var event domain.PaymentSucceededEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("unmarshal payment succeeded event: %w", err)
	}

	h.logger.Info("processing payment succeeded event", "order_id", event.OrderID, "user_id", event.UserID)

	if event.UserEmail == "" {
		h.logger.Warn("no email address for receipt", "order_id", event.OrderID, "user_id", event.UserID)
		return nil
	}

	if err := h.sendEmail(ctx, receiptEmail(event)); err != nil {
		h.logger.Error("failed to send receipt", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send receipt: %w", err)
	}

	h.logger.Info("receipt sent", "order_id", event.OrderID)
	return nil
}

func receiptEmail(event domain.PaymentSucceededEvent) email {
	return email{
		To:      event.UserEmail,
		Subject: "Payment Receipt: " + event.OrderID,
		Body: fmt.Sprintf("We received your payment of %s %s for order %s (reference %s).",
			event.Amount.StringFixed(2), strings.ToUpper(event.Currency), event.OrderID, event.ReferenceNumber),
	}
}

func (h *ReceiptHandler) sendEmail(ctx context.Context, body email) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.mailerURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mailer returned status %d", resp.StatusCode)
	}

	return nil
}
