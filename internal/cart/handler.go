package cart

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/marketplace-payments/internal/auth"
	"github.com/joao-fontenele/marketplace-payments/internal/domain"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}
	delta := 1
	if req.Quantity != nil {
		delta = *req.Quantity
	}

	item, err := h.service.AddItem(r.Context(), userID, req.ProductID, delta)
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrProductNotFound):
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	case errors.Is(err, ErrCartBusy):
		h.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to update cart", "error", err, "user_id", userID, "product_id", req.ProductID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if item == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

type cartLine struct {
	domain.CartLine
	TotalPrice domain.Cents `json:"total_price"`
}

type cartResponse struct {
	Data       []cartLine   `json:"data"`
	TotalPrice domain.Cents `json:"total_price"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	lines, err := h.service.Lines(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list cart", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := cartResponse{Data: make([]cartLine, 0, len(lines)), TotalPrice: domain.CartTotal(lines)}
	for _, l := range lines {
		resp.Data = append(resp.Data, cartLine{CartLine: l, TotalPrice: l.Subtotal()})
	}

	h.writeJSON(w, http.StatusOK, resp)
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
