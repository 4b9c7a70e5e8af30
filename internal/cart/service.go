// Package cart manages per-user shopping carts.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joao-fontenele/marketplace-payments/internal/domain"
	"github.com/joao-fontenele/marketplace-payments/internal/lock"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be a non-zero integer, and at least 1 for a new item")
	ErrProductNotFound = errors.New("product not found")
	ErrCartBusy        = errors.New("cart is being modified by another request")
)

type Store interface {
	Lines(ctx context.Context, userID string) ([]domain.CartLine, error)
	ApplyDelta(ctx context.Context, userID, productID string, delta int) (*domain.CartItem, error)
}

type Service struct {
	store  Store
	locker lock.Locker
	logger *slog.Logger
}

func NewService(store Store, locker lock.Locker, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		locker: locker,
		logger: logger,
	}
}

// AddItem applies a signed quantity delta to a cart item. A nil item means it was removed.
func (s *Service) AddItem(ctx context.Context, userID, productID string, delta int) (*domain.CartItem, error) {
	if productID == "" {
		return nil, fmt.Errorf("%w: missing product id", ErrProductNotFound)
	}
	if delta == 0 {
		return nil, ErrInvalidQuantity
	}

	unlock, err := s.locker.Lock(ctx, lock.CartKey(userID))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, ErrCartBusy
		}
		return nil, fmt.Errorf("acquire cart lock: %w", err)
	}
	defer unlock()

	item, err := s.store.ApplyDelta(ctx, userID, productID, delta)
	if err != nil {
		return nil, err
	}

	if item == nil {
		s.logger.Info("cart item removed", "user_id", userID, "product_id", productID)
	} else {
		s.logger.Info("cart item updated", "user_id", userID, "product_id", productID, "quantity", item.Quantity)
	}
	return item, nil
}

func (s *Service) Lines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	return s.store.Lines(ctx, userID)
}
