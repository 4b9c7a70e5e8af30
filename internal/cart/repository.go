package cart

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/marketplace-payments/internal/domain"
)

const pgForeignKeyViolation = "23503"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Lines returns the user's cart items joined with current product title and price.
func (r *Repository) Lines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.product_id, p.title, p.price_cents, c.quantity
		FROM cart_items c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.created_at, c.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var lines []domain.CartLine
	for rows.Next() {
		var (
			line  domain.CartLine
			price int64
		)
		if err := rows.Scan(&line.CartItemID, &line.ProductID, &line.Title, &price, &line.Quantity); err != nil {
			return nil, err
		}
		line.UnitPrice = domain.Cents(price)
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

// ApplyDelta adds delta to the user's quantity of productID, creating the item when absent.
// It returns nil, nil when the item was removed because its quantity dropped to zero or below.
func (r *Repository) ApplyDelta(ctx context.Context, userID, productID string, delta int) (*domain.CartItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	item := &domain.CartItem{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id, product_id, quantity, created_at, updated_at
		FROM cart_items
		WHERE user_id = $1 AND product_id = $2
		FOR UPDATE
	`, userID, productID).Scan(&item.ID, &item.UserID, &item.ProductID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt)

	now := time.Now().UTC()
	switch {
	case err == sql.ErrNoRows:
		if delta < 1 {
			return nil, ErrInvalidQuantity
		}
		item = &domain.CartItem{
			ID:        uuid.New().String(),
			UserID:    userID,
			ProductID: productID,
			Quantity:  delta,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cart_items (id, user_id, product_id, quantity, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, item.UserID, item.ProductID, item.Quantity, item.CreatedAt, item.UpdatedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == pgForeignKeyViolation {
				return nil, ErrProductNotFound
			}
			return nil, err
		}

	case err != nil:
		return nil, err

	case item.Quantity+delta <= 0:
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, item.ID); err != nil {
			return nil, err
		}
		return nil, tx.Commit()

	default:
		item.Quantity += delta
		item.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE cart_items SET quantity = $1, updated_at = $2
			WHERE id = $3
		`, item.Quantity, item.UpdatedAt, item.ID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return item, nil
}
