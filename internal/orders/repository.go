package orders

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/joao-fontenele/marketplace-payments/internal/domain"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, user_id, status, payment_method, payment_status, total_cents, currency, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	order := &domain.Order{}
	var total int64
	err := row.Scan(&order.ID, &order.UserID, &order.Status, &order.PaymentMethod, &order.PaymentStatus,
		&total, &order.Currency, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	order.TotalPrice = domain.Cents(total)
	order.Items = []domain.OrderLine{}
	return order, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if err := r.attachLines(ctx, map[string]*domain.Order{order.ID: order}, []string{order.ID}); err != nil {
		return nil, err
	}

	return order, nil
}

// ListByUser returns the user's orders newest first, loading all lines in one query.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	if err := r.attachLines(ctx, orderMap, orderIDs); err != nil {
		return nil, err
	}

	result := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *orderMap[id])
	}

	return result, nil
}

func (r *OrderRepository) attachLines(ctx context.Context, orderMap map[string]*domain.Order, orderIDs []string) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, cart_item_id, product_id, title, quantity, unit_price_cents
		FROM order_cart_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, title, cart_item_id
	`, pq.Array(orderIDs))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			orderID   string
			line      domain.OrderLine
			unitPrice int64
		)
		if err := rows.Scan(&orderID, &line.CartItemID, &line.ProductID, &line.Title, &line.Quantity, &unitPrice); err != nil {
			return err
		}
		line.UnitPrice = domain.Cents(unitPrice)
		line.Subtotal = line.UnitPrice * domain.Cents(line.Quantity)
		if order, ok := orderMap[orderID]; ok {
			order.Items = append(order.Items, line)
		}
	}

	return rows.Err()
}
