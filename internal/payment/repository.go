package payment

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/marketplace-payments/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user := &domain.User{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, COALESCE(billing_id, '')
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.BillingID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return user, nil
}

func (r *Repository) CreatePendingOrder(ctx context.Context, order *domain.Order, txn *domain.Transaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, payment_method, payment_status, total_cents, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, order.ID, order.UserID, order.Status, order.PaymentMethod, order.PaymentStatus,
		int64(order.TotalPrice), order.Currency, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_cart_items (order_id, cart_item_id, product_id, title, quantity, unit_price_cents)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, order.ID, item.CartItemID, item.ProductID, item.Title, item.Quantity, int64(item.UnitPrice))
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, order_id, reference_number, status, raw_status, amount_cents, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, txn.ID, txn.OrderID, txn.ReferenceNumber, txn.Status, txn.RawStatus,
		int64(txn.Amount), txn.Currency, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *Repository) GetTransaction(ctx context.Context, referenceNumber string) (*domain.Transaction, error) {
	var (
		txn          domain.Transaction
		orderID      sql.NullString
		amount       int64
		paidCurrency sql.NullString
		lastEventAt  sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, reference_number, status, raw_status, amount_cents, currency,
		       paid_amount, paid_currency, last_event_at, created_at, updated_at
		FROM transactions
		WHERE reference_number = $1
	`, referenceNumber).Scan(&txn.ID, &orderID, &txn.ReferenceNumber, &txn.Status, &txn.RawStatus,
		&amount, &txn.Currency, &txn.PaidAmount, &paidCurrency, &lastEventAt, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	txn.OrderID = orderID.String
	txn.Amount = domain.Cents(amount)
	txn.PaidCurrency = paidCurrency.String
	if lastEventAt.Valid {
		t := lastEventAt.Time
		txn.LastEventAt = &t
	}

	return &txn, nil
}

func (r *Repository) ApplyPaymentEvent(ctx context.Context, event *domain.GatewayEvent, update *domain.PaymentUpdate) (*domain.ApplyResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, event_type, received_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`, event.ID, event.Type)
	if err != nil {
		return nil, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if inserted == 0 {
		return &domain.ApplyResult{Duplicate: true}, nil
	}

	result := &domain.ApplyResult{}
	if update == nil {
		return result, tx.Commit()
	}

	result.LedgerApplied, err = upsertTransaction(ctx, tx, update)
	if err != nil {
		return nil, err
	}

	orderID := update.OrderID
	if orderID == "" {
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(order_id, '') FROM transactions WHERE reference_number = $1
		`, update.ReferenceNumber).Scan(&orderID)
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
	}

	if orderID != "" {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return nil, err
		}
		if order != nil && result.LedgerApplied && order.PaymentStatus.CanTransitionTo(update.Status) {
			if err := transitionOrder(ctx, tx, order, update); err != nil {
				return nil, err
			}
			err = tx.QueryRowContext(ctx, `SELECT email FROM users WHERE id = $1`, order.UserID).Scan(&result.UserEmail)
			if err != nil && err != sql.ErrNoRows {
				return nil, err
			}
			result.Transitioned = true
		}
		result.Order = order
	}

	return result, tx.Commit()
}

// upsertTransaction writes the update unless the ledger row already reflects a later event.
func upsertTransaction(ctx context.Context, tx *sql.Tx, u *domain.PaymentUpdate) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, order_id, reference_number, status, raw_status,
		                          paid_amount, paid_currency, last_event_at, created_at, updated_at)
		VALUES ($1, (SELECT id FROM orders WHERE id = NULLIF($2, '')), $3, $4, $5,
		        $6, NULLIF($7, ''), $8, NOW(), NOW())
		ON CONFLICT (reference_number) DO UPDATE SET
			status = EXCLUDED.status,
			raw_status = EXCLUDED.raw_status,
			paid_amount = COALESCE(EXCLUDED.paid_amount, transactions.paid_amount),
			paid_currency = COALESCE(EXCLUDED.paid_currency, transactions.paid_currency),
			order_id = COALESCE(transactions.order_id, EXCLUDED.order_id),
			last_event_at = EXCLUDED.last_event_at,
			updated_at = NOW()
		WHERE transactions.last_event_at IS NULL OR transactions.last_event_at <= EXCLUDED.last_event_at
	`, uuid.New().String(), u.OrderID, u.ReferenceNumber, u.Status, u.RawStatus,
		u.PaidAmount, u.PaidCurrency, u.OccurredAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func lockOrder(ctx context.Context, tx *sql.Tx, id string) (*domain.Order, error) {
	order := &domain.Order{}
	var total int64

	err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, status, payment_method, payment_status, total_cents, currency, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&order.ID, &order.UserID, &order.Status, &order.PaymentMethod, &order.PaymentStatus,
		&total, &order.Currency, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	order.TotalPrice = domain.Cents(total)

	return order, nil
}

func transitionOrder(ctx context.Context, tx *sql.Tx, order *domain.Order, u *domain.PaymentUpdate) error {
	order.PaymentStatus = u.Status
	order.Status = u.Status.OrderStatus()
	if u.PaymentMethod != "" {
		order.PaymentMethod = u.PaymentMethod
	}
	order.UpdatedAt = time.Now().UTC()

	_, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, payment_status = $2, payment_method = $3, updated_at = $4
		WHERE id = $5
	`, order.Status, order.PaymentStatus, order.PaymentMethod, order.UpdatedAt, order.ID)
	if err != nil {
		return err
	}

	if order.PaymentStatus != domain.PaymentStatusSucceeded {
		return nil
	}

	return clearPaidCartItems(ctx, tx, order)
}

// clearPaidCartItems takes the paid quantities out of the cart. Units added to a line after
// checkout stay in the cart.
func clearPaidCartItems(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM cart_items ci
		USING order_cart_items oci
		WHERE oci.order_id = $2
		  AND oci.cart_item_id = ci.id
		  AND ci.user_id = $1
		  AND ci.quantity <= oci.quantity
	`, order.UserID, order.ID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE cart_items ci
		SET quantity = ci.quantity - oci.quantity, updated_at = NOW()
		FROM order_cart_items oci
		WHERE oci.order_id = $2
		  AND oci.cart_item_id = ci.id
		  AND ci.user_id = $1
	`, order.UserID, order.ID)
	return err
}
