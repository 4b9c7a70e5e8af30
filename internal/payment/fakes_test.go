package payment

import (
	"context"
	"errors"
	"sync"

	"github.com/joao-fontenele/marketplace-payments/internal/domain"
	"github.com/joao-fontenele/marketplace-payments/internal/lock"
)

type fakeLocker struct {
	err      error
	locked   []string
	released int
}

func (l *fakeLocker) Lock(_ context.Context, key string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locked = append(l.locked, key)
	return func() { l.released++ }, nil
}

var _ lock.Locker = (*fakeLocker)(nil)

type fakeStore struct {
	user      *domain.User
	userErr   error
	createErr error
	orders    []*domain.Order
	txns      []*domain.Transaction
}

func (s *fakeStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	if s.userErr != nil {
		return nil, s.userErr
	}
	if s.user == nil || s.user.ID != userID {
		return nil, nil
	}
	return s.user, nil
}

func (s *fakeStore) CreatePendingOrder(_ context.Context, order *domain.Order, txn *domain.Transaction) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.orders = append(s.orders, order)
	s.txns = append(s.txns, txn)
	return nil
}

type fakeCart struct {
	lines []domain.CartLine
	err   error
}

func (c *fakeCart) Lines(context.Context, string) ([]domain.CartLine, error) {
	return c.lines, c.err
}

type fakeGateway struct {
	intent    *Intent
	createErr error
	requests  []IntentRequest
	canceled  []string
	event     *domain.GatewayEvent
	parseErr  error
	decodeErr error
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.intent, nil
}

func (g *fakeGateway) CancelPaymentIntent(_ context.Context, id string) error {
	g.canceled = append(g.canceled, id)
	return nil
}

func (g *fakeGateway) ParseEvent(payload []byte, signature string) (*domain.GatewayEvent, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	if signature != "valid" {
		return nil, errors.New("signature mismatch")
	}
	if g.decodeErr != nil {
		return nil, g.decodeErr
	}
	return g.event, nil
}

// fakeLedger mirrors the Postgres ledger semantics in memory.
type fakeLedger struct {
	mu        sync.Mutex
	err       error
	seen      map[string]bool
	txns      map[string]*domain.Transaction
	orders    map[string]*domain.Order
	emails    map[string]string
	cartItems map[string]int
	applied   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		seen:      map[string]bool{},
		txns:      map[string]*domain.Transaction{},
		orders:    map[string]*domain.Order{},
		emails:    map[string]string{},
		cartItems: map[string]int{},
	}
}

func (l *fakeLedger) ApplyPaymentEvent(_ context.Context, event *domain.GatewayEvent, u *domain.PaymentUpdate) (*domain.ApplyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return nil, l.err
	}
	if l.seen[event.ID] {
		return &domain.ApplyResult{Duplicate: true}, nil
	}
	l.seen[event.ID] = true
	l.applied++

	res := &domain.ApplyResult{}
	if u == nil {
		return res, nil
	}

	txn, ok := l.txns[u.ReferenceNumber]
	if !ok {
		txn = &domain.Transaction{ReferenceNumber: u.ReferenceNumber, OrderID: u.OrderID}
		l.txns[u.ReferenceNumber] = txn
	}
	if txn.LastEventAt == nil || !txn.LastEventAt.After(u.OccurredAt) {
		txn.Status = u.Status
		txn.RawStatus = u.RawStatus
		if u.PaidAmount.Valid {
			txn.PaidAmount = u.PaidAmount
			txn.PaidCurrency = u.PaidCurrency
		}
		at := u.OccurredAt
		txn.LastEventAt = &at
		res.LedgerApplied = true
	}

	orderID := u.OrderID
	if orderID == "" {
		orderID = txn.OrderID
	}
	order := l.orders[orderID]
	if order != nil && res.LedgerApplied && order.PaymentStatus.CanTransitionTo(u.Status) {
		order.PaymentStatus = u.Status
		order.Status = u.Status.OrderStatus()
		if u.PaymentMethod != "" {
			order.PaymentMethod = u.PaymentMethod
		}
		if u.Status == domain.PaymentStatusSucceeded {
			for _, item := range order.Items {
				qty, ok := l.cartItems[item.CartItemID]
				if !ok {
					continue
				}
				if qty <= item.Quantity {
					delete(l.cartItems, item.CartItemID)
				} else {
					l.cartItems[item.CartItemID] = qty - item.Quantity
				}
			}
		}
		res.UserEmail = l.emails[order.UserID]
		res.Transitioned = true
	}
	if order != nil {
		copied := *order
		res.Order = &copied
	}
	return res, nil
}

type published struct {
	key       string
	eventType string
	event     any
}

type fakePublisher struct {
	err      error
	messages []published
}

func (p *fakePublisher) Publish(_ context.Context, key, eventType string, event any) error {
	p.messages = append(p.messages, published{key: key, eventType: eventType, event: event})
	return p.err
}
