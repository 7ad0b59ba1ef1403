// Package memory is an in-process order store for a single instance and
// for tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/storefront-checkout/internal/order-service/domain"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/apperr"
)

type Store struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	items  map[string][]domain.OrderItem
	byRef  map[string]string
	seq    int64
	order  map[string]int64
}

var _ domain.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		orders: make(map[string]domain.Order),
		items:  make(map[string][]domain.OrderItem),
		byRef:  make(map[string]string),
		order:  make(map[string]int64),
	}
}

func (s *Store) InsertOrder(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("memory: order %s already exists", o.ID)
	}
	if o.PaymentReference != "" {
		if _, taken := s.byRef[o.PaymentReference]; taken {
			return fmt.Errorf("memory: payment reference %s already in use", o.PaymentReference)
		}
		s.byRef[o.PaymentReference] = o.ID
	}
	s.orders[o.ID] = cloneOrder(*o)
	s.seq++
	s.order[o.ID] = s.seq
	return nil
}

func (s *Store) InsertItems(_ context.Context, orderID string, items []domain.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[orderID]; !ok {
		return &apperr.NotFoundError{Resource: "order", Key: orderID}
	}
	copied := make([]domain.OrderItem, len(items))
	for i, it := range items {
		it.OrderID = orderID
		copied[i] = it
	}
	s.items[orderID] = append(s.items[orderID], copied...)
	return nil
}

func (s *Store) DeleteOrder(_ context.Context, id string, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return &apperr.NotFoundError{Resource: "order", Key: id}
	}
	if o.Status != status {
		return domain.ErrStatusConflict
	}
	if o.PaymentReference != "" {
		delete(s.byRef, o.PaymentReference)
	}
	delete(s.orders, id)
	delete(s.items, id)
	delete(s.order, id)
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "order", Key: id}
	}
	c := cloneOrder(o)
	return &c, nil
}

func (s *Store) GetOrderByPaymentReference(_ context.Context, ref string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRef[ref]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "payment reference", Key: ref}
	}
	c := cloneOrder(s.orders[id])
	return &c, nil
}

func (s *Store) ListOrders(_ context.Context, f domain.ListFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if !f.CreatedBefore.IsZero() && !o.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.order[out[i].ID] > s.order[out[j].ID]
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ListItems(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.items[orderID]
	out := make([]domain.OrderItem, len(items))
	copy(out, items)
	return out, nil
}

func (s *Store) Stats(_ context.Context) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := domain.Stats{ByStatus: make(map[domain.Status]int), CompletedRevenue: decimal.Zero}
	for _, o := range s.orders {
		st.Total++
		st.ByStatus[o.Status]++
		if o.Status == domain.StatusCompleted {
			st.CompletedRevenue = st.CompletedRevenue.Add(o.TotalAmount)
		}
	}
	return st, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, from, to domain.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return &apperr.NotFoundError{Resource: "order", Key: id}
	}
	if o.Status != from {
		return domain.ErrStatusConflict
	}
	o.Status = to
	o.UpdatedAt = at
	s.orders[id] = o
	return nil
}

func (s *Store) SetPaymentReference(_ context.Context, id, ref string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return &apperr.NotFoundError{Resource: "order", Key: id}
	}
	if owner, taken := s.byRef[ref]; taken && owner != id {
		return fmt.Errorf("memory: payment reference %s already in use", ref)
	}
	if o.PaymentReference != "" {
		delete(s.byRef, o.PaymentReference)
	}
	o.PaymentReference = ref
	o.UpdatedAt = at
	s.orders[id] = o
	s.byRef[ref] = id
	return nil
}

func cloneOrder(o domain.Order) domain.Order {
	if o.BillingAddress != nil {
		b := *o.BillingAddress
		o.BillingAddress = &b
	}
	return o
}
