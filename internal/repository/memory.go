package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"freightdesk/internal/lifecycle"
	"freightdesk/internal/models"
)

// Memory is an in-process Store with the same transactional semantics as the
// Postgres repository: an order write and its tracking event land together
// or not at all. It backs unit tests and the dev mode.
type Memory struct {
	mu     sync.Mutex
	orders map[string]models.Order
	events map[string][]models.TrackingEvent
	seq    int64
}

func NewMemory() *Memory {
	return &Memory{
		orders: make(map[string]models.Order),
		events: make(map[string][]models.TrackingEvent),
	}
}

func (m *Memory) GetOrder(_ context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	cp := o
	return &cp, nil
}

func (m *Memory) NextOrderSeq(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

func (m *Memory) CreateOrder(_ context.Context, o *models.Order, ev *models.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = *o
	m.events[ev.OrderID] = append(m.events[ev.OrderID], *ev)
	return nil
}

func (m *Memory) UpdateOrder(_ context.Context, o *models.Order, ev *models.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		return &lifecycle.ConcurrencyConflictError{OrderID: o.ID}
	}
	m.orders[o.ID] = *o
	m.events[ev.OrderID] = append(m.events[ev.OrderID], *ev)
	return nil
}

func (m *Memory) DeleteOrder(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return false, nil
	}
	delete(m.orders, id)
	delete(m.events, id)
	return true, nil
}

func (m *Memory) InsertEvent(_ context.Context, ev *models.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.OrderID] = append(m.events[ev.OrderID], *ev)
	return nil
}

// EventsByOrder returns events most recent first, matching the SQL store.
func (m *Memory) EventsByOrder(_ context.Context, orderID string) ([]*models.TrackingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := m.events[orderID]
	out := make([]*models.TrackingEvent, 0, len(evs))
	for i := len(evs) - 1; i >= 0; i-- {
		cp := evs[i]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// List pages by id the same way the SQL store does: ascending, starting
// strictly after the cursor.
func (m *Memory) List(_ context.Context, cursor string, limit int64, customerID string) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		cp := o
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	out := make([]*models.Order, 0, len(all))
	for _, o := range all {
		if cursor != "" && o.ID <= cursor {
			continue
		}
		if customerID != "" && o.CustomerID != customerID {
			continue
		}
		out = append(out, o)
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListAll(_ context.Context) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		cp := o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CountOrders(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.orders)), nil
}

func (m *Memory) CountOrdersByStatus(_ context.Context, status models.OrderStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.orders {
		if o.OrderStatus == status {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SumOrderAmounts(_ context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, o := range m.orders {
		sum = sum.Add(o.Amount)
	}
	return sum, nil
}
