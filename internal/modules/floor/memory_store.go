// README: In-memory floor store for single-process runs and tests.
package floor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"floortwin/internal/modules/order"
	"floortwin/internal/modules/table"
	"floortwin/internal/types"
)

// MemoryStore keeps entities in maps. Transactions record undo steps, so
// transactions on different tables do not serialise on each other.
type MemoryStore struct {
	mu       sync.RWMutex
	tables   map[types.ID]table.Table
	orders   map[types.ID]order.Order
	payments map[types.ID]order.Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:   make(map[types.ID]table.Table),
		orders:   make(map[types.ID]order.Order),
		payments: make(map[types.ID]order.Payment),
	}
}

// PutTable inserts or replaces a table. Tables are provisioned
// administratively, so this lives outside Repository.
func (m *MemoryStore) PutTable(t table.Table) {
	if t.State == "" {
		t.State = table.StateAvailable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[t.ID] = t
}

// PutOrder inserts or replaces an order as-is, bypassing every rule.
func (m *MemoryStore) PutOrder(o order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	tx := &memoryTx{MemoryStore: m}
	if err := fn(ctx, tx); err != nil {
		m.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id types.ID) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, notFound("order", id)
	}
	return &o, nil
}

func (m *MemoryStore) GetTable(_ context.Context, id types.ID) (*table.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[id]
	if !ok {
		return nil, notFound("table", id)
	}
	return &t, nil
}

// LockTable is GetTable; the service's keyed mutex already serializes
// writers on a table within the process.
func (m *MemoryStore) LockTable(ctx context.Context, id types.ID) (*table.Table, error) {
	return m.GetTable(ctx, id)
}

func (m *MemoryStore) ListTables(_ context.Context, venueID types.ID) ([]*table.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*table.Table
	for _, t := range m.tables {
		if t.VenueID == venueID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) ListActiveOrders(_ context.Context, tableID types.ID) ([]*order.Order, error) {
	return m.filterOrders(func(o *order.Order) bool {
		return o.TableID == tableID && o.Active()
	}), nil
}

func (m *MemoryStore) ListActiveOrdersByVenue(_ context.Context, venueID types.ID) ([]*order.Order, error) {
	return m.filterOrders(func(o *order.Order) bool {
		return o.VenueID == venueID && o.Active()
	}), nil
}

func (m *MemoryStore) ListStaleOrders(_ context.Context, statuses []order.Status, placedBefore time.Time, venueID types.ID) ([]*order.Order, error) {
	return m.filterOrders(func(o *order.Order) bool {
		if venueID != "" && o.VenueID != venueID {
			return false
		}
		if !o.PlacedAt.Before(placedBefore) {
			return false
		}
		for _, s := range statuses {
			if o.Status == s {
				return true
			}
		}
		return false
	}), nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = *o
	return nil
}

func (m *MemoryStore) UpdateOrderStatus(_ context.Context, id types.ID, from, to order.Status, version int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok, err := m.updateOrderLocked(id, from, to, version, at)
	return ok, err
}

func (m *MemoryStore) UpdateTableState(_ context.Context, id types.ID, from, to table.State, version int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.updateTableLocked(id, from, to, version, at)
	return ok, nil
}

func (m *MemoryStore) CreatePayment(_ context.Context, p *order.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = *p
	return nil
}

func (m *MemoryStore) SumPayments(_ context.Context, orderID types.ID) (types.Money, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total types.Money
	for _, p := range m.payments {
		if p.OrderID == orderID && p.Status == order.PaymentSuccess {
			next, err := total.Add(p.Amount)
			if err != nil {
				return types.Money{}, fmt.Errorf("sum payments %s: %w", orderID, err)
			}
			total = next
		}
	}
	return total, nil
}

func (m *MemoryStore) filterOrders(keep func(*order.Order) bool) []*order.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*order.Order
	for _, o := range m.orders {
		o := o
		if keep(&o) {
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].PlacedAt.Before(out[j].PlacedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) updateOrderLocked(id types.ID, from, to order.Status, version int, at time.Time) (order.Order, bool, error) {
	o, ok := m.orders[id]
	if !ok {
		return order.Order{}, false, notFound("order", id)
	}
	if o.Status != from || o.StatusVersion != version {
		return o, false, nil
	}
	prev := o
	o.Status = to
	o.StatusVersion++
	ts := at
	switch to {
	case order.StatusServed:
		if o.ServedAt == nil {
			o.ServedAt = &ts
		}
	case order.StatusCompleted:
		if o.CompletedAt == nil {
			o.CompletedAt = &ts
		}
	case order.StatusCancelled:
		if o.CancelledAt == nil {
			o.CancelledAt = &ts
		}
	}
	m.orders[id] = o
	return prev, true, nil
}

func (m *MemoryStore) updateTableLocked(id types.ID, from, to table.State, version int, at time.Time) (table.Table, bool) {
	t, ok := m.tables[id]
	if !ok || t.State != from || t.StateVersion != version {
		return t, false
	}
	prev := t
	t.State = to
	t.StateVersion++
	t.UpdatedAt = at
	m.tables[id] = t
	return prev, true
}

// memoryTx routes writes through the store while remembering how to revert
// them. Reads go straight to the store.
type memoryTx struct {
	*MemoryStore
	undo []func()
}

func (tx *memoryTx) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	return fn(ctx, tx)
}

func (tx *memoryTx) CreateOrder(_ context.Context, o *order.Order) error {
	m := tx.MemoryStore
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = *o
	id := o.ID
	tx.undo = append(tx.undo, func() { delete(m.orders, id) })
	return nil
}

func (tx *memoryTx) UpdateOrderStatus(_ context.Context, id types.ID, from, to order.Status, version int, at time.Time) (bool, error) {
	m := tx.MemoryStore
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok, err := m.updateOrderLocked(id, from, to, version, at)
	if ok {
		tx.undo = append(tx.undo, func() { m.orders[id] = prev })
	}
	return ok, err
}

func (tx *memoryTx) UpdateTableState(_ context.Context, id types.ID, from, to table.State, version int, at time.Time) (bool, error) {
	m := tx.MemoryStore
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.updateTableLocked(id, from, to, version, at)
	if ok {
		tx.undo = append(tx.undo, func() { m.tables[id] = prev })
	}
	return ok, nil
}

func (tx *memoryTx) CreatePayment(_ context.Context, p *order.Payment) error {
	m := tx.MemoryStore
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = *p
	id := p.ID
	tx.undo = append(tx.undo, func() { delete(m.payments, id) })
	return nil
}
