// README: Coordinator tests on the in-memory store (scenarios, overrides, payments).
package floor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floortwin/internal/broadcast"
	"floortwin/internal/modules/order"
	"floortwin/internal/modules/table"
	"floortwin/internal/types"
)

var baseTime = time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

type published struct {
	event  broadcast.Event
	topics []broadcast.Topic
}

// recorder is a Publisher that keeps everything it is given.
type recorder struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (r *recorder) Publish(_ context.Context, e broadcast.Event, topics ...broadcast.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{event: e, topics: topics})
	return r.err
}

func (r *recorder) ofType(t broadcast.EventType) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, p := range r.events {
		if p.event.Type == t {
			out = append(out, p)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store *MemoryStore
	pub   *recorder
	clock *clock
	svc   *Service
}

func newFixture(t *testing.T, tables ...types.ID) *fixture {
	t.Helper()
	f := &fixture{
		store: NewMemoryStore(),
		pub:   &recorder{},
		clock: &clock{now: baseTime},
	}
	for _, id := range tables {
		f.store.PutTable(table.Table{ID: id, VenueID: "v1", Name: string(id), Capacity: 4})
	}
	f.svc = NewService(f.store, f.pub, WithClock(f.clock.Now))
	return f
}

func (f *fixture) tableState(t *testing.T, id types.ID) table.State {
	t.Helper()
	tb, err := f.store.GetTable(context.Background(), id)
	require.NoError(t, err)
	return tb.State
}

func (f *fixture) place(t *testing.T, tableID types.ID) *order.Order {
	t.Helper()
	out, err := f.svc.CreateOrder(context.Background(), CreateCommand{
		TableID: tableID,
		Total:   types.Money{Amount: 4500, Currency: "INR"},
	})
	require.NoError(t, err)
	return out.Order
}

func (f *fixture) move(t *testing.T, id types.ID, to order.Status) *Outcome {
	t.Helper()
	out, err := f.svc.ApplyTransition(context.Background(), id, to)
	require.NoError(t, err)
	return out
}

func TestScenarioPlaceServeComplete(t *testing.T) {
	f := newFixture(t, "T1")

	o1 := f.place(t, "T1")
	assert.Equal(t, order.StatusPlaced, o1.Status)
	assert.Equal(t, types.ID("v1"), o1.VenueID)
	assert.Equal(t, table.StateWaiting, f.tableState(t, "T1"))

	out := f.move(t, o1.ID, order.StatusServed)
	assert.True(t, out.TableChanged)
	assert.Equal(t, table.StateWaiting, out.OldTableState)
	assert.Equal(t, table.StateServed, out.NewTableState)
	assert.Equal(t, table.StateServed, f.tableState(t, "T1"))

	f.move(t, o1.ID, order.StatusCompleted)
	assert.Equal(t, table.StateAvailable, f.tableState(t, "T1"))

	stored, err := f.svc.GetOrder(context.Background(), o1.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, stored.Status)
	assert.NotNil(t, stored.ServedAt)
	assert.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.CancelledAt)

	changes := f.pub.ofType(broadcast.EventTableStateChanged)
	require.Len(t, changes, 3)
	assert.Equal(t, "AVAILABLE", changes[0].event.OldStatus)
	assert.Equal(t, "WAITING", changes[0].event.NewStatus)
	assert.Equal(t, "SERVED", changes[1].event.NewStatus)
	assert.Equal(t, "AVAILABLE", changes[2].event.NewStatus)
	assert.ElementsMatch(t, []broadcast.Topic{"venue:v1", "table:T1"}, changes[0].topics)

	require.Len(t, f.pub.ofType(broadcast.EventOrderCreated), 1)
	require.Len(t, f.pub.ofType(broadcast.EventOrderStatusChanged), 2)
	completed := f.pub.ofType(broadcast.EventOrderCompleted)
	require.Len(t, completed, 1)
	require.NotNil(t, completed[0].event.Total)
	assert.Equal(t, int64(4500), completed[0].event.Total.Amount)
	assert.Contains(t, completed[0].topics, broadcast.GlobalOrdersTopic)
}

func TestScenarioCompletingServedOrderFallsBackToWaiting(t *testing.T) {
	f := newFixture(t, "T2")

	o2 := f.place(t, "T2")
	o3 := f.place(t, "T2")
	f.move(t, o3.ID, order.StatusServed)
	require.Equal(t, table.StateServed, f.tableState(t, "T2"))

	out := f.move(t, o3.ID, order.StatusCompleted)
	assert.Equal(t, table.StateWaiting, out.NewTableState)
	assert.Equal(t, table.StateWaiting, f.tableState(t, "T2"))

	f.move(t, o2.ID, order.StatusCancelled)
	assert.Equal(t, table.StateAvailable, f.tableState(t, "T2"))
}

func TestTableEventPublishedBeforeOrderEvent(t *testing.T) {
	f := newFixture(t, "T1")
	o := f.place(t, "T1")
	f.pub.reset()

	f.move(t, o.ID, order.StatusServed)

	require.Len(t, f.pub.events, 2)
	assert.Equal(t, broadcast.EventTableStateChanged, f.pub.events[0].event.Type)
	assert.Equal(t, broadcast.EventOrderStatusChanged, f.pub.events[1].event.Type)
	assert.Equal(t, "PLACED", f.pub.events[1].event.OldStatus)
	assert.Equal(t, "SERVED", f.pub.events[1].event.NewStatus)
}

func TestCreateWithInitialReadyRejected(t *testing.T) {
	f := newFixture(t, "T1")

	_, err := f.svc.CreateOrder(context.Background(), CreateCommand{TableID: "T1", Status: order.StatusReady})
	require.ErrorIs(t, err, order.ErrInvalidTransition)

	var ite *order.InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	assert.Nil(t, ite.From)
	assert.Equal(t, order.StatusReady, ite.To)

	active, err := f.svc.ActiveOrders(context.Background(), "v1")
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Empty(t, f.pub.events)
	assert.Equal(t, table.StateAvailable, f.tableState(t, "T1"))
}

func TestCreateOnUnknownTable(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), CreateCommand{TableID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "table", nf.Kind)
}

func TestInvalidTransitionMutatesNothing(t *testing.T) {
	f := newFixture(t, "T1")
	o := f.place(t, "T1")
	f.move(t, o.ID, order.StatusServed)
	f.pub.reset()

	_, err := f.svc.ApplyTransition(context.Background(), o.ID, order.StatusPlaced)
	require.ErrorIs(t, err, order.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "SERVED")
	assert.Contains(t, err.Error(), "PLACED")

	stored, err := f.svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusServed, stored.Status)
	assert.Equal(t, 1, stored.StatusVersion)
	assert.Equal(t, table.StateServed, f.tableState(t, "T1"))
	assert.Empty(t, f.pub.events)
}

func TestTerminalOrdersStayTerminal(t *testing.T) {
	f := newFixture(t, "T1")
	o := f.place(t, "T1")
	f.move(t, o.ID, order.StatusCancelled)

	for _, to := range []order.Status{order.StatusPlaced, order.StatusServed, order.StatusCompleted, order.StatusCancelled} {
		_, err := f.svc.ApplyTransition(context.Background(), o.ID, to)
		assert.ErrorIs(t, err, order.ErrInvalidTransition, "CANCELLED -> %s", to)
	}
	stored, err := f.svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.CancelledAt)
}

func TestTransitionUnknownOrder(t *testing.T) {
	f := newFixture(t, "T1")
	_, err := f.svc.ApplyTransition(context.Background(), "missing", order.StatusServed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPublishFailureDoesNotUndoChange(t *testing.T) {
	f := newFixture(t, "T1")
	f.pub.err = errors.New("bus down")

	o := f.place(t, "T1")
	out := f.move(t, o.ID, order.StatusServed)
	assert.Equal(t, table.StateServed, out.NewTableState)
	assert.Equal(t, table.StateServed, f.tableState(t, "T1"))
}

func TestOutOfServiceWinsOverOrderRecompute(t *testing.T) {
	f := newFixture(t, "T1")
	ctx := context.Background()

	change, err := f.svc.SetTableState(ctx, "T1", table.StateOutOfService)
	require.NoError(t, err)
	assert.True(t, change.Changed)
	require.Len(t, f.pub.ofType(broadcast.EventTableStateChanged), 1)

	o := f.place(t, "T1")
	f.move(t, o.ID, order.StatusServed)
	assert.Equal(t, table.StateOutOfService, f.tableState(t, "T1"))
	assert.Len(t, f.pub.ofType(broadcast.EventTableStateChanged), 1)

	again, err := f.svc.SetTableState(ctx, "T1", table.StateOutOfService)
	require.NoError(t, err)
	assert.False(t, again.Changed)

	back, err := f.svc.RecomputeTable(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, back.Changed)
	assert.Equal(t, table.StateOutOfService, back.Old)
	assert.Equal(t, table.StateServed, back.New)
	assert.Equal(t, table.StateServed, f.tableState(t, "T1"))
}

func TestRecomputeWithoutChange(t *testing.T) {
	f := newFixture(t, "T1")
	change, err := f.svc.RecomputeTable(context.Background(), "T1")
	require.NoError(t, err)
	assert.False(t, change.Changed)
	assert.Equal(t, table.StateAvailable, change.New)
	assert.Empty(t, f.pub.events)
}

func TestPaymentSettlesServedOrder(t *testing.T) {
	f := newFixture(t, "T1")
	ctx := context.Background()
	o := f.place(t, "T1")
	f.move(t, o.ID, order.StatusServed)

	first, err := f.svc.RecordPayment(ctx, PaymentCommand{
		OrderID: o.ID,
		Amount:  types.Money{Amount: 2000},
		Method:  order.MethodCard,
	})
	require.NoError(t, err)
	assert.False(t, first.Settled)
	assert.Nil(t, first.Outcome)
	assert.Equal(t, int64(2000), first.Paid.Amount)
	assert.Equal(t, "INR", first.Payment.Amount.Currency)
	assert.Equal(t, table.StateServed, f.tableState(t, "T1"))

	second, err := f.svc.RecordPayment(ctx, PaymentCommand{
		OrderID: o.ID,
		Amount:  types.Money{Amount: 2500},
		Tip:     types.Money{Amount: 300},
	})
	require.NoError(t, err)
	assert.True(t, second.Settled)
	assert.Equal(t, order.MethodCash, second.Payment.Method)
	require.NotNil(t, second.Outcome)
	assert.Equal(t, order.StatusCompleted, second.Outcome.NewStatus)
	assert.Equal(t, table.StateAvailable, f.tableState(t, "T1"))
	assert.Len(t, f.pub.ofType(broadcast.EventOrderCompleted), 1)
}

func TestPaymentOnUnservedOrderRollsBack(t *testing.T) {
	f := newFixture(t, "T1")
	ctx := context.Background()
	o := f.place(t, "T1")

	_, err := f.svc.RecordPayment(ctx, PaymentCommand{OrderID: o.ID, Amount: types.Money{Amount: 4500}})
	require.ErrorIs(t, err, order.ErrInvalidTransition)

	paid, err := f.store.SumPayments(ctx, o.ID)
	require.NoError(t, err)
	assert.Zero(t, paid.Amount)

	stored, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPlaced, stored.Status)
}

func TestPaymentValidation(t *testing.T) {
	f := newFixture(t, "T1")
	ctx := context.Background()
	o := f.place(t, "T1")
	f.move(t, o.ID, order.StatusCancelled)

	_, err := f.svc.RecordPayment(ctx, PaymentCommand{OrderID: o.ID, Amount: types.Money{Amount: 0}})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = f.svc.RecordPayment(ctx, PaymentCommand{OrderID: o.ID, Amount: types.Money{Amount: 100}})
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestPaymentInOtherCurrencyRejected(t *testing.T) {
	f := newFixture(t, "T1")
	ctx := context.Background()
	o := f.place(t, "T1")
	f.move(t, o.ID, order.StatusServed)
	f.pub.reset()

	_, err := f.svc.RecordPayment(ctx, PaymentCommand{
		OrderID: o.ID,
		Amount:  types.Money{Amount: 4500, Currency: "USD"},
	})
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = f.svc.RecordPayment(ctx, PaymentCommand{
		OrderID: o.ID,
		Amount:  types.Money{Amount: 4500, Currency: "INR"},
		Tip:     types.Money{Amount: 100, Currency: "USD"},
	})
	require.ErrorIs(t, err, ErrBadRequest)

	paid, err := f.store.SumPayments(ctx, o.ID)
	require.NoError(t, err)
	assert.Zero(t, paid.Amount)

	stored, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusServed, stored.Status)
	assert.Equal(t, table.StateServed, f.tableState(t, "T1"))
	assert.Empty(t, f.pub.events)
}

func TestMemorySumPaymentsRejectsMixedCurrencies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreatePayment(ctx, &order.Payment{
		ID: "p1", OrderID: "o1", Amount: types.Money{Amount: 100, Currency: "INR"}, Status: order.PaymentSuccess,
	}))
	require.NoError(t, store.CreatePayment(ctx, &order.Payment{
		ID: "p2", OrderID: "o1", Amount: types.Money{Amount: 100, Currency: "USD"}, Status: order.PaymentSuccess,
	}))

	_, err := store.SumPayments(ctx, "o1")
	assert.ErrorIs(t, err, types.ErrCurrencyMismatch)
}

func TestFloorSnapshotAndActiveOrders(t *testing.T) {
	f := newFixture(t, "T1", "T2")
	ctx := context.Background()
	f.store.PutTable(table.Table{ID: "X1", VenueID: "v2", Name: "X1"})

	o1 := f.place(t, "T1")
	f.clock.Advance(time.Minute)
	o2 := f.place(t, "T2")
	f.move(t, o1.ID, order.StatusCancelled)

	tables, err := f.svc.FloorSnapshot(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, table.StateAvailable, tables[0].State)
	assert.Equal(t, table.StateWaiting, tables[1].State)

	active, err := f.svc.ActiveOrders(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, o2.ID, active[0].ID)

	_, err = f.svc.FloorSnapshot(ctx, "")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestConcurrentTransitionsOnSameTable(t *testing.T) {
	f := newFixture(t, "T1")
	const n = 20
	ids := make([]types.ID, n)
	for i := range ids {
		ids[i] = f.place(t, "T1").ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := f.svc.ApplyTransition(context.Background(), id, order.StatusServed)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()
	assert.Equal(t, table.StateServed, f.tableState(t, "T1"))

	for _, id := range ids {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := f.svc.ApplyTransition(context.Background(), id, order.StatusCompleted)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()
	assert.Equal(t, table.StateAvailable, f.tableState(t, "T1"))
	assert.Zero(t, f.svc.locks.size())
}

func TestConcurrentTransitionsAcrossTables(t *testing.T) {
	const tables = 8
	ids := make([]types.ID, tables)
	for i := range ids {
		ids[i] = types.ID(fmt.Sprintf("T%d", i))
	}
	f := newFixture(t, ids...)

	var wg sync.WaitGroup
	for _, tid := range ids {
		wg.Add(1)
		go func(tid types.ID) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				out, err := f.svc.CreateOrder(context.Background(), CreateCommand{TableID: tid})
				if !assert.NoError(t, err) {
					return
				}
				_, err = f.svc.ApplyTransition(context.Background(), out.Order.ID, order.StatusServed)
				assert.NoError(t, err)
				_, err = f.svc.ApplyTransition(context.Background(), out.Order.ID, order.StatusCompleted)
				assert.NoError(t, err)
			}
		}(tid)
	}
	wg.Wait()

	for _, tid := range ids {
		assert.Equal(t, table.StateAvailable, f.tableState(t, tid), tid)
	}
}

func TestRacingTransitionsOnSameOrder(t *testing.T) {
	f := newFixture(t, "T1")
	o := f.place(t, "T1")
	f.move(t, o.ID, order.StatusServed)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, to := range []order.Status{order.StatusCompleted, order.StatusCancelled} {
		wg.Add(1)
		go func(to order.Status) {
			defer wg.Done()
			_, err := f.svc.ApplyTransition(context.Background(), o.ID, to)
			errs <- err
		}(to)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		assert.ErrorIs(t, err, order.ErrInvalidTransition)
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, table.StateAvailable, f.tableState(t, "T1"))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(ErrBadRequest))
	assert.True(t, IsClientError(notFound("order", "o1")))
	assert.True(t, IsClientError(order.Validate(nil, order.StatusReady)))
	assert.False(t, IsClientError(ErrConflict))
	assert.False(t, IsClientError(nil))
}

// lockSpy records which tables were locked inside a transaction.
type lockSpy struct {
	Repository
	mu     *sync.Mutex
	locked *[]types.ID
	inTx   bool
}

func (r *lockSpy) LockTable(ctx context.Context, id types.ID) (*table.Table, error) {
	if r.inTx {
		r.mu.Lock()
		*r.locked = append(*r.locked, id)
		r.mu.Unlock()
	}
	return r.Repository.LockTable(ctx, id)
}

func (r *lockSpy) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	return r.Repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		return fn(ctx, &lockSpy{Repository: tx, mu: r.mu, locked: r.locked, inTx: true})
	})
}

func TestWritesLockTableInsideTransaction(t *testing.T) {
	store := NewMemoryStore()
	store.PutTable(table.Table{ID: "T1", VenueID: "v1", Name: "T1"})
	var locked []types.ID
	spy := &lockSpy{Repository: store, mu: &sync.Mutex{}, locked: &locked}
	clk := &clock{now: baseTime}
	svc := NewService(spy, &recorder{}, WithClock(clk.Now))
	ctx := context.Background()

	created, err := svc.CreateOrder(ctx, CreateCommand{TableID: "T1", Total: types.Money{Amount: 100, Currency: "INR"}})
	require.NoError(t, err)
	_, err = svc.ApplyTransition(ctx, created.Order.ID, order.StatusServed)
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, PaymentCommand{OrderID: created.Order.ID, Amount: types.Money{Amount: 100}})
	require.NoError(t, err)
	_, err = svc.SetTableState(ctx, "T1", table.StateOutOfService)
	require.NoError(t, err)
	_, err = svc.RecomputeTable(ctx, "T1")
	require.NoError(t, err)

	other, err := svc.CreateOrder(ctx, CreateCommand{TableID: "T1"})
	require.NoError(t, err)
	_, err = svc.Sweep(ctx, SweepOptions{Now: other.Order.PlacedAt.Add(time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, []types.ID{"T1", "T1", "T1", "T1", "T1", "T1", "T1"}, locked)
}
