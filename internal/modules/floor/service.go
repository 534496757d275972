// README: Floor coordinator: validate, persist, recompute the table, then broadcast.
package floor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"floortwin/internal/broadcast"
	"floortwin/internal/modules/order"
	"floortwin/internal/modules/table"
	"floortwin/internal/types"
)

type Service struct {
	repo  Repository
	pub   broadcast.Publisher
	locks *keyedMutex
	now   func() time.Time
	log   logrus.FieldLogger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(repo Repository, pub broadcast.Publisher, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		pub:   pub,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	return s
}

type CreateCommand struct {
	TableID types.ID
	// Status defaults to PLACED; anything else is rejected.
	Status       order.Status
	CustomerName string
	PartySize    int
	Total        types.Money
}

type PaymentCommand struct {
	OrderID       types.ID
	Amount        types.Money
	Tip           types.Money
	Method        order.PaymentMethod
	TransactionID string
}

// Outcome describes one applied order transition and its effect on the
// owning table.
type Outcome struct {
	Order *order.Order `json:"order"`
	// OldStatus is nil when the order was created.
	OldStatus     *order.Status `json:"old_status,omitempty"`
	NewStatus     order.Status  `json:"new_status"`
	OldTableState table.State   `json:"old_table_state"`
	NewTableState table.State   `json:"new_table_state"`
	TableChanged  bool          `json:"table_changed"`
}

type PaymentResult struct {
	Payment *order.Payment `json:"payment"`
	Paid    types.Money    `json:"paid"`
	Settled bool           `json:"settled"`
	// Outcome is set when the payment settled the order.
	Outcome *Outcome `json:"outcome,omitempty"`
}

type TableChange struct {
	TableID types.ID    `json:"table_id"`
	VenueID types.ID    `json:"venue_id"`
	Old     table.State `json:"old_state"`
	New     table.State `json:"new_state"`
	Changed bool        `json:"changed"`
}

func (s *Service) CreateOrder(ctx context.Context, cmd CreateCommand) (*Outcome, error) {
	if cmd.TableID == "" {
		return nil, ErrBadRequest
	}
	initial := cmd.Status
	if initial == "" {
		initial = order.InitialStatus
	}
	if err := order.Validate(nil, initial); err != nil {
		return nil, err
	}
	if cmd.PartySize <= 0 {
		cmd.PartySize = 1
	}
	if cmd.Total.Amount < 0 {
		return nil, ErrBadRequest
	}

	unlock := s.locks.Lock(cmd.TableID)
	defer unlock()

	now := s.now()
	var out *Outcome
	var pending []emission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		tb, err := tx.LockTable(ctx, cmd.TableID)
		if err != nil {
			return err
		}
		o := &order.Order{
			ID:           types.NewID(),
			TableID:      tb.ID,
			VenueID:      tb.VenueID,
			Status:       initial,
			CustomerName: cmd.CustomerName,
			PartySize:    cmd.PartySize,
			Total:        cmd.Total,
			PlacedAt:     now,
		}
		if err := tx.CreateOrder(ctx, o); err != nil {
			return err
		}

		oldState := tb.State
		change, err := s.recompute(ctx, tx, tb, now, false)
		if err != nil {
			return err
		}
		if change != nil {
			pending = append(pending, *change)
		}
		pending = append(pending, orderCreated(o, now))
		out = &Outcome{
			Order:         o,
			NewStatus:     o.Status,
			OldTableState: oldState,
			NewTableState: tb.State,
			TableChanged:  change != nil,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id": out.Order.ID,
		"table_id": out.Order.TableID,
	}).Info("order created")
	s.emit(ctx, pending)
	return out, nil
}

// ApplyTransition moves an order to a new status and re-derives its table's
// display state from the stored active orders. Validation runs before any
// write; publish failures are logged and never undo the stored change.
func (s *Service) ApplyTransition(ctx context.Context, orderID types.ID, to order.Status) (*Outcome, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(o.TableID)
	defer unlock()

	now := s.now()
	var out *Outcome
	var pending []emission
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		tb, err := tx.LockTable(ctx, o.TableID)
		if err != nil {
			return err
		}
		cur, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		out, pending, err = s.transition(ctx, tx, cur, tb, to, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, pending)
	return out, nil
}

// RecordPayment stores a successful payment. When the order's successful
// payments cover its total, the order is completed in the same transaction;
// if completion is not allowed the payment is rolled back as well.
func (s *Service) RecordPayment(ctx context.Context, cmd PaymentCommand) (*PaymentResult, error) {
	if cmd.OrderID == "" || cmd.Amount.Amount <= 0 || cmd.Tip.Amount < 0 {
		return nil, ErrBadRequest
	}
	if cmd.Method == "" {
		cmd.Method = order.MethodCash
	}
	o, err := s.repo.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(o.TableID)
	defer unlock()

	now := s.now()
	var res *PaymentResult
	var pending []emission
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		tb, err := tx.LockTable(ctx, o.TableID)
		if err != nil {
			return err
		}
		cur, err := tx.GetOrder(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			st := cur.Status
			return &order.InvalidTransitionError{From: &st, To: order.StatusCompleted}
		}
		if cmd.Amount.Currency == "" {
			cmd.Amount.Currency = cur.Total.Currency
		}
		if cmd.Tip.Currency == "" {
			cmd.Tip.Currency = cmd.Amount.Currency
		}
		if !cmd.Amount.SameCurrency(cur.Total) || !cmd.Tip.SameCurrency(cmd.Amount) {
			return fmt.Errorf("%w: payment in %s for an order in %s",
				ErrBadRequest, cmd.Amount.Currency, cur.Total.Currency)
		}
		p := &order.Payment{
			ID:            types.NewID(),
			OrderID:       cur.ID,
			Amount:        cmd.Amount,
			Tip:           cmd.Tip,
			Method:        cmd.Method,
			Status:        order.PaymentSuccess,
			TransactionID: cmd.TransactionID,
			CreatedAt:     now,
		}
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}
		paid, err := tx.SumPayments(ctx, cur.ID)
		if err != nil {
			return err
		}
		res = &PaymentResult{Payment: p, Paid: paid}
		if !paid.Covers(cur.Total) {
			return nil
		}

		res.Outcome, pending, err = s.transition(ctx, tx, cur, tb, order.StatusCompleted, now)
		if err != nil {
			return err
		}
		res.Settled = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id": cmd.OrderID,
		"amount":   cmd.Amount.Amount,
		"settled":  res.Settled,
	}).Info("payment recorded")
	s.emit(ctx, pending)
	return res, nil
}

// SetTableState is the administrative override. It bypasses the rule engine
// but still tells subscribers about the change.
func (s *Service) SetTableState(ctx context.Context, tableID types.ID, state table.State) (*TableChange, error) {
	if tableID == "" || state == "" {
		return nil, ErrBadRequest
	}
	unlock := s.locks.Lock(tableID)
	defer unlock()

	now := s.now()
	var out *TableChange
	var pending []emission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		tb, err := tx.LockTable(ctx, tableID)
		if err != nil {
			return err
		}
		out = &TableChange{TableID: tb.ID, VenueID: tb.VenueID, Old: tb.State, New: state}
		if tb.State == state {
			return nil
		}
		ok, err := tx.UpdateTableState(ctx, tb.ID, tb.State, state, tb.StateVersion, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		out.Changed = true
		pending = append(pending, tableStateChanged(tb, tb.State, state, now))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Changed {
		s.log.WithFields(logrus.Fields{
			"table_id": tableID,
			"from":     out.Old,
			"to":       out.New,
		}).Info("table state overridden")
	}
	s.emit(ctx, pending)
	return out, nil
}

// RecomputeTable re-derives a table's state from its active orders, clearing
// any ALARM or OUT_OF_SERVICE. It returns a table to order-driven control.
func (s *Service) RecomputeTable(ctx context.Context, tableID types.ID) (*TableChange, error) {
	if tableID == "" {
		return nil, ErrBadRequest
	}
	unlock := s.locks.Lock(tableID)
	defer unlock()

	now := s.now()
	var out *TableChange
	var pending []emission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		tb, err := tx.LockTable(ctx, tableID)
		if err != nil {
			return err
		}
		out = &TableChange{TableID: tb.ID, VenueID: tb.VenueID, Old: tb.State}
		change, err := s.recompute(ctx, tx, tb, now, true)
		if err != nil {
			return err
		}
		out.New = tb.State
		if change != nil {
			out.Changed = true
			pending = append(pending, *change)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, pending)
	return out, nil
}

func (s *Service) GetOrder(ctx context.Context, id types.ID) (*order.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

func (s *Service) GetTable(ctx context.Context, id types.ID) (*table.Table, error) {
	return s.repo.GetTable(ctx, id)
}

// FloorSnapshot is the full table state of a venue, sent to viewers before
// they start receiving deltas.
func (s *Service) FloorSnapshot(ctx context.Context, venueID types.ID) ([]*table.Table, error) {
	if venueID == "" {
		return nil, ErrBadRequest
	}
	return s.repo.ListTables(ctx, venueID)
}

func (s *Service) ActiveOrders(ctx context.Context, venueID types.ID) ([]*order.Order, error) {
	if venueID == "" {
		return nil, ErrBadRequest
	}
	return s.repo.ListActiveOrdersByVenue(ctx, venueID)
}

// transition runs inside the table lock and a store transaction. It mutates
// cur and tb in place to reflect what was written.
func (s *Service) transition(ctx context.Context, tx Repository, cur *order.Order, tb *table.Table, to order.Status, now time.Time) (*Outcome, []emission, error) {
	from := cur.Status
	if err := order.Validate(&from, to); err != nil {
		return nil, nil, err
	}

	ok, err := tx.UpdateOrderStatus(ctx, cur.ID, from, to, cur.StatusVersion, now)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrConflict
	}
	cur.Status = to
	cur.StatusVersion++
	stamp(cur, to, now)

	oldState := tb.State
	change, err := s.recompute(ctx, tx, tb, now, false)
	if err != nil {
		return nil, nil, err
	}

	var pending []emission
	if change != nil {
		pending = append(pending, *change)
	}
	pending = append(pending, orderStatusChanged(cur, from, to, now))
	if to == order.StatusCompleted {
		pending = append(pending, orderCompleted(cur, now))
	}

	s.log.WithFields(logrus.Fields{
		"order_id": cur.ID,
		"table_id": cur.TableID,
		"from":     from,
		"to":       to,
	}).Info("order status changed")

	return &Outcome{
		Order:         cur,
		OldStatus:     &from,
		NewStatus:     to,
		OldTableState: oldState,
		NewTableState: tb.State,
		TableChanged:  change != nil,
	}, pending, nil
}

// recompute re-reads the active orders of tb and stores the derived state
// when it differs. OUT_OF_SERVICE tables are left alone unless force is set.
func (s *Service) recompute(ctx context.Context, tx Repository, tb *table.Table, now time.Time, force bool) (*emission, error) {
	if !force && !tb.AcceptsDerived() {
		return nil, nil
	}
	active, err := tx.ListActiveOrders(ctx, tb.ID)
	if err != nil {
		return nil, err
	}
	next := table.DeriveFromOrders(active)
	if next == tb.State {
		return nil, nil
	}
	ok, err := tx.UpdateTableState(ctx, tb.ID, tb.State, next, tb.StateVersion, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	e := tableStateChanged(tb, tb.State, next, now)
	tb.State = next
	tb.StateVersion++
	tb.UpdatedAt = now
	return &e, nil
}

// emit publishes after commit. Delivery is best effort: failures are logged.
func (s *Service) emit(ctx context.Context, pending []emission) {
	if s.pub == nil {
		return
	}
	for _, em := range pending {
		if err := s.pub.Publish(ctx, em.event, em.topics...); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"event_type": em.event.Type,
				"table_id":   em.event.TableID,
			}).Warn("broadcast failed")
		}
	}
}

func stamp(o *order.Order, to order.Status, now time.Time) {
	ts := now
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
}

// IsClientError reports errors caused by the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, order.ErrInvalidTransition) ||
		errors.Is(err, order.ErrUnknownStatus)
}
