// README: Floor store backed by PostgreSQL (orders, tables, payments).
package floor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"floortwin/internal/modules/order"
	"floortwin/internal/modules/table"
	"floortwin/internal/types"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
	q    querier
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{pool: db, q: db}
}

const orderColumns = `
    id, table_id, venue_id, status, status_version,
    COALESCE(customer_name, ''), party_size, total_amount, currency,
    placed_at, served_at, completed_at, cancelled_at`

const tableColumns = `id, venue_id, name, capacity, state, state_version, updated_at`

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if s.pool == nil {
		// already inside a transaction
		return fn(ctx, s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Store{q: tx})
	})
}

func (s *Store) GetOrder(ctx context.Context, id types.ID) (*order.Order, error) {
	row := s.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *Store) GetTable(ctx context.Context, id types.ID) (*table.Table, error) {
	row := s.q.QueryRow(ctx, `SELECT `+tableColumns+` FROM floor_tables WHERE id = $1`, string(id))
	t, err := scanTable(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("table", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get table %s: %w", id, err)
	}
	return t, nil
}

// LockTable is GetTable with FOR UPDATE. Outside WithTx the lock is released
// as soon as the statement ends.
func (s *Store) LockTable(ctx context.Context, id types.ID) (*table.Table, error) {
	row := s.q.QueryRow(ctx, `SELECT `+tableColumns+` FROM floor_tables WHERE id = $1 FOR UPDATE`, string(id))
	t, err := scanTable(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("table", id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock table %s: %w", id, err)
	}
	return t, nil
}

func (s *Store) ListTables(ctx context.Context, venueID types.ID) ([]*table.Table, error) {
	rows, err := s.q.Query(ctx, `
        SELECT `+tableColumns+`
        FROM floor_tables
        WHERE venue_id = $1
        ORDER BY name, id`, string(venueID),
	)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []*table.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListActiveOrders(ctx context.Context, tableID types.ID) ([]*order.Order, error) {
	return s.queryOrders(ctx, `
        SELECT `+orderColumns+`
        FROM orders
        WHERE table_id = $1 AND status = ANY($2)
        ORDER BY placed_at`, string(tableID), statusStrings(order.ActiveStatuses),
	)
}

func (s *Store) ListActiveOrdersByVenue(ctx context.Context, venueID types.ID) ([]*order.Order, error) {
	return s.queryOrders(ctx, `
        SELECT `+orderColumns+`
        FROM orders
        WHERE venue_id = $1 AND status = ANY($2)
        ORDER BY placed_at`, string(venueID), statusStrings(order.ActiveStatuses),
	)
}

func (s *Store) ListStaleOrders(ctx context.Context, statuses []order.Status, placedBefore time.Time, venueID types.ID) ([]*order.Order, error) {
	return s.queryOrders(ctx, `
        SELECT `+orderColumns+`
        FROM orders
        WHERE status = ANY($1)
          AND placed_at < $2
          AND ($3::text = '' OR venue_id = $3)
        ORDER BY table_id, placed_at`, statusStrings(statuses), placedBefore, string(venueID),
	)
}

func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	_, err := s.q.Exec(ctx, `
        INSERT INTO orders (
            id, table_id, venue_id, status, status_version,
            customer_name, party_size, total_amount, currency, placed_at
        ) VALUES (
            $1, $2, $3, $4, $5,
            NULLIF($6, ''), $7, $8, $9, $10
        )`,
		string(o.ID),
		string(o.TableID),
		string(o.VenueID),
		string(o.Status),
		o.StatusVersion,
		o.CustomerName,
		o.PartySize,
		o.Total.Amount,
		o.Total.Currency,
		o.PlacedAt,
	)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// UpdateOrderStatus moves an order from one status to another when its
// version still matches. Lifecycle timestamps are only set once.
func (s *Store) UpdateOrderStatus(ctx context.Context, id types.ID, from, to order.Status, version int, at time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx, `
        UPDATE orders
        SET status = $1,
            status_version = status_version + 1,
            served_at = CASE WHEN $1 = 'SERVED' AND served_at IS NULL THEN $2 ELSE served_at END,
            completed_at = CASE WHEN $1 = 'COMPLETED' AND completed_at IS NULL THEN $2 ELSE completed_at END,
            cancelled_at = CASE WHEN $1 = 'CANCELLED' AND cancelled_at IS NULL THEN $2 ELSE cancelled_at END
        WHERE id = $3 AND status = $4 AND status_version = $5`,
		string(to),
		at,
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, fmt.Errorf("update order %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateTableState(ctx context.Context, id types.ID, from, to table.State, version int, at time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx, `
        UPDATE floor_tables
        SET state = $1,
            state_version = state_version + 1,
            updated_at = $2
        WHERE id = $3 AND state = $4 AND state_version = $5`,
		string(to),
		at,
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, fmt.Errorf("update table %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CreatePayment(ctx context.Context, p *order.Payment) error {
	_, err := s.q.Exec(ctx, `
        INSERT INTO payments (
            id, order_id, amount, tip, currency, method, status, transaction_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
		string(p.ID),
		string(p.OrderID),
		p.Amount.Amount,
		p.Tip.Amount,
		p.Amount.Currency,
		string(p.Method),
		string(p.Status),
		p.TransactionID,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (s *Store) SumPayments(ctx context.Context, orderID types.ID) (types.Money, error) {
	var total types.Money
	var currencies int
	err := s.q.QueryRow(ctx, `
        SELECT COALESCE(SUM(amount), 0), COALESCE(MAX(NULLIF(currency, '')), ''), COUNT(DISTINCT NULLIF(currency, ''))
        FROM payments
        WHERE order_id = $1 AND status = $2`, string(orderID), string(order.PaymentSuccess),
	).Scan(&total.Amount, &total.Currency, &currencies)
	if err != nil {
		return types.Money{}, fmt.Errorf("sum payments %s: %w", orderID, err)
	}
	if currencies > 1 {
		return types.Money{}, fmt.Errorf("sum payments %s: %w", orderID, types.ErrCurrencyMismatch)
	}
	return total, nil
}

func (s *Store) queryOrders(ctx context.Context, sql string, args ...any) ([]*order.Order, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var o order.Order
	var id, tableID, venueID, status string
	err := row.Scan(
		&id, &tableID, &venueID, &status, &o.StatusVersion,
		&o.CustomerName, &o.PartySize, &o.Total.Amount, &o.Total.Currency,
		&o.PlacedAt, &o.ServedAt, &o.CompletedAt, &o.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	o.ID = types.ID(id)
	o.TableID = types.ID(tableID)
	o.VenueID = types.ID(venueID)
	o.Status = order.Status(status)
	return &o, nil
}

func scanTable(row pgx.Row) (*table.Table, error) {
	var t table.Table
	var id, venueID, state string
	if err := row.Scan(&id, &venueID, &t.Name, &t.Capacity, &state, &t.StateVersion, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.ID = types.ID(id)
	t.VenueID = types.ID(venueID)
	t.State = table.State(state)
	return &t, nil
}

func statusStrings(in []order.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
