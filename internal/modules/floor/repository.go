// README: Persistence contract consumed by the coordinator and the sweeper.
package floor

import (
	"context"
	"time"

	"floortwin/internal/modules/order"
	"floortwin/internal/modules/table"
	"floortwin/internal/types"
)

// Repository is the entity store. Update methods are compare-and-set: they
// report false when the row moved past the expected status/version.
type Repository interface {
	GetOrder(ctx context.Context, id types.ID) (*order.Order, error)
	GetTable(ctx context.Context, id types.ID) (*table.Table, error)
	// LockTable reads a table and holds it until the surrounding transaction
	// ends. Every write that re-derives or sets a table state goes through it
	// first, so concurrent writers on one table see each other's orders.
	LockTable(ctx context.Context, id types.ID) (*table.Table, error)
	ListTables(ctx context.Context, venueID types.ID) ([]*table.Table, error)
	ListActiveOrders(ctx context.Context, tableID types.ID) ([]*order.Order, error)
	ListActiveOrdersByVenue(ctx context.Context, venueID types.ID) ([]*order.Order, error)
	// ListStaleOrders returns orders in one of statuses placed strictly
	// before placedBefore. An empty venueID means every venue.
	ListStaleOrders(ctx context.Context, statuses []order.Status, placedBefore time.Time, venueID types.ID) ([]*order.Order, error)

	CreateOrder(ctx context.Context, o *order.Order) error
	UpdateOrderStatus(ctx context.Context, id types.ID, from, to order.Status, version int, at time.Time) (bool, error)
	UpdateTableState(ctx context.Context, id types.ID, from, to table.State, version int, at time.Time) (bool, error)

	CreatePayment(ctx context.Context, p *order.Payment) error
	// SumPayments totals the successful payments of an order.
	SumPayments(ctx context.Context, orderID types.ID) (types.Money, error)

	// WithTx runs fn against a transactional view. Any error rolls back every
	// write made through tx.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}
