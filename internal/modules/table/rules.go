// README: Status rule engine: table display state from its active orders.
package table

import "floortwin/internal/modules/order"

// Derive maps the statuses of a table's active orders to its display state.
// A served order dominates earlier-stage ones. ALARM and OUT_OF_SERVICE are
// never produced here.
func Derive(active []order.Status) State {
	if len(active) == 0 {
		return StateAvailable
	}
	for _, s := range active {
		if s == order.StatusServed {
			return StateServed
		}
	}
	return StateWaiting
}

// DeriveFromOrders is Derive over loaded orders, ignoring any terminal ones.
func DeriveFromOrders(orders []*order.Order) State {
	statuses := make([]order.Status, 0, len(orders))
	for _, o := range orders {
		if o.Active() {
			statuses = append(statuses, o.Status)
		}
	}
	return Derive(statuses)
}
