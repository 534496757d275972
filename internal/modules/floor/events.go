// README: Event construction and topic routing for floor changes.
package floor

import (
	"time"

	"floortwin/internal/broadcast"
	"floortwin/internal/modules/order"
	"floortwin/internal/modules/table"
)

// emission is an event queued during a transaction and published after
// commit.
type emission struct {
	event  broadcast.Event
	topics []broadcast.Topic
}

func tableTopics(t *table.Table) []broadcast.Topic {
	return []broadcast.Topic{
		broadcast.VenueTopic(t.VenueID),
		broadcast.TableTopic(t.ID),
	}
}

func orderTopics(o *order.Order) []broadcast.Topic {
	return []broadcast.Topic{
		broadcast.VenueTopic(o.VenueID),
		broadcast.TableTopic(o.TableID),
		broadcast.GlobalOrdersTopic,
	}
}

func alertTopics(t *table.Table) []broadcast.Topic {
	return []broadcast.Topic{
		broadcast.VenueTopic(t.VenueID),
		broadcast.VenueAlertsTopic(t.VenueID),
		broadcast.GlobalAlertsTopic,
	}
}

func tableStateChanged(t *table.Table, from, to table.State, at time.Time) emission {
	return emission{
		event: broadcast.Event{
			Type:      broadcast.EventTableStateChanged,
			VenueID:   t.VenueID,
			TableID:   t.ID,
			OldStatus: string(from),
			NewStatus: string(to),
			Timestamp: at.UTC(),
		},
		topics: tableTopics(t),
	}
}

func orderCreated(o *order.Order, at time.Time) emission {
	total := o.Total
	return emission{
		event: broadcast.Event{
			Type:      broadcast.EventOrderCreated,
			VenueID:   o.VenueID,
			TableID:   o.TableID,
			OrderID:   o.ID,
			NewStatus: string(o.Status),
			Total:     &total,
			Timestamp: at.UTC(),
		},
		topics: orderTopics(o),
	}
}

func orderStatusChanged(o *order.Order, from, to order.Status, at time.Time) emission {
	return emission{
		event: broadcast.Event{
			Type:      broadcast.EventOrderStatusChanged,
			VenueID:   o.VenueID,
			TableID:   o.TableID,
			OrderID:   o.ID,
			OldStatus: string(from),
			NewStatus: string(to),
			Timestamp: at.UTC(),
		},
		topics: orderTopics(o),
	}
}

func orderCompleted(o *order.Order, at time.Time) emission {
	total := o.Total
	return emission{
		event: broadcast.Event{
			Type:      broadcast.EventOrderCompleted,
			VenueID:   o.VenueID,
			TableID:   o.TableID,
			OrderID:   o.ID,
			NewStatus: string(order.StatusCompleted),
			Total:     &total,
			Timestamp: at.UTC(),
		},
		topics: orderTopics(o),
	}
}

func waitTimeAlert(t *table.Table, a TableAlarm, at time.Time) emission {
	minutes := a.WaitMinutes()
	count := a.OrderCount
	return emission{
		event: broadcast.Event{
			Type:        broadcast.EventWaitTimeAlert,
			VenueID:     t.VenueID,
			TableID:     t.ID,
			NewStatus:   string(table.StateAlarm),
			WaitMinutes: &minutes,
			OrderCount:  &count,
			Timestamp:   at.UTC(),
		},
		topics: alertTopics(t),
	}
}
