// README: Events and topics carried by the broadcast hub.
package broadcast

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"floortwin/internal/types"
)

type EventType string

const (
	EventTableStateChanged  EventType = "table_state_changed"
	EventOrderCreated       EventType = "order_created"
	EventOrderStatusChanged EventType = "order_status_changed"
	EventOrderCompleted     EventType = "order_completed"
	EventWaitTimeAlert      EventType = "wait_time_alert"
)

// Event is the JSON wire shape pushed to live viewers.
type Event struct {
	Type        EventType    `json:"type"`
	VenueID     types.ID     `json:"venue_id,omitempty"`
	TableID     types.ID     `json:"table_id"`
	OrderID     types.ID     `json:"order_id,omitempty"`
	OldStatus   string       `json:"old_status,omitempty"`
	NewStatus   string       `json:"new_status,omitempty"`
	WaitMinutes *int         `json:"wait_minutes,omitempty"`
	OrderCount  *int         `json:"order_count,omitempty"`
	Total       *types.Money `json:"total,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Topic is a namespaced channel name such as "venue:42".
type Topic string

const (
	GlobalOrdersTopic Topic = "orders:global"
	GlobalAlertsTopic Topic = "alerts:global"
)

func VenueTopic(venueID types.ID) Topic {
	return Topic("venue:" + string(venueID))
}

func TableTopic(tableID types.ID) Topic {
	return Topic("table:" + string(tableID))
}

func VenueAlertsTopic(venueID types.ID) Topic {
	return Topic("alerts:venue:" + string(venueID))
}

var ErrBadTopic = errors.New("bad topic")

// ParseTopic accepts the topic names clients may subscribe to.
func ParseTopic(v string) (Topic, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == string(GlobalOrdersTopic), v == string(GlobalAlertsTopic):
		return Topic(v), nil
	case hasID(v, "alerts:venue:"), hasID(v, "venue:"), hasID(v, "table:"):
		return Topic(v), nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadTopic, v)
}

// Venue returns the venue id of a venue:<id> topic.
func (t Topic) Venue() (types.ID, bool) {
	if !hasID(string(t), "venue:") {
		return "", false
	}
	return types.ID(strings.TrimPrefix(string(t), "venue:")), true
}

func hasID(v, prefix string) bool {
	id, ok := strings.CutPrefix(v, prefix)
	return ok && id != "" && !strings.Contains(id, ":")
}
