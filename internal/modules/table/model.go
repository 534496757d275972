// README: Table aggregate and its display states.
package table

import (
	"fmt"
	"strings"
	"time"

	"floortwin/internal/types"
)

// State is the display state used to colour a table on the floor.
type State string

const (
	StateAvailable    State = "AVAILABLE"
	StateWaiting      State = "WAITING"
	StateServed       State = "SERVED"
	StateAlarm        State = "ALARM"
	StateOutOfService State = "OUT_OF_SERVICE"
)

type Table struct {
	ID           types.ID  `json:"id"`
	VenueID      types.ID  `json:"venue_id"`
	Name         string    `json:"name"`
	Capacity     int       `json:"capacity"`
	State        State     `json:"state"`
	StateVersion int       `json:"state_version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AcceptsDerived reports whether order-driven recomputes may overwrite the
// table's state. An administrative OUT_OF_SERVICE override wins.
func (t *Table) AcceptsDerived() bool {
	return t.State != StateOutOfService
}

func ParseState(v string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(v)))
	switch s {
	case StateAvailable, StateWaiting, StateServed, StateAlarm, StateOutOfService:
		return s, nil
	}
	return "", fmt.Errorf("unknown table state %q", v)
}
