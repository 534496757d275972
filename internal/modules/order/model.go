// README: Order aggregate, status definitions and the legal status graph.
package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"floortwin/internal/types"
)

type Status string

const (
	StatusPlaced    Status = "PLACED"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusServed    Status = "SERVED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// ActiveStatuses are the non-terminal statuses; orders in them make up a
// table's active order set.
var ActiveStatuses = []Status{StatusPlaced, StatusPreparing, StatusReady, StatusServed}

// WaitingStatuses are the early statuses watched by the wait-time sweep.
var WaitingStatuses = []Status{StatusPlaced, StatusPreparing}

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownStatus     = errors.New("unknown order status")
)

type Order struct {
	ID            types.ID    `json:"id"`
	TableID       types.ID    `json:"table_id"`
	VenueID       types.ID    `json:"venue_id"`
	Status        Status      `json:"status"`
	StatusVersion int         `json:"status_version"`
	CustomerName  string      `json:"customer_name,omitempty"`
	PartySize     int         `json:"party_size"`
	Total         types.Money `json:"total"`
	PlacedAt      time.Time   `json:"placed_at"`
	ServedAt      *time.Time  `json:"served_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	CancelledAt   *time.Time  `json:"cancelled_at,omitempty"`
}

// Active reports whether the order still counts toward its table's state.
func (o *Order) Active() bool {
	return o.Status.Active()
}

// Waited is how long the order has been open at now.
func (o *Order) Waited(now time.Time) time.Duration {
	return now.Sub(o.PlacedAt)
}

func (s Status) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	switch s {
	case StatusPlaced, StatusPreparing, StatusReady, StatusServed, StatusCompleted, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, v)
}

// AllowedTransitions represents the order state flow (diagram) as code.
// Statuses missing from the map, and the terminal ones, have no way out.
var AllowedTransitions = map[Status][]Status{
	StatusPlaced:    {StatusPreparing, StatusReady, StatusServed, StatusCancelled},
	StatusPreparing: {StatusReady, StatusServed, StatusCancelled},
	StatusReady:     {StatusServed, StatusCancelled},
	StatusServed:    {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// InitialStatus is the only status an order may be created in.
const InitialStatus = StatusPlaced

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError names the current and attempted status. From is nil
// for order creation.
type InvalidTransitionError struct {
	From *Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	from := "NEW"
	allowed := []Status{InitialStatus}
	if e.From != nil {
		from = string(*e.From)
		allowed = AllowedTransitions[*e.From]
	}
	if len(allowed) == 0 {
		return fmt.Sprintf("invalid status transition: %s -> %s (terminal state)", from, e.To)
	}
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = string(s)
	}
	return fmt.Sprintf("invalid status transition: %s -> %s (allowed: %s)", from, e.To, strings.Join(names, ", "))
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Validate checks a single move through the status graph. A nil from means
// the order does not exist yet. It has no side effects.
func Validate(from *Status, to Status) error {
	if from == nil {
		if to == InitialStatus {
			return nil
		}
		return &InvalidTransitionError{To: to}
	}
	if CanTransition(*from, to) {
		return nil
	}
	f := *from
	return &InvalidTransitionError{From: &f, To: to}
}
