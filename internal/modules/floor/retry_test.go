// README: Conflict retry tests.
package floor

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floortwin/internal/modules/order"
	"floortwin/internal/modules/table"
)

func conflictingService(t *testing.T, conflicts int32) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	store.PutTable(table.Table{ID: "T1", VenueID: "v1", Name: "T1"})
	store.PutOrder(order.Order{ID: "o1", TableID: "T1", VenueID: "v1", Status: order.StatusPlaced, PlacedAt: baseTime})

	n := &atomic.Int32{}
	n.Store(conflicts)
	return NewService(&faultyRepo{Repository: store, conflicts: n}, &recorder{}), store
}

func TestConflictSurfacesWithoutRetry(t *testing.T) {
	svc, store := conflictingService(t, 1)

	_, err := svc.ApplyTransition(context.Background(), "o1", order.StatusServed)
	assert.ErrorIs(t, err, ErrConflict)

	o, err := store.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPlaced, o.Status)
}

func TestRetryRecoversFromConflicts(t *testing.T) {
	svc, store := conflictingService(t, 2)

	out, err := svc.ApplyTransitionWithRetry(context.Background(), "o1", order.StatusServed, 3)
	require.NoError(t, err)
	assert.Equal(t, order.StatusServed, out.NewStatus)

	tb, err := store.GetTable(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, table.StateServed, tb.State)
}

func TestRetryGivesUp(t *testing.T) {
	svc, _ := conflictingService(t, 10)

	_, err := svc.ApplyTransitionWithRetry(context.Background(), "o1", order.StatusServed, 3)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRetryDoesNotRepeatInvalidTransitions(t *testing.T) {
	svc, _ := conflictingService(t, 0)

	_, err := svc.ApplyTransitionWithRetry(context.Background(), "o1", order.StatusCompleted, 5)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}
