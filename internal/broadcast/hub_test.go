// README: Hub tests (fan-out, ordering, overflow, disconnects).
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floortwin/internal/types"
)

func event(order int) Event {
	return Event{
		Type:      EventOrderStatusChanged,
		TableID:   "t1",
		OrderID:   types.ID(fmt.Sprintf("o%d", order)),
		Timestamp: time.Unix(int64(order), 0),
	}
}

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func assertEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case e := <-sub.C():
		t.Fatalf("unexpected event %+v", e)
	default:
	}
}

func TestPublishDeliversToTopicSubscribers(t *testing.T) {
	hub := NewHub(Options{})
	ctx := context.Background()

	venue, err := hub.Subscribe(VenueTopic("v1"))
	require.NoError(t, err)
	other, err := hub.Subscribe(VenueTopic("v2"))
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, event(1), VenueTopic("v1")))

	assert.Equal(t, types.ID("o1"), recv(t, venue).OrderID)
	assertEmpty(t, other)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewHub(Options{})
	assert.NoError(t, hub.Publish(context.Background(), event(1), TableTopic("nobody")))
	assert.Equal(t, 0, hub.SubscriberCount(TableTopic("nobody")))
}

func TestSubscribeNeedsTopics(t *testing.T) {
	hub := NewHub(Options{})
	_, err := hub.Subscribe()
	assert.ErrorIs(t, err, ErrNoTopics)
}

func TestMultiTopicPublishDeliversOnce(t *testing.T) {
	hub := NewHub(Options{})
	ctx := context.Background()

	sub, err := hub.Subscribe(VenueTopic("v1"), TableTopic("t1"), GlobalOrdersTopic)
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, event(1), VenueTopic("v1"), TableTopic("t1"), GlobalOrdersTopic))
	recv(t, sub)
	assertEmpty(t, sub)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(Options{})
	sub, err := hub.Subscribe(TableTopic("t1"))
	require.NoError(t, err)
	require.Equal(t, 1, hub.SubscriberCount(TableTopic("t1")))

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	sub.Close()
	hub.Unsubscribe(nil)

	assert.Equal(t, 0, hub.SubscriberCount(TableTopic("t1")))
	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed")

	assert.NoError(t, hub.Publish(context.Background(), event(1), TableTopic("t1")))
}

func TestSameTopicOrderingSinglePublisher(t *testing.T) {
	const n = 500
	hub := NewHub(Options{Buffer: n})
	ctx := context.Background()

	sub, err := hub.Subscribe(TableTopic("t1"))
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		require.NoError(t, hub.Publish(ctx, event(i), TableTopic("t1")))
	}
	for i := 0; i < n; i++ {
		require.Equal(t, types.ID(fmt.Sprintf("o%d", i)), recv(t, sub).OrderID)
	}
}

func TestSameTopicOrderingExternallyOrderedPublishers(t *testing.T) {
	hub := NewHub(Options{})
	ctx := context.Background()

	sub, err := hub.Subscribe(TableTopic("t1"))
	require.NoError(t, err)

	first := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = hub.Publish(ctx, event(1), TableTopic("t1"))
		close(first)
	}()
	go func() {
		defer wg.Done()
		<-first
		_ = hub.Publish(ctx, event(2), TableTopic("t1"))
	}()
	wg.Wait()

	assert.Equal(t, types.ID("o1"), recv(t, sub).OrderID)
	assert.Equal(t, types.ID("o2"), recv(t, sub).OrderID)
}

func TestFullQueueDropsOldest(t *testing.T) {
	metrics := NewMetrics(nil)
	hub := NewHub(Options{Buffer: 3, Metrics: metrics})
	ctx := context.Background()

	sub, err := hub.Subscribe(TableTopic("t1"))
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, hub.Publish(ctx, event(i), TableTopic("t1")))
	}

	assert.Equal(t, uint64(2), sub.Dropped())
	assert.Equal(t, types.ID("o3"), recv(t, sub).OrderID)
	assert.Equal(t, types.ID("o4"), recv(t, sub).OrderID)
	assert.Equal(t, types.ID("o5"), recv(t, sub).OrderID)
	assertEmpty(t, sub)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Dropped))
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.Delivered))
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.Published.WithLabelValues(string(EventOrderStatusChanged))))
}

func TestSlowSubscriberDoesNotStallOthers(t *testing.T) {
	hub := NewHub(Options{Buffer: 1})
	ctx := context.Background()

	slow, err := hub.Subscribe(VenueTopic("v1"))
	require.NoError(t, err)
	fast, err := hub.Subscribe(VenueTopic("v1"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = hub.Publish(ctx, event(i), VenueTopic("v1"))
			<-fast.C()
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher stalled behind a slow subscriber")
	}
	assert.Equal(t, uint64(999), slow.Dropped())
}

func TestDisconnectMidPublishNeverBlocks(t *testing.T) {
	hub := NewHub(Options{Buffer: 2})
	ctx := context.Background()

	stayer, err := hub.Subscribe(TableTopic("t1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				sub, err := hub.Subscribe(TableTopic("t1"))
				if err != nil {
					return
				}
				sub.Close()
			}
		}()
	}

	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; i < 2000; i++ {
			if err := hub.Publish(ctx, event(i), TableTopic("t1")); err != nil {
				t.Errorf("publish: %v", err)
				return
			}
		}
	}()

	select {
	case <-published:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked while subscribers were disconnecting")
	}
	close(stop)
	wg.Wait()

	// The remaining subscriber still holds the newest events.
	last := Event{}
	for len(stayer.C()) > 0 {
		last = <-stayer.C()
	}
	assert.Equal(t, types.ID("o1999"), last.OrderID)
}

func TestClosedHub(t *testing.T) {
	metrics := NewMetrics(nil)
	hub := NewHub(Options{Metrics: metrics})
	sub, err := hub.Subscribe(GlobalAlertsTopic)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Subscribers))

	hub.Close()
	hub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Subscribers))

	_, err = hub.Subscribe(GlobalAlertsTopic)
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.NoError(t, hub.Publish(context.Background(), event(1), GlobalAlertsTopic))
	sub.Close()
}

func TestDeliverEnvelope(t *testing.T) {
	hub := NewHub(Options{})
	ctx := context.Background()
	sub, err := hub.Subscribe(VenueAlertsTopic("v1"))
	require.NoError(t, err)

	wait := 20
	e := Event{Type: EventWaitTimeAlert, VenueID: "v1", TableID: "t1", WaitMinutes: &wait, Timestamp: time.Now().UTC()}
	data, err := encodeEnvelope(e, []Topic{VenueAlertsTopic("v1"), GlobalAlertsTopic})
	require.NoError(t, err)

	require.NoError(t, deliverEnvelope(ctx, hub, data))
	got := recv(t, sub)
	assert.Equal(t, EventWaitTimeAlert, got.Type)
	require.NotNil(t, got.WaitMinutes)
	assert.Equal(t, 20, *got.WaitMinutes)

	assert.Error(t, deliverEnvelope(ctx, hub, []byte("{not json")))
}
