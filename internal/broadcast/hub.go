// README: In-process topic hub; bounded per-subscriber queues, drop-oldest on overflow.
package broadcast

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultBuffer = 64

var (
	ErrHubClosed = errors.New("broadcast: hub is closed")
	ErrNoTopics  = errors.New("broadcast: subscribe needs at least one topic")
)

// Publisher is what the floor coordinator emits through. The hub is the
// in-process backing; relays put a shared bus in front of it.
type Publisher interface {
	Publish(ctx context.Context, e Event, topics ...Topic) error
}

type Options struct {
	// Buffer is the per-subscriber queue length.
	Buffer  int
	Metrics *Metrics
	Logger  logrus.FieldLogger
}

type Hub struct {
	mu      sync.RWMutex
	topics  map[Topic]map[*Subscription]struct{}
	closed  bool
	buffer  int
	metrics *Metrics
	log     logrus.FieldLogger
}

func NewHub(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}
	return &Hub{
		topics:  make(map[Topic]map[*Subscription]struct{}),
		buffer:  opts.Buffer,
		metrics: opts.Metrics,
		log:     opts.Logger,
	}
}

// Subscribe registers a receiver for every given topic. Only events
// published from now on are delivered.
func (h *Hub) Subscribe(topics ...Topic) (*Subscription, error) {
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}
	sub := &Subscription{
		ID:     uuid.NewString(),
		hub:    h,
		topics: dedupeTopics(topics),
		ch:     make(chan Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	for _, t := range sub.topics {
		set, ok := h.topics[t]
		if !ok {
			set = make(map[*Subscription]struct{})
			h.topics[t] = set
		}
		set[sub] = struct{}{}
	}
	h.metrics.Subscribers.Inc()
	h.log.WithFields(logrus.Fields{"subscriber_id": sub.ID, "topics": sub.topics}).Debug("subscribed")
	return sub, nil
}

// Unsubscribe removes the subscription and closes its channel. Removing an
// already removed subscription is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	removed := false
	for _, t := range sub.topics {
		set, ok := h.topics[t]
		if !ok {
			continue
		}
		if _, ok := set[sub]; ok {
			delete(set, sub)
			removed = true
		}
		if len(set) == 0 {
			delete(h.topics, t)
		}
	}
	h.mu.Unlock()

	if removed {
		h.metrics.Subscribers.Dec()
		h.log.WithField("subscriber_id", sub.ID).Debug("unsubscribed")
	}
	sub.shutdown()
}

// Publish hands e to every subscriber of any of the topics, once per
// subscriber. It never blocks on a slow subscriber and never fails; the
// error return satisfies Publisher.
func (h *Hub) Publish(_ context.Context, e Event, topics ...Topic) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return nil
	}
	var targets []*Subscription
	seen := make(map[*Subscription]struct{})
	for _, t := range topics {
		for sub := range h.topics[t] {
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	h.metrics.Published.WithLabelValues(string(e.Type)).Inc()
	for _, sub := range targets {
		queued, dropped := sub.offer(e)
		if queued {
			h.metrics.Delivered.Inc()
		}
		if dropped {
			h.metrics.Dropped.Inc()
			h.log.WithFields(logrus.Fields{
				"subscriber_id": sub.ID,
				"event_type":    e.Type,
			}).Debug("subscriber queue full, dropped oldest event")
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions on topic.
func (h *Hub) SubscriberCount(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close unsubscribes everyone; later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make(map[*Subscription]struct{})
	for _, set := range h.topics {
		for sub := range set {
			subs[sub] = struct{}{}
		}
	}
	h.topics = make(map[Topic]map[*Subscription]struct{})
	h.mu.Unlock()

	for sub := range subs {
		h.metrics.Subscribers.Dec()
		sub.shutdown()
	}
}

// Subscription is one live receiver. Read events from C until it is closed.
type Subscription struct {
	ID     string
	hub    *Hub
	topics []Topic

	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped atomic.Uint64
}

func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) Topics() []Topic {
	out := make([]Topic, len(s.topics))
	copy(out, s.topics)
	return out
}

// Dropped counts events discarded for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

// offer queues e without blocking. When the queue is full the oldest queued
// event is discarded to make room.
func (s *Subscription) offer(e Event) (queued, dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	select {
	case s.ch <- e:
		return true, false
	default:
	}
	select {
	case <-s.ch:
		dropped = true
	default:
	}
	select {
	case s.ch <- e:
		queued = true
	default:
		dropped = true
	}
	if dropped {
		s.dropped.Add(1)
	}
	return queued, dropped
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func dedupeTopics(in []Topic) []Topic {
	seen := make(map[Topic]struct{}, len(in))
	out := make([]Topic, 0, len(in))
	for _, t := range in {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
