// README: Prometheus collectors for hub fan-out.
package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Published   *prometheus.CounterVec
	Delivered   prometheus.Counter
	Dropped     prometheus.Counter
	Subscribers prometheus.Gauge
}

// NewMetrics builds the hub collectors and registers them with reg. A nil
// registerer leaves them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floortwin",
			Subsystem: "hub",
			Name:      "events_published_total",
			Help:      "Events handed to the hub, by event type.",
		}, []string{"type"}),
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "floortwin",
			Subsystem: "hub",
			Name:      "events_delivered_total",
			Help:      "Events queued to a subscriber.",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "floortwin",
			Subsystem: "hub",
			Name:      "events_dropped_total",
			Help:      "Events discarded because a subscriber queue was full.",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "floortwin",
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Live subscriptions.",
		}),
	}
}
