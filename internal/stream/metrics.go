package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsAppended counts events stored in run traces.
	// Labels: type
	eventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arcsolve",
		Subsystem: "stream",
		Name:      "events_appended_total",
		Help:      "Events appended to run traces",
	}, []string{"type"})

	// eventsEvicted counts events pushed out of capped traces.
	eventsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arcsolve",
		Subsystem: "stream",
		Name:      "events_evicted_total",
		Help:      "Events evicted from capped run traces",
	})

	// subscriberDrops counts live events not delivered to a slow subscriber.
	subscriberDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arcsolve",
		Subsystem: "stream",
		Name:      "subscriber_drops_total",
		Help:      "Live events dropped because a subscriber buffer was full",
	})

	// activeSubscribers tracks attached live subscriptions.
	activeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arcsolve",
		Subsystem: "stream",
		Name:      "active_subscribers",
		Help:      "Live subscriptions currently attached to run traces",
	})
)
