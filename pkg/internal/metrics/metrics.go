package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kolab",
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Number of registered realtime connections.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kolab",
		Subsystem: "realtime",
		Name:      "events_published_total",
		Help:      "Events enqueued to subscriber connections, by event type.",
	}, []string{"type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kolab",
		Subsystem: "realtime",
		Name:      "events_dropped_total",
		Help:      "Events dropped because a subscriber buffer was full or closed.",
	}, []string{"type"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kolab",
		Subsystem: "messaging",
		Name:      "messages_sent_total",
		Help:      "Messages durably appended, by message type.",
	}, []string{"type"})

	CallTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kolab",
		Subsystem: "calling",
		Name:      "transitions_total",
		Help:      "Call status transitions, by target status.",
	}, []string{"status"})

	ProviderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kolab",
		Subsystem: "calling",
		Name:      "provider_failures_total",
		Help:      "Media provider calls that failed, by operation.",
	}, []string{"op"})
)
