package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(eventsPublishedTotal, eventQueueDepth) }

// outcome: sent|error|dropped
var eventsPublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payment_events_published_total",
		Help: "Domain events handed to the broker by routing key and outcome.",
	},
	[]string{"routing_key", "outcome"},
)

var eventQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "payment_event_queue_depth",
	Help: "Events waiting for a publish worker.",
})

func IncEventPublished(routingKey, outcome string) {
	eventsPublishedTotal.WithLabelValues(norm(routingKey), outcome).Inc()
}

func SetEventQueueDepth(n int) { eventQueueDepth.Set(float64(n)) }
