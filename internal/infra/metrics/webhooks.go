package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(webhookEventsTotal) }

// outcome: applied|duplicate|ignored|rejected|error
var webhookEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Gateway webhook deliveries by gateway, event kind and outcome.",
	},
	[]string{"gateway", "kind", "outcome"},
)

func IncWebhook(gateway, kind, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(gateway), norm(kind), outcome).Inc()
}
