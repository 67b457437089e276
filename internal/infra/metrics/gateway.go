package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(gatewayDuration) }

// op: charge|refund|verify ; result: ok|error
var gatewayDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "payment_gateway_request_duration_seconds",
		Help:    "Duration of calls to external payment gateways.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	},
	[]string{"gateway", "op", "result"},
)

func ObserveGateway(gateway, op string, start time.Time, err error) {
	gatewayDuration.WithLabelValues(norm(gateway), op, result(err)).Observe(time.Since(start).Seconds())
}
