package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(invoicesTotal) }

// event: issued|refunded|disputed
var invoicesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "invoices_total",
		Help: "Invoice lifecycle events.",
	},
	[]string{"event"},
)

func IncInvoice(event string) {
	invoicesTotal.WithLabelValues(norm(event)).Inc()
}
