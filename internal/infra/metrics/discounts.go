package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(discountApplicationsTotal) }

// result: applied|not_found|not_started|expired|exhausted|user_cap|rate_limited
var discountApplicationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "discount_applications_total",
		Help: "Discount code application attempts by result.",
	},
	[]string{"result"},
)

func IncDiscount(result string) {
	discountApplicationsTotal.WithLabelValues(result).Inc()
}
