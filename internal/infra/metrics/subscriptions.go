package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsTotal,
		subscriptionRenewalsTotal,
		subscriptionsExpiredTotal,
		sweepRunsTotal,
	)
}

var (
	subscriptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_total",
			Help: "Subscription lifecycle events, labeled by event and plan.",
		},
		[]string{"event", "plan"}, // created|cancelled|renewed
	)

	subscriptionRenewalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_renewals_total",
			Help: "Renewal attempts made by the renewal sweep.",
		},
		[]string{"result"}, // succeeded|failed|skipped
	)

	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Subscriptions deactivated by the expiry sweep.",
		},
	)

	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_sweep_runs_total",
			Help: "Scheduled sweep executions by job and result.",
		},
		[]string{"job", "result"}, // result: ok|error|locked
	)
)

func IncSubscription(event, plan string) {
	subscriptionsTotal.WithLabelValues(event, norm(plan)).Inc()
}

func IncRenewal(result string) {
	subscriptionRenewalsTotal.WithLabelValues(result).Inc()
}

func IncExpired() {
	subscriptionsExpiredTotal.Inc()
}

func IncSweepRun(job, result string) {
	sweepRunsTotal.WithLabelValues(job, result).Inc()
}
