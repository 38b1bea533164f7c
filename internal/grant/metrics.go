package grant

import "github.com/prometheus/client_golang/prometheus"

var (
	grantedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "habit_service",
		Subsystem: "grant",
		Name:      "tokens_granted_total",
		Help:      "Number of forgiveness tokens granted by the scheduled job.",
	})

	notQualifiedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "habit_service",
		Subsystem: "grant",
		Name:      "users_not_qualified_total",
		Help:      "Number of user evaluations that did not qualify for a grant.",
	})

	skippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "habit_service",
		Subsystem: "grant",
		Name:      "users_skipped_total",
		Help:      "Number of user evaluations skipped because the day was already decided.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "habit_service",
		Subsystem: "grant",
		Name:      "users_failed_total",
		Help:      "Number of per-user grant evaluations that errored.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "habit_service",
		Subsystem: "grant",
		Name:      "batch_duration_seconds",
		Help:      "Time spent evaluating one grant batch across all users.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(grantedCounter, notQualifiedCounter, skippedCounter, failedCounter, batchDuration)
}
