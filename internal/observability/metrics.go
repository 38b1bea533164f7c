package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	completionPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "habit_service",
		Subsystem: "persistence",
		Name:      "last_completion_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completion persisted to Postgres.",
	})
	completionRevokedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "habit_service",
		Subsystem: "persistence",
		Name:      "last_completion_revoked_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completion revocation.",
	})
)

func init() {
	prometheus.MustRegister(completionPersistGauge, completionRevokedGauge)
}

// RecordCompletionPersisted updates the persistence watermark gauge.
func RecordCompletionPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	completionPersistGauge.Set(float64(ts.Unix()))
}

// RecordCompletionRevoked updates the revocation watermark gauge.
func RecordCompletionRevoked(ts time.Time) {
	if ts.IsZero() {
		return
	}
	completionRevokedGauge.Set(float64(ts.Unix()))
}
