package audit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	scansClassified *prometheus.CounterVec
	scansReplayed   prometheus.Counter
	invalidCodes    prometheus.Counter
	openAudits      prometheus.Gauge
}

var (
	metricsOnce   sync.Once
	sharedMetrics *metrics
)

// newMetrics registers the API collectors once; rebuilding the API reuses
// the same set rather than tripping duplicate registration.
func newMetrics() *metrics {
	metricsOnce.Do(registerMetrics)
	return sharedMetrics
}

func registerMetrics() {
	sharedMetrics = &metrics{
		scansClassified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stocktake",
			Name:      "scans_classified_total",
			Help:      "Scan events recorded, labelled by classification outcome.",
		}, []string{"outcome"}),
		scansReplayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "stocktake",
			Name:      "scans_replayed_total",
			Help:      "Scan submissions that matched an already recorded event id.",
		}),
		invalidCodes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "stocktake",
			Name:      "invalid_codes_total",
			Help:      "Scan submissions rejected because normalisation failed.",
		}),
		openAudits: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "stocktake",
			Name:      "open_audits",
			Help:      "Audits currently in the open state.",
		}),
	}
}
