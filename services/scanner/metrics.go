package scanner

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type agentMetrics struct {
	queueDepth  prometheus.Gauge
	drains      prometheus.Counter
	scansSynced prometheus.Counter
	scansQueued prometheus.Counter
	debounced   prometheus.Counter
}

var (
	agentMetricsOnce sync.Once
	sharedMetrics    *agentMetrics
)

// newAgentMetrics registers the agent collectors once; later calls return the
// same set so rebuilding a syncer never trips duplicate registration.
func newAgentMetrics() *agentMetrics {
	agentMetricsOnce.Do(registerAgentMetrics)
	return sharedMetrics
}

func registerAgentMetrics() {
	sharedMetrics = &agentMetrics{
		queueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "stocktake",
			Subsystem: "scanner",
			Name:      "queue_depth",
			Help:      "Scans waiting in the offline queue.",
		}),
		drains: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "stocktake",
			Subsystem: "scanner",
			Name:      "queue_drains_total",
			Help:      "Drain passes executed against the offline queue.",
		}),
		scansSynced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "stocktake",
			Subsystem: "scanner",
			Name:      "scans_synced_total",
			Help:      "Queued scans accepted by the audit service.",
		}),
		scansQueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "stocktake",
			Subsystem: "scanner",
			Name:      "scans_queued_total",
			Help:      "Scans diverted into the offline queue.",
		}),
		debounced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "stocktake",
			Subsystem: "scanner",
			Name:      "scans_debounced_total",
			Help:      "Raw scans rejected by the debounce window.",
		}),
	}
}
