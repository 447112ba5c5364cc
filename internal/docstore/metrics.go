package docstore

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics shared by every store driver.
type Metrics struct {
	WritesTotal        *prometheus.CounterVec
	ConflictsTotal     *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	UpdateDuration     *prometheus.HistogramVec
}

// NewMetrics returns the process-wide store metrics, registering them on first
// use.
//
// Metrics:
//   - docstore_writes_total{driver,result}
//   - docstore_conflicts_total{driver}
//   - docstore_notifications_total{driver}
//   - docstore_update_duration_seconds{driver}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			WritesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docstore_writes_total",
					Help: "Total document writes by driver and result",
				},
				[]string{"driver", "result"}, // "ok" or "error"
			),
			ConflictsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docstore_conflicts_total",
					Help: "Optimistic update retries caused by a concurrent writer",
				},
				[]string{"driver"},
			),
			NotificationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docstore_notifications_total",
					Help: "Document snapshots delivered to subscribers",
				},
				[]string{"driver"},
			),
			UpdateDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "docstore_update_duration_seconds",
					Help:    "Duration of document updates including retries",
					Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
				},
				[]string{"driver"},
			),
		}
	})
	return globalMetrics
}

func (m *Metrics) recordWrite(driver string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.WritesTotal.WithLabelValues(driver, result).Inc()
}
