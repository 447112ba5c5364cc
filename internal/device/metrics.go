package device

import (
	"strings"
	"sync"

	"github.com/fyrsmithlabs/roomsync/internal/roster"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the Prometheus metrics of every session in the process.
type Metrics struct {
	ReconcileTotal  *prometheus.CounterVec
	MalformedTotal  *prometheus.CounterVec
	KeptFieldsTotal *prometheus.CounterVec
	WritesTotal     *prometheus.CounterVec
	WriteRetries    prometheus.Counter
	PendingWrites   prometheus.Gauge
	ActiveLeases    prometheus.Gauge
	IngestTotal     *prometheus.CounterVec
}

// NewMetrics returns the process-wide session metrics, registering them on
// first use.
//
// Metrics:
//   - roomsync_reconcile_total{doc,decision}
//   - roomsync_reconcile_malformed_total{doc}
//   - roomsync_reconcile_kept_fields_total{reason}
//   - roomsync_writes_total{doc,result}
//   - roomsync_write_retries_total
//   - roomsync_pending_writes
//   - roomsync_active_leases
//   - roomsync_ingest_total{kind,result}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			ReconcileTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "roomsync_reconcile_total",
					Help: "Remote snapshots reconciled by document and decision",
				},
				[]string{"doc", "decision"},
			),
			MalformedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "roomsync_reconcile_malformed_total",
					Help: "Remote snapshots ignored because they could not be decoded",
				},
				[]string{"doc"},
			),
			KeptFieldsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "roomsync_reconcile_kept_fields_total",
					Help: "Rooms that kept local values during a merge",
				},
				[]string{"reason"}, // "lease" or "sticky"
			),
			WritesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "roomsync_writes_total",
					Help: "Background writes by document class and result",
				},
				[]string{"doc", "result"}, // "ok" or "failed"
			),
			WriteRetries: promauto.NewCounter(prometheus.CounterOpts{
				Name: "roomsync_write_retries_total",
				Help: "Background write attempts that failed and were retried",
			}),
			PendingWrites: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "roomsync_pending_writes",
				Help: "Local changes not yet acknowledged by the store",
			}),
			ActiveLeases: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "roomsync_active_leases",
				Help: "Entities with at least one live edit lease",
			}),
			IngestTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "roomsync_ingest_total",
					Help: "Report uploads by kind and result",
				},
				[]string{"kind", "result"},
			),
		}
	})
	return globalMetrics
}

// docClass collapses per-area document ids into one label value.
func docClass(id string) string {
	if strings.HasPrefix(id, roster.AreaDocPrefix) {
		return "areas"
	}
	return id
}
