package keymgmt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the provider's operation counters. A nil registerer yields
// inert, unregistered collectors, so metrics are always safe to call.
type Metrics struct {
	Imports     *prometheus.CounterVec
	Matches     prometheus.Counter
	LiveRecords prometheus.Gauge
}

// Import outcomes used as the "result" label.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultPartial = "partial"
)

// NewMetrics creates the collector set, registered against reg when
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Imports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyrelay",
			Name:      "imports_total",
			Help:      "Key imports by family and result.",
		}, []string{"family", "result"}),
		Matches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "keyrelay",
			Name:      "matches_total",
			Help:      "Key match comparisons performed.",
		}),
		LiveRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "keyrelay",
			Name:      "live_records",
			Help:      "Key records currently alive.",
		}),
	}
}
