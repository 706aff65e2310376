// Package metrics holds the prometheus instruments for instance store operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "metarepo"
	storeSubsystem   = "store"
)

// Outcome labels
const (
	OutcomeOK          = "ok"
	OutcomeUnsupported = "unsupported"
	OutcomeRejected    = "rejected"
	OutcomeConflict    = "conflict"
	OutcomeError       = "error"
)

// StoreMetrics counts and times store operations by name and outcome.
type StoreMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	EventsDropped     prometheus.CounterFunc
}

// NewStoreMetrics registers the store instruments with reg. droppedEvents may
// be nil when no event publisher is wired.
func NewStoreMetrics(reg prometheus.Registerer, droppedEvents func() uint64) *StoreMetrics {
	factory := promauto.With(reg)
	m := &StoreMetrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: storeSubsystem,
				Name:      "operations_total",
				Help:      "Instance store operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: storeSubsystem,
				Name:      "operation_duration_seconds",
				Help:      "Instance store operation latency in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation"},
		),
	}
	if droppedEvents != nil {
		m.EventsDropped = factory.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: storeSubsystem,
				Name:      "events_dropped_total",
				Help:      "Change events not delivered because a subscriber was full",
			},
			func() float64 { return float64(droppedEvents()) },
		)
	}
	return m
}

// Observe records one finished operation. A nil receiver is a no-op.
func (m *StoreMetrics) Observe(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
