package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStoreMetrics(reg, nil)

	m.Observe("addEntity", OutcomeOK, time.Millisecond)
	m.Observe("addEntity", OutcomeOK, time.Millisecond)
	m.Observe("deleteEntity", OutcomeUnsupported, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("addEntity", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("deleteEntity", OutcomeUnsupported)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.OperationDuration))
	assert.Nil(t, m.EventsDropped)
}

func TestStoreMetrics_EventsDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	dropped := uint64(3)
	NewStoreMetrics(reg, func() uint64 { return dropped })

	expected := `
# HELP metarepo_store_events_dropped_total Change events not delivered because a subscriber was full
# TYPE metarepo_store_events_dropped_total counter
metarepo_store_events_dropped_total 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "metarepo_store_events_dropped_total"))
}

func TestStoreMetrics_NilIsNoop(t *testing.T) {
	var m *StoreMetrics
	m.Observe("addEntity", OutcomeOK, time.Millisecond)
}
