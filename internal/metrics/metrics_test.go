package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.MutationsTotal.WithLabelValues("insert_subtree", OutcomeCommitted).Inc()
	m.RejectionsTotal.WithLabelValues("CYCLE_DETECTED").Inc()

	expected := `
# HELP bomrel_rejections_total Total number of rejected requests by error code
# TYPE bomrel_rejections_total counter
bomrel_rejections_total{code="CYCLE_DETECTED"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bomrel_rejections_total"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MutationsTotal.WithLabelValues("insert_subtree", OutcomeCommitted)))
}

func TestNopDoesNotPanicOnReuse(t *testing.T) {
	// Two unregistered sets must coexist.
	a := Nop()
	b := Nop()
	a.ShiftedNodes.Observe(3)
	b.ShiftedNodes.Observe(3)
}
