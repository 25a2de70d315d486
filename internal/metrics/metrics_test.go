package metrics

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()
	m.SetHeight(42)
	m.Event("deposit", nil)
	m.Event("deposit", errors.New("boom"))
	m.Event("deposit", nil)
	m.Express("for")
	m.Cast()
	m.Checkpoint()
	m.Checkpoint()

	require.Equal(t, float64(42), testutil.ToFloat64(m.Height))
	require.Equal(t, float64(2), testutil.ToFloat64(m.Events.WithLabelValues("deposit", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Events.WithLabelValues("deposit", "failed")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Expressed.WithLabelValues("for")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Casts))
	require.Equal(t, float64(2), testutil.ToFloat64(m.Checkpoints))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.SetHeight(1)
		m.Event("x", nil)
		m.Express("for")
		m.Cast()
		m.Checkpoint()
	})
}
