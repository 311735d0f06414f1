package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSinkReportsGaugeValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.SetPushing(true)
	sink.SetReplicationProgress(0.5)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range metricFamilies {
		for _, m := range mf.GetMetric() {
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}

	require.Equal(t, float64(1), values["emsync_is_pushing"])
	require.Equal(t, 0.5, values["emsync_replication_progress"])
}

func TestNoopSinkNeverPanics(t *testing.T) {
	var s NoopSink
	s.SetPushing(true)
	s.SetReplicationProgress(1)
}
