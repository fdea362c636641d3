package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
	dto "github.com/prometheus/client_model/go"

	"github.com/luxfi/zhtp-core/internal/events"
)

func TestReportRegistersAndUpdatesGauges(t *testing.T) {
	registry := NewRegistry()
	gauges := NewComponentGauges(registry)

	require.NoError(t, gauges.Report(events.ComponentID("dht"), map[string]float64{"entries": 3}))
	require.NoError(t, gauges.Report(events.ComponentID("dht"), map[string]float64{"entries": 7}))

	families, err := registry.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "zhtpnode_dht_entries" {
			found = f
		}
	}
	require.NotNil(t, found)
	require.Equal(t, float64(7), found.Metric[0].GetGauge().GetValue())
}
