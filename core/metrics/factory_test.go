package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tankwatch/core/factory"
	metrics "github.com/kilianp07/tankwatch/core/metrics"
	_ "github.com/kilianp07/tankwatch/infra/metrics"
)

func TestSinkTypesRegistered(t *testing.T) {
	assert.Subset(t, metrics.SinkTypes(), []string{"influx", "nop", "prometheus"})
}

func TestNewMetricsSink(t *testing.T) {
	s, err := metrics.NewMetricsSink(nil)
	require.NoError(t, err)
	assert.IsType(t, metrics.NopSink{}, s)

	s, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}})
	require.NoError(t, err)
	assert.IsType(t, metrics.NopSink{}, s)

	s, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "nop"}})
	require.NoError(t, err)
	m, ok := s.(*metrics.MultiSink)
	require.True(t, ok, "got %T", s)
	assert.Len(t, m.Sinks, 2)
}

func TestNewMetricsSinkErrors(t *testing.T) {
	_, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "statsd"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "module 1 (statsd)")

	_, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "influx", Conf: map[string]any{"bukket": "tanks"}}})
	assert.Error(t, err)
}
