package metrics

import (
	"fmt"

	"github.com/kilianp07/tankwatch/core/factory"
)

var sinkRegistry = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink adds a metrics sink factory identified by name.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	return sinkRegistry.Register(name, f)
}

// SinkTypes lists the registered sink types.
func SinkTypes() []string { return sinkRegistry.Names() }

// NewMetricsSink builds the configured sinks. No configuration yields a
// NopSink and a single entry is returned unwrapped.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	sinks, err := sinkRegistry.CreateAll(cfgs)
	if err != nil {
		return nil, fmt.Errorf("metrics sinks: %w", err)
	}
	switch len(sinks) {
	case 0:
		return NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}
