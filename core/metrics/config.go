package metrics

import "github.com/kilianp07/tankwatch/core/factory"

// Config defines settings for metrics sinks. PrometheusPort, when set,
// exposes /metrics on a dedicated listener.
type Config struct {
	Sinks          []factory.ModuleConfig `json:"sinks" yaml:"sinks"`
	PrometheusPort string                 `json:"prometheus_port" yaml:"prometheus_port"`
}
