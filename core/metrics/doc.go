// Package metrics defines the sinks that record tank monitoring activity.
// Sinks like PromSink and InfluxSink record readings, tank states, alerts and
// sweeps and can be combined with NewMultiSink. The factory helpers return a
// MultiSink automatically when multiple sinks are configured. Optional
// recorder interfaces let a sink opt into the events it understands.
package metrics
