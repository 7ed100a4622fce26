package metrics

import (
	"errors"

	"github.com/kilianp07/tankwatch/core/model"
)

// MultiSink fans records out to multiple sinks. Every sink is called even
// when an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordReading(rec ReadingRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordReading(rec))
	}
	return errors.Join(errs...)
}

// RecordTankState forwards to sinks implementing TankStateRecorder.
func (m *MultiSink) RecordTankState(st model.TankState) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(TankStateRecorder); ok {
			errs = append(errs, r.RecordTankState(st))
		}
	}
	return errors.Join(errs...)
}

// RecordAlert forwards to sinks implementing AlertRecorder.
func (m *MultiSink) RecordAlert(ev model.AlertEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(AlertRecorder); ok {
			errs = append(errs, r.RecordAlert(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordSweep forwards to sinks implementing SweepRecorder.
func (m *MultiSink) RecordSweep(rec SweepRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(SweepRecorder); ok {
			errs = append(errs, r.RecordSweep(rec))
		}
	}
	return errors.Join(errs...)
}
