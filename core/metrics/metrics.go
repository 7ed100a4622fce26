package metrics

import (
	"time"

	"github.com/kilianp07/tankwatch/core/model"
)

// ReadingRecord describes one reading submitted to the pipeline.
type ReadingRecord struct {
	TankID       string
	StationID    string
	Accepted     bool
	Quality      model.QualityFlag
	Reason       model.RejectReason
	VolumeLiters float64
	Latency      time.Duration
	Time         time.Time
}

// MetricsSink records ingestion outcomes. Rejections counted per reason are
// the diagnostic signal for dropped readings.
type MetricsSink interface {
	RecordReading(rec ReadingRecord) error
}

// TankStateRecorder records derived tank states.
type TankStateRecorder interface {
	RecordTankState(st model.TankState) error
}

// AlertRecorder records emitted alert events.
type AlertRecorder interface {
	RecordAlert(ev model.AlertEvent) error
}

// SweepRecord summarizes a health sweep.
type SweepRecord struct {
	Changed   int
	Compacted int
	Time      time.Time
}

// SweepRecorder records health sweeps.
type SweepRecorder interface {
	RecordSweep(rec SweepRecord) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordReading(ReadingRecord) error     { return nil }
func (NopSink) RecordTankState(model.TankState) error { return nil }
func (NopSink) RecordAlert(model.AlertEvent) error    { return nil }
func (NopSink) RecordSweep(SweepRecord) error         { return nil }
