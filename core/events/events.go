// Package events defines the tank monitoring events emitted on the event bus.
//
// Available event types:
//   - ReadingEvent: outcome of one submitted reading
//   - SweepEvent: result of a periodic health sweep and compaction
//
// Alert events travel on their own bus as model.AlertEvent.
package events

import (
	"time"

	"github.com/kilianp07/tankwatch/core/model"
)

// ReadingEvent is published once per reading submitted to the pipeline,
// accepted or not.
type ReadingEvent struct {
	Reading  model.SensorReading
	State    model.TankState
	Accepted bool
	// Reason is set for validation and geometry rejections.
	Reason model.RejectReason
	// Err is set for every non accepted reading.
	Err     error
	Latency time.Duration
}

// SweepEvent is published after each health sweep.
type SweepEvent struct {
	At        time.Time
	Changed   []model.TankState
	Compacted int
}
