package model

import "time"

// AlertKind separates independent alert state machines for the same tank.
type AlertKind string

const (
	// AlertStock tracks the stock level (normal, low, critical).
	AlertStock AlertKind = "stock"
	// AlertSensorHealth tracks reading freshness (normal, stale, offline).
	AlertSensorHealth AlertKind = "sensor_health"
	// AlertSystem reports durability and configuration faults to operators.
	AlertSystem AlertKind = "system"
)

// AlertStatus is the state of one alert machine.
type AlertStatus string

const (
	StatusNormal   AlertStatus = "normal"
	StatusLow      AlertStatus = "low"
	StatusCritical AlertStatus = "critical"
	StatusStale    AlertStatus = "stale"
	StatusOffline  AlertStatus = "offline"
	StatusError    AlertStatus = "error"
)

// Severity orders stock statuses so escalation can be compared.
func (s AlertStatus) Severity() int {
	switch s {
	case StatusLow, StatusStale:
		return 1
	case StatusCritical, StatusOffline, StatusError:
		return 2
	default:
		return 0
	}
}

// AlertState is the current state of one (tank, kind) pair.
type AlertState struct {
	TankID         string      `json:"tank_id"`
	StationID      string      `json:"station_id"`
	Kind           AlertKind   `json:"kind"`
	Status         AlertStatus `json:"status"`
	EnteredAt      time.Time   `json:"entered_at"`
	LastNotifiedAt time.Time   `json:"last_notified_at,omitempty"`
}

// AlertEvent is emitted to the notification path on a transition or a
// reminder after the cool-down.
type AlertEvent struct {
	ID        string      `json:"id"`
	TankID    string      `json:"tank_id"`
	StationID string      `json:"station_id"`
	Kind      AlertKind   `json:"kind"`
	Status    AlertStatus `json:"status"`
	Previous  AlertStatus `json:"previous"`
	Value     float64     `json:"value"`
	Message   string      `json:"message,omitempty"`
	Reminder  bool        `json:"reminder,omitempty"`
	At        time.Time   `json:"at"`
}

// Cleared reports whether the event returns the machine to normal.
func (e AlertEvent) Cleared() bool { return e.Status == StatusNormal }
