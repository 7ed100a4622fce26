package model

import "time"

// ShapeKind selects how a tank converts liquid height into volume.
type ShapeKind string

const (
	// ShapeCylindrical is an upright cylinder: volume grows linearly with height.
	ShapeCylindrical ShapeKind = "cylindrical"
	// ShapeLookup uses a calibrated height to liters table.
	ShapeLookup ShapeKind = "lookup"
)

// CalibrationPoint maps a liquid height above the tank floor to a volume.
type CalibrationPoint struct {
	HeightCm float64 `json:"height_cm" yaml:"height_cm"`
	Liters   float64 `json:"liters" yaml:"liters"`
}

// TankGeometry describes a provisioned tank. A geometry is never edited in
// place; recalibration produces a new Version.
type TankGeometry struct {
	TankID         string             `json:"tank_id" yaml:"tank_id"`
	StationID      string             `json:"station_id" yaml:"station_id"`
	FuelType       string             `json:"fuel_type,omitempty" yaml:"fuel_type"`
	Version        int                `json:"version" yaml:"version"`
	Shape          ShapeKind          `json:"shape" yaml:"shape"`
	HeightCm       float64            `json:"height_cm" yaml:"height_cm"`
	RadiusCm       float64            `json:"radius_cm,omitempty" yaml:"radius_cm"`
	CapacityLiters float64            `json:"capacity_liters,omitempty" yaml:"capacity_liters"`
	Table          []CalibrationPoint `json:"table,omitempty" yaml:"table"`
	CreatedAt      time.Time          `json:"created_at" yaml:"-"`
}

// QualityFlag records how the validator treated a raw sample.
type QualityFlag string

const (
	QualityOK       QualityFlag = "ok"
	QualityClamped  QualityFlag = "clamped"
	QualityRejected QualityFlag = "rejected"
)

// ReadingInput is what a sensor pushes.
type ReadingInput struct {
	TankID        string    `json:"tank_id"`
	RawDistanceCm float64   `json:"raw_distance_cm"`
	CapturedAt    time.Time `json:"captured_at"`
}

// SensorReading is an accepted, append-only sample. DistanceCm is the value
// after clamping and VolumeLiters the volume derived from it with the
// geometry version in GeometryVersion.
type SensorReading struct {
	TankID          string      `json:"tank_id"`
	RawDistanceCm   float64     `json:"raw_distance_cm"`
	DistanceCm      float64     `json:"distance_cm"`
	VolumeLiters    float64     `json:"volume_liters"`
	CapturedAt      time.Time   `json:"captured_at"`
	ReceivedAt      time.Time   `json:"received_at"`
	Quality         QualityFlag `json:"quality"`
	GeometryVersion int         `json:"geometry_version"`
}

// Health reports how recently a tank produced an accepted reading.
type Health string

const (
	HealthFresh   Health = "fresh"
	HealthStale   Health = "stale"
	HealthOffline Health = "offline"
)

// TankState is the derived current view of a tank.
type TankState struct {
	TankID                 string    `json:"tank_id"`
	StationID              string    `json:"station_id"`
	FuelType               string    `json:"fuel_type,omitempty"`
	CapacityLiters         float64   `json:"capacity_liters"`
	CurrentVolumeLiters    float64   `json:"current_volume_liters"`
	CurrentPercent         float64   `json:"current_percent"`
	LastReadingAt          time.Time `json:"last_reading_at"`
	Health                 Health    `json:"health"`
	ConsumptionRatePerHour float64   `json:"consumption_rate_per_hour"`
	TrendConfidence        float64   `json:"trend_confidence"`
	SamplesSinceRefill     int       `json:"samples_since_refill"`
	LastRefillAt           time.Time `json:"last_refill_at,omitempty"`
	ReadingCount           int       `json:"reading_count"`
}

// HasReading reports whether the tank has accepted at least one reading.
func (s TankState) HasReading() bool { return !s.LastReadingAt.IsZero() }
