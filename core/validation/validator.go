// Package validation screens raw sensor input before it reaches the store.
package validation

import (
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kilianp07/tankwatch/core/geometry"
	"github.com/kilianp07/tankwatch/core/model"
)

// Config bounds what a plausible reading looks like.
type Config struct {
	// OffsetMarginCm is the band above tank height that is still clamped
	// instead of rejected.
	OffsetMarginCm float64
	ClockSkew      time.Duration
}

// DefaultConfig mirrors the config file defaults.
func DefaultConfig() Config {
	return Config{OffsetMarginCm: 5, ClockSkew: 2 * time.Minute}
}

// Validator is stateless; the caller supplies the last accepted timestamp so
// that checks stay constant time and free of I/O.
type Validator struct {
	cfg   Config
	clock clockwork.Clock
}

// New returns a Validator. A nil clock falls back to the real clock.
func New(cfg Config, clock clockwork.Clock) *Validator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Validator{cfg: cfg, clock: clock}
}

// Validate checks in against conv and the last accepted capture time. On
// success it returns the normalized reading with volume computed; on failure
// it returns a *model.ValidationError.
func (v *Validator) Validate(in model.ReadingInput, conv *geometry.Converter, lastAccepted time.Time) (model.SensorReading, error) {
	reject := func(reason model.RejectReason, format string, args ...any) (model.SensorReading, error) {
		return model.SensorReading{}, &model.ValidationError{TankID: in.TankID, Reason: reason, Detail: fmt.Sprintf(format, args...)}
	}
	if conv == nil {
		return reject(model.RejectUnknownTank, "no geometry provisioned")
	}
	d := in.RawDistanceCm
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return reject(model.RejectNonNumeric, "distance %v", d)
	}
	if d < 0 {
		return reject(model.RejectNegative, "distance %.2f cm", d)
	}
	height := conv.Geometry().HeightCm
	if d > height+v.cfg.OffsetMarginCm {
		return reject(model.RejectAbovePhysicalMax, "distance %.2f cm exceeds %.2f cm", d, height+v.cfg.OffsetMarginCm)
	}
	if in.CapturedAt.IsZero() {
		return reject(model.RejectMissingTimestamp, "captured_at not set")
	}
	now := v.clock.Now()
	if in.CapturedAt.After(now.Add(v.cfg.ClockSkew)) {
		return reject(model.RejectFutureTimestamp, "captured_at %s is ahead of %s", in.CapturedAt.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if !lastAccepted.IsZero() && !in.CapturedAt.After(lastAccepted) {
		return reject(model.RejectOutOfOrder, "captured_at %s not after %s", in.CapturedAt.Format(time.RFC3339Nano), lastAccepted.Format(time.RFC3339Nano))
	}

	quality := model.QualityOK
	if d > height {
		d = height
		quality = model.QualityClamped
	}
	return model.SensorReading{
		TankID:          in.TankID,
		RawDistanceCm:   in.RawDistanceCm,
		DistanceCm:      d,
		VolumeLiters:    conv.Volume(d),
		CapturedAt:      in.CapturedAt,
		ReceivedAt:      now,
		Quality:         quality,
		GeometryVersion: conv.Geometry().Version,
	}, nil
}
