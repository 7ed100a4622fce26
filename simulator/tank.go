package simulator

import (
	"math"
	"math/rand"
	"time"

	"github.com/kilianp07/tankwatch/core/geometry"
	"github.com/kilianp07/tankwatch/core/model"
)

// Tank models the liquid level of one tank and produces sensor samples.
type Tank struct {
	conv   *geometry.Converter
	liters float64
	rng    *rand.Rand
	cfg    Config

	Refills int
}

// NewTank starts a tank at a random level above the refill trigger.
func NewTank(g model.TankGeometry, cfg Config, rng *rand.Rand) (*Tank, error) {
	conv, err := geometry.New(g)
	if err != nil {
		return nil, err
	}
	start := cfg.RefillBelowPct + rng.Float64()*(cfg.RefillToPct-cfg.RefillBelowPct)
	return &Tank{conv: conv, liters: conv.Capacity() * start / 100, rng: rng, cfg: cfg}, nil
}

func (t *Tank) ID() string { return t.conv.Geometry().TankID }

// Liters is the true simulated volume.
func (t *Tank) Liters() float64 { return t.liters }

// Step drains the tank for dt ending at at, refills it when it fell below
// the trigger and returns the sensor sample. ok is false for a dropped
// sample.
func (t *Tank) Step(at time.Time, dt time.Duration) (in model.ReadingInput, ok bool) {
	rate := t.cfg.ConsumptionLPH * t.cfg.Profile[at.Hour()] * (0.8 + 0.4*t.rng.Float64())
	t.liters = math.Max(0, t.liters-rate*dt.Hours())
	if t.conv.Percent(t.liters) < t.cfg.RefillBelowPct {
		t.liters = t.conv.Capacity() * t.cfg.RefillToPct / 100
		t.Refills++
	}
	if t.rng.Float64() < t.cfg.DropRate {
		return model.ReadingInput{}, false
	}
	d := t.distanceFor(t.liters) + t.rng.NormFloat64()*t.cfg.NoiseCm
	if t.rng.Float64() < t.cfg.SpikeRate {
		d -= 0.3 * t.conv.Geometry().HeightCm
	}
	return model.ReadingInput{TankID: t.ID(), RawDistanceCm: math.Max(0, d), CapturedAt: at}, true
}

// distanceFor inverts the converter by bisection; volume falls as the
// distance grows.
func (t *Tank) distanceFor(liters float64) float64 {
	lo, hi := 0.0, t.conv.Geometry().HeightCm
	for range 50 {
		mid := (lo + hi) / 2
		if t.conv.Volume(mid) > liters {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}
