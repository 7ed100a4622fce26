// Package estimator derives a smoothed consumption rate from accepted
// readings.
//
// The rate is an exponentially weighted moving average of per-interval
// decreases in liters per hour. A reading that departs from the projected
// trend by more than the refill tolerance is held, together with at most one
// more reading that stays near the jumped level. A reading that falls back
// toward the prior trend discards the held ones as noise. A third reading
// that stays near the jumped level confirms it: an upward jump is a refill
// that reseeds the average and a downward jump is real consumption.
package estimator

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Config tunes the estimator.
type Config struct {
	Alpha                 float64
	RefillToleranceLiters float64
	NoiseToleranceLiters  float64
	MinSamples            int
	Window                int
	MaxGap                time.Duration
}

// DefaultConfig mirrors the config file defaults.
func DefaultConfig() Config {
	return Config{
		Alpha:                 0.3,
		RefillToleranceLiters: 50,
		NoiseToleranceLiters:  25,
		MinSamples:            3,
		Window:                48,
		MaxGap:                6 * time.Hour,
	}
}

// Estimate is the estimator output after a reading.
type Estimate struct {
	RatePerHour        float64
	Confidence         float64
	SamplesSinceRefill int
	LastRefillAt       time.Time
	// Refill is set on the reading that confirmed a refill.
	Refill bool
	// Pending is set while a jump awaits confirmation.
	Pending bool
}

type sample struct {
	at     time.Time
	liters float64
}

// Estimator holds the per-tank filter state. It is not safe for concurrent
// use; the store serializes calls per tank.
type Estimator struct {
	cfg        Config
	last       *sample
	pending    []sample
	ewma       float64
	seeded     bool
	rates      []float64
	samples    int
	lastRefill time.Time
}

// New returns an empty estimator.
func New(cfg Config) *Estimator {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = DefaultConfig().Alpha
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Estimator{cfg: cfg}
}

// maxHeld bounds how many off-trend readings wait for a decision.
const maxHeld = 2

// Observe feeds one accepted reading in capture order.
func (e *Estimator) Observe(at time.Time, liters float64) Estimate {
	s := sample{at: at, liters: liters}
	if e.last == nil {
		e.reseed(s, time.Time{})
		return e.estimate(false)
	}
	if len(e.pending) == 0 {
		e.step(s, true)
		return e.estimate(false)
	}

	jump := e.pending[len(e.pending)-1]
	if math.Abs(e.deviation(s)) <= math.Abs(s.liters-jump.liters) {
		// back toward the prior trend: the held readings were a spike
		e.pending = nil
		e.step(s, false)
		return e.estimate(false)
	}
	if len(e.pending) < maxHeld {
		e.pending = append(e.pending, s)
		return e.estimate(false)
	}

	held := e.pending
	e.pending = nil
	refill := held[0].liters > e.last.liters
	if refill {
		e.reseed(held[0], held[0].at)
		held = held[1:]
	}
	for _, h := range held {
		e.step(h, false)
	}
	e.step(s, false)
	return e.estimate(refill)
}

// Current returns the estimate without feeding a reading.
func (e *Estimator) Current() Estimate { return e.estimate(false) }

func (e *Estimator) reseed(s sample, refillAt time.Time) {
	e.last = &s
	e.pending = nil
	e.ewma = 0
	e.seeded = false
	e.rates = e.rates[:0]
	e.samples = 1
	if !refillAt.IsZero() {
		e.lastRefill = refillAt
	}
}

// deviation is how far s sits from the level projected from the last trend
// sample. Positive means more liquid than expected.
func (e *Estimator) deviation(s sample) float64 {
	hours := s.at.Sub(e.last.at).Hours()
	expected := e.last.liters
	if e.seeded && e.ewma > 0 {
		expected -= e.ewma * hours
	}
	return s.liters - expected
}

func (e *Estimator) step(s sample, allowHold bool) {
	gap := s.at.Sub(e.last.at)
	if gap <= 0 {
		return
	}
	if allowHold {
		dev := e.deviation(s)
		up := dev > e.cfg.RefillToleranceLiters
		down := e.seeded && dev < -e.cfg.RefillToleranceLiters
		if up || down {
			e.pending = append(e.pending[:0], s)
			return
		}
	}

	rate := (e.last.liters - s.liters) / gap.Hours()
	if rise := s.liters - e.last.liters; rise > 0 && rise <= e.cfg.NoiseToleranceLiters {
		rate = 0
	}
	if e.cfg.MaxGap > 0 && gap > e.cfg.MaxGap {
		e.rates = e.rates[:0]
	}
	if e.seeded {
		e.ewma = e.cfg.Alpha*rate + (1-e.cfg.Alpha)*e.ewma
	} else {
		e.ewma = rate
		e.seeded = true
	}
	e.rates = append(e.rates, rate)
	if len(e.rates) > e.cfg.Window {
		e.rates = e.rates[len(e.rates)-e.cfg.Window:]
	}
	e.samples++
	e.last = &s
}

func (e *Estimator) estimate(refill bool) Estimate {
	return Estimate{
		RatePerHour:        math.Max(0, e.ewma),
		Confidence:         e.confidence(),
		SamplesSinceRefill: e.samples,
		LastRefillAt:       e.lastRefill,
		Refill:             refill,
		Pending:            len(e.pending) > 0,
	}
}

// confidence grows with the number of intervals since the last reseed or gap
// and shrinks with the coefficient of variation of their rates.
func (e *Estimator) confidence() float64 {
	n := len(e.rates)
	if n == 0 {
		return 0
	}
	mean, variance := stat.MeanVariance(e.rates, nil)
	if n < 2 || math.IsNaN(variance) {
		variance = 0
	}
	cv2 := 0.0
	if variance > 0 {
		cv2 = variance / math.Max(mean*mean, 1e-9)
	}
	minSamples := float64(e.cfg.MinSamples)
	if minSamples < 1 {
		minSamples = 1
	}
	c := float64(n) / (float64(n) + minSamples) / (1 + cv2)
	return math.Min(1, math.Max(0, c))
}
