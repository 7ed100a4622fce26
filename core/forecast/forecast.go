// Package forecast projects depletion and refill needs from a tank state.
//
// Results are never stored; they are recomputed from the current state, which
// itself derives from the reading history.
package forecast

import (
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kilianp07/tankwatch/core/model"
)

// Config tunes projections.
type Config struct {
	SafetyMargin   float64
	MinRatePerHour float64
	MinSamples     int
	// HorizonScale is the confidence interval half-width at zero confidence.
	HorizonScale map[model.Horizon]time.Duration
}

// DefaultConfig mirrors the config file defaults.
func DefaultConfig() Config {
	return Config{
		SafetyMargin:   1.1,
		MinRatePerHour: 0.01,
		MinSamples:     3,
		HorizonScale: map[model.Horizon]time.Duration{
			model.HorizonWeek:  24 * time.Hour,
			model.HorizonMonth: 72 * time.Hour,
			model.HorizonYear:  720 * time.Hour,
		},
	}
}

// StateReader is the part of the store the engine reads.
type StateReader interface {
	State(tankID string) (model.TankState, error)
}

// Engine answers forecasts on demand. It never blocks ingestion beyond the
// per-tank read of the state.
type Engine struct {
	cfg    Config
	clock  clockwork.Clock
	states StateReader
}

func NewEngine(cfg Config, states StateReader, clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{cfg: cfg, clock: clock, states: states}
}

// Forecast projects tankID over horizon. A tank without enough readings since
// its last refill yields a result with InsufficientData set and no
// projection; the error is only for unknown tanks or horizons.
func (e *Engine) Forecast(tankID string, h model.Horizon) (model.ForecastResult, error) {
	if h.Duration() == 0 {
		return model.ForecastResult{}, fmt.Errorf("unknown horizon %q", h)
	}
	st, err := e.states.State(tankID)
	if err != nil {
		return model.ForecastResult{}, err
	}
	return Compute(e.cfg, st, h, e.clock.Now()), nil
}

// Compute is the pure projection behind Forecast. Depletion is anchored at
// the last accepted reading because that is when CurrentVolumeLiters was
// measured.
func Compute(cfg Config, st model.TankState, h model.Horizon, now time.Time) model.ForecastResult {
	res := model.ForecastResult{
		TankID:                 st.TankID,
		Horizon:                h,
		GeneratedAt:            now,
		AnchorAt:               st.LastReadingAt,
		CurrentVolumeLiters:    st.CurrentVolumeLiters,
		ConsumptionRatePerHour: st.ConsumptionRatePerHour,
		TrendConfidence:        st.TrendConfidence,
	}
	if st.SamplesSinceRefill < cfg.MinSamples {
		res.InsufficientData = true
		res.Reason = fmt.Sprintf("%d of %d readings since last refill", st.SamplesSinceRefill, cfg.MinSamples)
		return res
	}

	rate := st.ConsumptionRatePerHour
	if rate < cfg.MinRatePerHour || math.IsNaN(rate) {
		res.Reason = "no measurable consumption"
		return res
	}

	hours := st.CurrentVolumeLiters / rate
	projected := st.LastReadingAt.Add(durationHours(hours))
	spread := time.Duration((1 - clamp01(st.TrendConfidence)) * float64(cfg.HorizonScale[h]))
	low := projected.Add(-spread)
	if low.Before(st.LastReadingAt) {
		low = st.LastReadingAt
	}
	high := projected.Add(spread)
	res.ProjectedDepletionAt = &projected
	res.ConfidenceLow = &low
	res.ConfidenceHigh = &high

	margin := cfg.SafetyMargin
	if margin <= 0 {
		margin = 1
	}
	need := rate * h.Duration().Hours() * margin
	room := math.Max(0, st.CapacityLiters-st.CurrentVolumeLiters)
	res.RecommendedRefillLiters = math.Min(need, room)
	return res
}

// durationHours converts fractional hours, saturating instead of overflowing
// for very slow consumption.
func durationHours(h float64) time.Duration {
	const maxHours = float64(math.MaxInt64) / float64(time.Hour)
	if h >= maxHours {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(h * float64(time.Hour))
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
