// Package query is the read-only facade used by dashboards. Nothing here
// mutates state; every answer is composed from the store, the forecast engine
// and the alert engine as they are at call time.
package query

import (
	"context"
	"errors"
	"iter"

	"github.com/kilianp07/tankwatch/core/model"
)

// DefaultMaxRawPoints bounds raw history responses.
const DefaultMaxRawPoints = 10000

// ErrTooManyPoints is returned when a raw history range holds more readings
// than the service returns; callers should narrow the range or use a rollup
// granularity.
var ErrTooManyPoints = errors.New("too many raw readings in range")

// TankStore is the read side of the store.
type TankStore interface {
	State(tankID string) (model.TankState, error)
	States(stationID string) []model.TankState
	History(ctx context.Context, tankID string, rng model.TimeRange) iter.Seq2[model.SensorReading, error]
	Rollups(tankID string, rng model.TimeRange, g model.Granularity) ([]model.Rollup, error)
}

// Forecaster produces forecasts.
type Forecaster interface {
	Forecast(tankID string, h model.Horizon) (model.ForecastResult, error)
}

// AlertSource lists active alerts.
type AlertSource interface {
	ActiveAlerts(stationID string) []model.AlertState
}

type Service struct {
	store        TankStore
	forecasts    Forecaster
	alerts       AlertSource
	maxRawPoints int
}

func NewService(st TankStore, f Forecaster, a AlertSource, maxRawPoints int) *Service {
	if maxRawPoints <= 0 {
		maxRawPoints = DefaultMaxRawPoints
	}
	return &Service{store: st, forecasts: f, alerts: a, maxRawPoints: maxRawPoints}
}

func (s *Service) CurrentState(tankID string) (model.TankState, error) {
	return s.store.State(tankID)
}

// StationTanks lists the states of a station's tanks.
func (s *Service) StationTanks(stationID string) []model.TankState {
	return s.store.States(stationID)
}

// History returns raw readings or hourly/daily buckets within rng.
func (s *Service) History(ctx context.Context, tankID string, rng model.TimeRange, g model.Granularity) (model.HistorySeries, error) {
	if _, err := s.store.State(tankID); err != nil {
		return model.HistorySeries{}, err
	}
	out := model.HistorySeries{TankID: tankID, Granularity: g}
	if g != model.GranularityRaw {
		buckets, err := s.store.Rollups(tankID, rng, g)
		if err != nil {
			return model.HistorySeries{}, err
		}
		out.Buckets = buckets
		return out, nil
	}
	for r, err := range s.store.History(ctx, tankID, rng) {
		if err != nil {
			return model.HistorySeries{}, err
		}
		if len(out.Readings) == s.maxRawPoints {
			return model.HistorySeries{}, ErrTooManyPoints
		}
		out.Readings = append(out.Readings, r)
	}
	return out, nil
}

func (s *Service) Forecast(tankID string, h model.Horizon) (model.ForecastResult, error) {
	return s.forecasts.Forecast(tankID, h)
}

// ActiveAlerts lists non-normal alerts of a station.
func (s *Service) ActiveAlerts(stationID string) []model.AlertState {
	return s.alerts.ActiveAlerts(stationID)
}
