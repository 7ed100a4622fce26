package query

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tankwatch/core/alert"
	"github.com/kilianp07/tankwatch/core/forecast"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/core/store"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T, maxRaw int) (*Service, *store.Store, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(t0)
	st := store.New(store.DefaultConfig(), store.NewMemoryRepository(), clk, nil)
	_, err := st.Provision(context.Background(), model.TankGeometry{
		TankID: "t1", StationID: "s1", Shape: model.ShapeLookup, HeightCm: 100,
		Table: []model.CalibrationPoint{{HeightCm: 0, Liters: 0}, {HeightCm: 100, Liters: 5000}},
	})
	require.NoError(t, err)
	eng := alert.NewEngine(alert.DefaultConfig(), nil, clk, nil)
	fc := forecast.NewEngine(forecast.DefaultConfig(), st, clk)
	return NewService(st, fc, eng, maxRaw), st, clk
}

// scenario feeds 4000, 3800, 3600, 3400 L hourly.
func scenario(t *testing.T, st *store.Store, clk *clockwork.FakeClock) {
	t.Helper()
	for i, d := range []float64{20, 24, 28, 32} {
		if i > 0 {
			clk.Advance(time.Hour)
		}
		_, _, err := st.Append(context.Background(), model.ReadingInput{TankID: "t1", RawDistanceCm: d, CapturedAt: clk.Now()})
		require.NoError(t, err)
	}
}

func TestEndToEndScenario(t *testing.T) {
	svc, st, clk := setup(t, 0)
	scenario(t, st, clk)

	state, err := svc.CurrentState("t1")
	require.NoError(t, err)
	assert.InDelta(t, 3400, state.CurrentVolumeLiters, 1e-6)
	assert.InDelta(t, 200, state.ConsumptionRatePerHour, 1e-6)

	res, err := svc.Forecast("t1", model.HorizonWeek)
	require.NoError(t, err)
	require.NotNil(t, res.ProjectedDepletionAt)
	assert.WithinDuration(t, state.LastReadingAt.Add(17*time.Hour), *res.ProjectedDepletionAt, time.Second)
	assert.InDelta(t, 1600, res.RecommendedRefillLiters, 1e-6)

	assert.Len(t, svc.StationTanks("s1"), 1)
	assert.Empty(t, svc.StationTanks("s2"))
	assert.Empty(t, svc.ActiveAlerts("s1"))
}

func TestForecastGateAfterOneReading(t *testing.T) {
	svc, st, clk := setup(t, 0)
	_, _, err := st.Append(context.Background(), model.ReadingInput{TankID: "t1", RawDistanceCm: 20, CapturedAt: clk.Now()})
	require.NoError(t, err)

	res, err := svc.Forecast("t1", model.HorizonWeek)
	require.NoError(t, err)
	assert.True(t, res.InsufficientData)
	assert.Nil(t, res.ProjectedDepletionAt)
}

func TestHistoryGranularities(t *testing.T) {
	svc, st, clk := setup(t, 0)
	scenario(t, st, clk)

	raw, err := svc.History(context.Background(), "t1", model.TimeRange{}, model.GranularityRaw)
	require.NoError(t, err)
	assert.Len(t, raw.Readings, 4)
	assert.Empty(t, raw.Buckets)

	hourly, err := svc.History(context.Background(), "t1", model.TimeRange{}, model.GranularityHourly)
	require.NoError(t, err)
	assert.Len(t, hourly.Buckets, 4)

	daily, err := svc.History(context.Background(), "t1", model.TimeRange{From: t0, To: t0.Add(24 * time.Hour)}, model.GranularityDaily)
	require.NoError(t, err)
	require.Len(t, daily.Buckets, 1)
	assert.Equal(t, 4, daily.Buckets[0].Count)

	_, err = svc.History(context.Background(), "ghost", model.TimeRange{}, model.GranularityRaw)
	assert.ErrorIs(t, err, model.ErrUnknownTank)
}

func TestHistoryRawLimit(t *testing.T) {
	svc, st, clk := setup(t, 3)
	scenario(t, st, clk)
	_, err := svc.History(context.Background(), "t1", model.TimeRange{}, model.GranularityRaw)
	assert.ErrorIs(t, err, ErrTooManyPoints)
}
