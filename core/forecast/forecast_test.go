package forecast

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tankwatch/core/model"
)

var last = time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)

type states map[string]model.TankState

func (s states) State(id string) (model.TankState, error) {
	st, ok := s[id]
	if !ok {
		return model.TankState{}, model.ErrUnknownTank
	}
	return st, nil
}

func scenario() model.TankState {
	return model.TankState{
		TankID:                 "t1",
		CapacityLiters:         5000,
		CurrentVolumeLiters:    3400,
		LastReadingAt:          last,
		ConsumptionRatePerHour: 200,
		TrendConfidence:        0.5,
		SamplesSinceRefill:     4,
	}
}

func TestScenarioWeek(t *testing.T) {
	clk := clockwork.NewFakeClockAt(last.Add(10 * time.Minute))
	e := NewEngine(DefaultConfig(), states{"t1": scenario()}, clk)

	res, err := e.Forecast("t1", model.HorizonWeek)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	require.NotNil(t, res.ProjectedDepletionAt)
	assert.Equal(t, last.Add(17*time.Hour), *res.ProjectedDepletionAt)
	assert.Equal(t, last.Add(5*time.Hour), *res.ConfidenceLow)
	assert.Equal(t, last.Add(29*time.Hour), *res.ConfidenceHigh)
	assert.InDelta(t, 1600, res.RecommendedRefillLiters, 1e-9)
	assert.Equal(t, clk.Now(), res.GeneratedAt)
	assert.Equal(t, last, res.AnchorAt)
}

func TestRefillUncappedForShortNeed(t *testing.T) {
	st := scenario()
	st.CurrentVolumeLiters = 100
	st.CapacityLiters = 100000
	res := Compute(DefaultConfig(), st, model.HorizonWeek, last)
	assert.InDelta(t, 200*168*1.1, res.RecommendedRefillLiters, 1e-6)
}

func TestIntervalWidensWithHorizonAndConfidence(t *testing.T) {
	st := scenario()
	week := Compute(DefaultConfig(), st, model.HorizonWeek, last)
	year := Compute(DefaultConfig(), st, model.HorizonYear, last)
	assert.True(t, year.ConfidenceHigh.After(*week.ConfidenceHigh))

	st.TrendConfidence = 1
	sure := Compute(DefaultConfig(), st, model.HorizonWeek, last)
	assert.Equal(t, *sure.ProjectedDepletionAt, *sure.ConfidenceLow)
	assert.Equal(t, *sure.ProjectedDepletionAt, *sure.ConfidenceHigh)

	// The low bound never precedes the anchoring reading.
	st.TrendConfidence = 0
	wide := Compute(DefaultConfig(), st, model.HorizonYear, last)
	assert.Equal(t, last, *wide.ConfidenceLow)
}

func TestInsufficientData(t *testing.T) {
	st := scenario()
	st.SamplesSinceRefill = 1
	e := NewEngine(DefaultConfig(), states{"t1": st}, clockwork.NewFakeClockAt(last))
	res, err := e.Forecast("t1", model.HorizonMonth)
	require.NoError(t, err)
	assert.True(t, res.InsufficientData)
	assert.ErrorIs(t, res.Err(), model.ErrInsufficientData)
	assert.Nil(t, res.ProjectedDepletionAt)
	assert.Nil(t, res.ConfidenceLow)
	assert.Zero(t, res.RecommendedRefillLiters)
}

func TestNoConsumption(t *testing.T) {
	st := scenario()
	st.ConsumptionRatePerHour = 0
	res := Compute(DefaultConfig(), st, model.HorizonWeek, last)
	assert.False(t, res.InsufficientData)
	assert.Nil(t, res.ProjectedDepletionAt)
	assert.Zero(t, res.RecommendedRefillLiters)
	assert.NotEmpty(t, res.Reason)
}

func TestForecastErrors(t *testing.T) {
	e := NewEngine(DefaultConfig(), states{}, nil)
	_, err := e.Forecast("ghost", model.HorizonWeek)
	assert.ErrorIs(t, err, model.ErrUnknownTank)
	_, err = e.Forecast("ghost", "decade")
	assert.Error(t, err)
}
