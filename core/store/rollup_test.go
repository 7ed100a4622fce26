package store

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tankwatch/core/model"
)

func seedHalfHourly(t *testing.T, s *Store, clk *clockwork.FakeClock, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, _, err := appendAt(t, s, clk, t0.Add(time.Duration(i)*30*time.Minute), 4000-float64(i)*20)
		require.NoError(t, err)
	}
}

func historyTimes(t *testing.T, s *Store, rng model.TimeRange) []time.Time {
	t.Helper()
	var out []time.Time
	for r, err := range s.History(context.Background(), "t1", rng) {
		require.NoError(t, err)
		out = append(out, r.CapturedAt)
	}
	return out
}

func shortRetention() Config {
	cfg := testConfig()
	cfg.RawRetention = 2 * time.Hour
	return cfg
}

func TestCompactAndRollups(t *testing.T) {
	repo := NewMemoryRepository()
	clk := clockwork.NewFakeClockAt(t0)
	s := New(shortRetention(), repo, clk, nil)
	_, err := s.Provision(context.Background(), tankGeometry("t1", "s1"))
	require.NoError(t, err)
	seedHalfHourly(t, s, clk, 12)

	n, err := s.Compact(context.Background(), clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	stored, err := repo.LoadRollups(context.Background(), "t1", model.TimeRange{})
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, 2, stored[0].Count)
	assert.InDelta(t, 4000, stored[0].FirstLiters, 1e-6)
	assert.InDelta(t, 3980, stored[0].LastLiters, 1e-6)

	hourly, err := s.Rollups("t1", model.TimeRange{}, model.GranularityHourly)
	require.NoError(t, err)
	require.Len(t, hourly, 6)
	for i, b := range hourly {
		assert.Equal(t, t0.Add(time.Duration(i)*time.Hour), b.Start)
		assert.Equal(t, 2, b.Count)
	}

	daily, err := s.Rollups("t1", model.TimeRange{}, model.GranularityDaily)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, 12, daily[0].Count)
	assert.Equal(t, model.GranularityDaily, daily[0].Granularity)
	assert.InDelta(t, 3780, daily[0].MinLiters, 1e-6)

	_, err = s.Rollups("t1", model.TimeRange{}, model.GranularityRaw)
	assert.ErrorIs(t, err, ErrRawGranularity)

	// Raw readings stay queryable through the repository after compaction.
	all := historyTimes(t, s, model.TimeRange{})
	require.Len(t, all, 12)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i].After(all[i-1]))
	}
	tail := historyTimes(t, s, model.TimeRange{From: t0.Add(2 * time.Hour), To: t0.Add(4 * time.Hour)})
	assert.Len(t, tail, 4)
}

func TestLoadReplaysRepository(t *testing.T) {
	repo := NewMemoryRepository()
	clk := clockwork.NewFakeClockAt(t0)
	s := New(testConfig(), repo, clk, nil)
	_, err := s.Provision(context.Background(), tankGeometry("t1", "s1"))
	require.NoError(t, err)
	seedHalfHourly(t, s, clk, 12)
	want, err := s.State("t1")
	require.NoError(t, err)

	restarted := New(shortRetention(), repo, clk, nil)
	require.NoError(t, restarted.Load(context.Background()))

	got, err := restarted.State("t1")
	require.NoError(t, err)
	assert.Equal(t, want.ReadingCount, got.ReadingCount)
	assert.InDelta(t, want.ConsumptionRatePerHour, got.ConsumptionRatePerHour, 1e-9)
	assert.InDelta(t, want.CurrentVolumeLiters, got.CurrentVolumeLiters, 1e-9)

	stored, err := repo.LoadRollups(context.Background(), "t1", model.TimeRange{})
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.Len(t, historyTimes(t, restarted, model.TimeRange{}), 12)

	// Out-of-order protection survives the restart.
	_, _, err = restarted.Append(context.Background(), model.ReadingInput{TankID: "t1", RawDistanceCm: 30, CapturedAt: t0})
	reason, _ := model.RejectReasonOf(err)
	assert.Equal(t, model.RejectOutOfOrder, reason)
}

func TestLoadAfterRecalibrationResetsTrend(t *testing.T) {
	repo := NewMemoryRepository()
	s, clk := newStore(t, repo)
	seedHalfHourly(t, s, clk, 6)
	before, err := s.State("t1")
	require.NoError(t, err)
	require.Greater(t, before.SamplesSinceRefill, 0)

	g := tankGeometry("t1", "s1")
	g.Table[1].Liters = 6000
	_, err = s.Recalibrate(context.Background(), g)
	require.NoError(t, err)
	live, err := s.State("t1")
	require.NoError(t, err)
	assert.Zero(t, live.SamplesSinceRefill)

	restarted := New(testConfig(), repo, clk, nil)
	require.NoError(t, restarted.Load(context.Background()))
	got, err := restarted.State("t1")
	require.NoError(t, err)
	assert.Zero(t, got.SamplesSinceRefill)
	assert.Zero(t, got.ConsumptionRatePerHour)
	assert.Zero(t, got.TrendConfidence)
	assert.Equal(t, before.ReadingCount, got.ReadingCount)

	_, st, err := appendAt(t, restarted, clk, clk.Now().Add(time.Minute), 4000)
	require.NoError(t, err)
	assert.Equal(t, 1, st.SamplesSinceRefill)
	assert.Equal(t, 6000.0, st.CapacityLiters)
}
