package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHorizon(t *testing.T) {
	h, err := ParseHorizon(" Week ")
	require.NoError(t, err)
	assert.Equal(t, HorizonWeek, h)
	assert.Equal(t, 168*time.Hour, h.Duration())
	_, err = ParseHorizon("decade")
	assert.Error(t, err)
}

func TestRollupAddMerge(t *testing.T) {
	var a Rollup
	for _, v := range []float64{100, 80, 90} {
		a.Add(v)
	}
	assert.Equal(t, 3, a.Count)
	assert.Equal(t, 80.0, a.MinLiters)
	assert.Equal(t, 100.0, a.MaxLiters)
	assert.InDelta(t, 90.0, a.AvgLiters, 1e-9)
	assert.Equal(t, 100.0, a.FirstLiters)
	assert.Equal(t, 90.0, a.LastLiters)

	b := Rollup{}
	b.Add(60)
	a.Merge(b)
	assert.Equal(t, 4, a.Count)
	assert.Equal(t, 60.0, a.MinLiters)
	assert.Equal(t, 60.0, a.LastLiters)
	assert.InDelta(t, 82.5, a.AvgLiters, 1e-9)

	empty := Rollup{Start: time.Unix(0, 0), Granularity: GranularityDaily}
	empty.Merge(b)
	assert.Equal(t, GranularityDaily, empty.Granularity)
	assert.Equal(t, 1, empty.Count)
}

func TestTimeRangeContains(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := TimeRange{From: base, To: base.Add(time.Hour)}
	assert.True(t, r.Contains(base))
	assert.False(t, r.Contains(base.Add(time.Hour)))
	assert.False(t, r.Contains(base.Add(-time.Second)))
	assert.True(t, TimeRange{}.Contains(base))
}

func TestGranularityTruncate(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 34, 56, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), GranularityHourly.Truncate(ts))
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), GranularityDaily.Truncate(ts))
	g, err := ParseGranularity("")
	require.NoError(t, err)
	assert.Equal(t, GranularityHourly, g)
}

func TestRejectReasonOf(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &ValidationError{TankID: "t1", Reason: RejectOutOfOrder})
	reason, ok := RejectReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, RejectOutOfOrder, reason)

	reason, ok = RejectReasonOf(&GeometryConfigError{TankID: "t1", Reason: "no radius"})
	require.True(t, ok)
	assert.Equal(t, RejectGeometryConfig, reason)

	_, ok = RejectReasonOf(errors.New("boom"))
	assert.False(t, ok)

	derr := &DurabilityError{TankID: "t1", Attempts: 3, Err: errors.New("db down")}
	assert.ErrorContains(t, derr, "3 attempts")
	assert.Equal(t, "db down", errors.Unwrap(derr).Error())
}
