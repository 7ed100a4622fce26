package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tankwatch/core/model"
)

var start = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func hourly() model.HistorySeries {
	return model.HistorySeries{
		TankID:      "t1",
		Granularity: model.GranularityHourly,
		Buckets: []model.Rollup{
			{TankID: "t1", Start: start, Granularity: model.GranularityHourly, Count: 4, MinLiters: 900, MaxLiters: 1000, AvgLiters: 950, FirstLiters: 1000, LastLiters: 900},
			{TankID: "t1", Start: start.Add(time.Hour), Granularity: model.GranularityHourly, Count: 2, MinLiters: 850, MaxLiters: 880, AvgLiters: 865, FirstLiters: 880, LastLiters: 850},
		},
	}
}

func TestWriteCSVBuckets(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, hourly()))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "start", rows[0][1])
	assert.Equal(t, []string{"t1", "2025-06-01T10:00:00Z", "hourly", "4", "900.000", "1000.000", "950.000", "1000.000", "900.000"}, rows[1])
}

func TestWriteCSVReadings(t *testing.T) {
	series := model.HistorySeries{
		TankID:      "t1",
		Granularity: model.GranularityRaw,
		Readings: []model.SensorReading{
			{TankID: "t1", CapturedAt: start, DistanceCm: 42.5, VolumeLiters: 1234.5, Quality: model.QualityOK, GeometryVersion: 2},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, series))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"t1", "2025-06-01T10:00:00Z", "42.5", "1234.500", "ok", "2"}, rows[1])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "", hourly()))
	var got model.HistorySeries
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Len(t, got.Buckets, 2)
	assert.Equal(t, 865.0, got.Buckets[1].AvgLiters)
}

func TestWriteUnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, "xml", hourly()))
}
