// Package export writes tank history for offline analysis.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/tankwatch/core/model"
)

// Format names accepted by Write.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Write dispatches to WriteJSON or WriteCSV.
func Write(w io.Writer, format string, series model.HistorySeries) error {
	switch format {
	case FormatJSON, "":
		return WriteJSON(w, series)
	case FormatCSV:
		return WriteCSV(w, series)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteJSON writes the series to w in JSON format.
func WriteJSON(w io.Writer, series model.HistorySeries) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(series)
}

// WriteCSV writes one row per bucket, or per reading for a raw series.
func WriteCSV(w io.Writer, series model.HistorySeries) error {
	cw := csv.NewWriter(w)
	if series.Granularity == model.GranularityRaw {
		if err := writeReadings(cw, series.Readings); err != nil {
			return err
		}
	} else if err := writeBuckets(cw, series.Buckets); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func writeBuckets(cw *csv.Writer, buckets []model.Rollup) error {
	if err := cw.Write([]string{"tank_id", "start", "granularity", "count", "min_liters", "max_liters", "avg_liters", "first_liters", "last_liters"}); err != nil {
		return err
	}
	for _, b := range buckets {
		rec := []string{
			b.TankID,
			b.Start.UTC().Format(time.RFC3339),
			string(b.Granularity),
			strconv.Itoa(b.Count),
			liters(b.MinLiters),
			liters(b.MaxLiters),
			liters(b.AvgLiters),
			liters(b.FirstLiters),
			liters(b.LastLiters),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

func writeReadings(cw *csv.Writer, readings []model.SensorReading) error {
	if err := cw.Write([]string{"tank_id", "captured_at", "distance_cm", "volume_liters", "quality", "geometry_version"}); err != nil {
		return err
	}
	for _, r := range readings {
		rec := []string{
			r.TankID,
			r.CapturedAt.UTC().Format(time.RFC3339),
			strconv.FormatFloat(r.DistanceCm, 'f', -1, 64),
			liters(r.VolumeLiters),
			string(r.Quality),
			strconv.Itoa(r.GeometryVersion),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

func liters(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
