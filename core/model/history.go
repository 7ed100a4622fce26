package model

import (
	"fmt"
	"time"
)

// Granularity selects the bucket width of a history query.
type Granularity string

const (
	GranularityRaw    Granularity = "raw"
	GranularityHourly Granularity = "hourly"
	GranularityDaily  Granularity = "daily"
)

// ParseGranularity defaults to hourly for an empty string.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case "":
		return GranularityHourly, nil
	case GranularityRaw, GranularityHourly, GranularityDaily:
		return Granularity(s), nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

// Truncate aligns t to the start of its bucket in UTC.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case GranularityDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case GranularityHourly:
		return t.Truncate(time.Hour)
	default:
		return t
	}
}

// Rollup aggregates the volumes of the readings captured in one bucket.
type Rollup struct {
	TankID      string      `json:"tank_id"`
	Start       time.Time   `json:"start"`
	Granularity Granularity `json:"granularity"`
	Count       int         `json:"count"`
	MinLiters   float64     `json:"min_liters"`
	MaxLiters   float64     `json:"max_liters"`
	AvgLiters   float64     `json:"avg_liters"`
	FirstLiters float64     `json:"first_liters"`
	LastLiters  float64     `json:"last_liters"`
}

// Add folds a single volume sample into the bucket. Samples must arrive in
// capture order.
func (r *Rollup) Add(liters float64) {
	if r.Count == 0 {
		r.MinLiters, r.MaxLiters, r.FirstLiters = liters, liters, liters
	}
	if liters < r.MinLiters {
		r.MinLiters = liters
	}
	if liters > r.MaxLiters {
		r.MaxLiters = liters
	}
	r.AvgLiters += (liters - r.AvgLiters) / float64(r.Count+1)
	r.LastLiters = liters
	r.Count++
}

// Merge folds a later bucket into r.
func (r *Rollup) Merge(o Rollup) {
	if o.Count == 0 {
		return
	}
	if r.Count == 0 {
		start, gran := r.Start, r.Granularity
		*r = o
		r.Start, r.Granularity = start, gran
		return
	}
	if o.MinLiters < r.MinLiters {
		r.MinLiters = o.MinLiters
	}
	if o.MaxLiters > r.MaxLiters {
		r.MaxLiters = o.MaxLiters
	}
	total := r.Count + o.Count
	r.AvgLiters = (r.AvgLiters*float64(r.Count) + o.AvgLiters*float64(o.Count)) / float64(total)
	r.LastLiters = o.LastLiters
	r.Count = total
}

// TimeRange is a half-open [From, To) interval. Zero bounds are unbounded.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// HistorySeries is the answer to a history query: raw readings for raw
// granularity, buckets otherwise.
type HistorySeries struct {
	TankID      string          `json:"tank_id"`
	Granularity Granularity     `json:"granularity"`
	Readings    []SensorReading `json:"readings,omitempty"`
	Buckets     []Rollup        `json:"buckets,omitempty"`
}
