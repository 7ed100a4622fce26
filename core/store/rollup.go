package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/tankwatch/core/geometry"
	"github.com/kilianp07/tankwatch/core/model"
)

// ErrRawGranularity is returned when buckets are requested at raw
// granularity; raw samples come from History.
var ErrRawGranularity = errors.New("raw granularity has no buckets")

// cutoff is the start of the raw retention window, aligned to the hour so
// that compacted buckets are always complete.
func (s *Store) cutoff(now time.Time) time.Time {
	if s.cfg.RawRetention <= 0 {
		return time.Time{}
	}
	return model.GranularityHourly.Truncate(now.Add(-s.cfg.RawRetention))
}

// fold adds r to the hourly bucket it belongs to. Readings arrive in capture
// order so only the last bucket can be extended.
func fold(buckets []model.Rollup, r model.SensorReading) []model.Rollup {
	start := model.GranularityHourly.Truncate(r.CapturedAt)
	n := len(buckets)
	if n == 0 || !buckets[n-1].Start.Equal(start) {
		buckets = append(buckets, model.Rollup{TankID: r.TankID, Start: start, Granularity: model.GranularityHourly})
		n++
	}
	buckets[n-1].Add(r.VolumeLiters)
	return buckets
}

// Compact moves raw readings older than the retention window out of memory
// into hourly rollups and persists those rollups. The repository keeps the
// raw readings. It returns the number of readings compacted.
func (s *Store) Compact(ctx context.Context, now time.Time) (int, error) {
	cut := s.cutoff(now)
	if cut.IsZero() {
		return 0, nil
	}
	total := 0
	var errs []error
	for _, t := range s.list() {
		n, err := s.compactTank(ctx, t, cut)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if total > 0 {
		s.log.Debugf("compacted %d readings older than %s", total, cut.Format(time.RFC3339))
	}
	return total, errors.Join(errs...)
}

func (s *Store) compactTank(ctx context.Context, t *tank, cut time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := 0
	for k < len(t.raw) && t.raw[k].CapturedAt.Before(cut) {
		k++
	}
	if k == 0 {
		if cut.After(t.compactedTo) {
			t.compactedTo = cut
		}
		return 0, nil
	}
	var fresh []model.Rollup
	for _, r := range t.raw[:k] {
		fresh = fold(fresh, r)
	}
	if err := s.repo.SaveRollups(ctx, fresh); err != nil {
		return 0, fmt.Errorf("save rollups %s: %w", t.geom.TankID, err)
	}
	t.hourly = append(t.hourly, fresh...)
	t.raw = append([]model.SensorReading(nil), t.raw[k:]...)
	t.compactedTo = cut
	return k, nil
}

// Rollups returns hourly or daily buckets for tankID whose start lies in
// rng, merging compacted buckets with buckets built from raw readings.
func (s *Store) Rollups(tankID string, rng model.TimeRange, g model.Granularity) ([]model.Rollup, error) {
	if g == model.GranularityRaw {
		return nil, ErrRawGranularity
	}
	t := s.lookup(tankID)
	if t == nil {
		return nil, model.ErrUnknownTank
	}
	t.mu.Lock()
	var hourly []model.Rollup
	for _, b := range t.hourly {
		if rng.Contains(b.Start) {
			hourly = append(hourly, b)
		}
	}
	for _, r := range t.raw {
		if rng.Contains(r.CapturedAt) {
			hourly = fold(hourly, r)
		}
	}
	t.mu.Unlock()

	if g == model.GranularityHourly {
		return hourly, nil
	}
	var out []model.Rollup
	for _, b := range hourly {
		start := g.Truncate(b.Start)
		n := len(out)
		if n == 0 || !out[n-1].Start.Equal(start) {
			out = append(out, model.Rollup{TankID: tankID, Start: start, Granularity: g})
			n++
		}
		out[n-1].Merge(b)
	}
	return out, nil
}

// Load replays every persisted tank: geometries, rollups and readings. The
// estimator sees the full history so rates survive a restart; readings older
// than the retention window go to rollups instead of memory.
func (s *Store) Load(ctx context.Context) error {
	geoms, err := s.repo.ListGeometries(ctx)
	if err != nil {
		return fmt.Errorf("list geometries: %w", err)
	}
	now := s.clock.Now()
	cut := s.cutoff(now)
	for _, g := range geoms {
		t := &tank{est: s.newEstimator(), health: model.HealthFresh}
		conv, gerr := geometry.New(g)
		t.setGeometry(g, conv, gerr)
		if gerr != nil {
			s.log.Warnf("tank %s: stored geometry v%d invalid: %v", g.TankID, g.Version, gerr)
		}

		rollups, err := s.repo.LoadRollups(ctx, g.TankID, model.TimeRange{})
		if err != nil {
			return fmt.Errorf("load rollups %s: %w", g.TankID, err)
		}
		var covered time.Time
		if n := len(rollups); n > 0 {
			covered = rollups[n-1].Start.Add(time.Hour)
		}
		readings, err := s.repo.LoadHistory(ctx, g.TankID, model.TimeRange{})
		if err != nil {
			return fmt.Errorf("load history %s: %w", g.TankID, err)
		}
		var fresh []model.Rollup
		prevVersion := 0
		for _, r := range readings {
			if prevVersion != 0 && r.GeometryVersion != prevVersion {
				t.est = s.newEstimator()
			}
			prevVersion = r.GeometryVersion
			t.accept(r)
			if !cut.IsZero() && r.CapturedAt.Before(cut) {
				if !r.CapturedAt.Before(covered) {
					fresh = fold(fresh, r)
				}
				continue
			}
			t.raw = append(t.raw, r)
		}
		if prevVersion != 0 && prevVersion != g.Version {
			// Recalibrated after the last reading: start the trend over.
			t.est = s.newEstimator()
			t.state.ConsumptionRatePerHour = 0
			t.state.TrendConfidence = 0
			t.state.SamplesSinceRefill = 0
		}
		if len(fresh) > 0 {
			if err := s.repo.SaveRollups(ctx, fresh); err != nil {
				return fmt.Errorf("save rollups %s: %w", g.TankID, err)
			}
		}
		t.hourly = append(rollups, fresh...)
		t.compactedTo = cut

		s.mu.Lock()
		s.tanks[g.TankID] = t
		s.mu.Unlock()
		s.log.Infof("tank %s: loaded %d readings, %d rollups", g.TankID, len(readings), len(t.hourly))
	}
	return nil
}
