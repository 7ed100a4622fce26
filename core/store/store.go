// Package store owns the per-tank reading history and the derived TankState.
//
// Every tank is its own shard guarded by its own mutex, so appends for one
// tank are serialized while different tanks proceed in parallel. A reading
// only reaches memory after the Repository has durably accepted it.
package store

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/kilianp07/tankwatch/core/estimator"
	"github.com/kilianp07/tankwatch/core/geometry"
	"github.com/kilianp07/tankwatch/core/logger"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/core/validation"
)

// Config tunes retention, health and durability retries.
type Config struct {
	StaleAfter       time.Duration
	OfflineAfter     time.Duration
	RawRetention     time.Duration
	MaxWriteAttempts int
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	Validation       validation.Config
	Estimator        estimator.Config
}

// DefaultConfig mirrors the config file defaults.
func DefaultConfig() Config {
	return Config{
		StaleAfter:       15 * time.Minute,
		OfflineAfter:     time.Hour,
		RawRetention:     30 * 24 * time.Hour,
		MaxWriteAttempts: 5,
		BackoffInitial:   100 * time.Millisecond,
		BackoffMax:       2 * time.Second,
		Validation:       validation.DefaultConfig(),
		Estimator:        estimator.DefaultConfig(),
	}
}

type tank struct {
	mu           sync.Mutex
	geom         model.TankGeometry
	conv         *geometry.Converter
	geomErr      error
	raw          []model.SensorReading
	hourly       []model.Rollup
	compactedTo  time.Time
	est          *estimator.Estimator
	state        model.TankState
	lastAccepted time.Time
	health       model.Health
}

// Store is safe for concurrent use.
type Store struct {
	cfg       Config
	repo      Repository
	clock     clockwork.Clock
	log       logger.Logger
	validator *validation.Validator

	mu    sync.RWMutex
	tanks map[string]*tank
}

// New builds an empty store on top of repo. Call Load to replay persisted
// tanks.
func New(cfg Config, repo Repository, clock clockwork.Clock, log logger.Logger) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.MaxWriteAttempts < 1 {
		cfg.MaxWriteAttempts = 1
	}
	return &Store{
		cfg:       cfg,
		repo:      repo,
		clock:     clock,
		log:       logger.OrNop(log),
		validator: validation.New(cfg.Validation, clock),
		tanks:     map[string]*tank{},
	}
}

// Clock returns the clock the store judges time with.
func (s *Store) Clock() clockwork.Clock { return s.clock }

// Provision registers a tank or stores a new geometry version for an existing
// one. An invalid geometry is still recorded so that ingestion for the tank
// is refused with the returned *model.GeometryConfigError until corrected.
func (s *Store) Provision(ctx context.Context, g model.TankGeometry) (model.TankGeometry, error) {
	if g.TankID == "" {
		return g, &model.GeometryConfigError{Reason: "tank id is required"}
	}
	s.mu.Lock()
	t, ok := s.tanks[g.TankID]
	if !ok {
		t = &tank{est: s.newEstimator()}
		s.tanks[g.TankID] = t
	}
	s.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.geom.Version > 0:
		g.Version = t.geom.Version + 1
	case g.Version < 1:
		g.Version = 1
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.clock.Now()
	}
	conv, gerr := geometry.New(g)
	if err := s.repo.SaveGeometry(ctx, g); err != nil {
		if !ok {
			s.mu.Lock()
			delete(s.tanks, g.TankID)
			s.mu.Unlock()
		}
		return g, fmt.Errorf("save geometry %s: %w", g.TankID, err)
	}
	if t.geom.Version > 0 {
		// Volumes from different calibrations are not comparable.
		t.est = s.newEstimator()
		t.state.ConsumptionRatePerHour = 0
		t.state.TrendConfidence = 0
		t.state.SamplesSinceRefill = 0
	}
	t.setGeometry(g, conv, gerr)
	if t.health == "" {
		t.health = model.HealthFresh
	}
	if gerr != nil {
		s.log.Errorf("tank %s: geometry v%d rejected: %v", g.TankID, g.Version, gerr)
	} else {
		s.log.Infof("tank %s: geometry v%d provisioned (%s, %.0f L)", g.TankID, g.Version, g.Shape, conv.Capacity())
	}
	return g, gerr
}

// Recalibrate stores a new geometry version for a known tank.
func (s *Store) Recalibrate(ctx context.Context, g model.TankGeometry) (model.TankGeometry, error) {
	if s.lookup(g.TankID) == nil {
		return g, model.ErrUnknownTank
	}
	return s.Provision(ctx, g)
}

func (s *Store) newEstimator() *estimator.Estimator { return estimator.New(s.cfg.Estimator) }

func (t *tank) setGeometry(g model.TankGeometry, conv *geometry.Converter, gerr error) {
	t.geom = g
	t.conv = conv
	t.geomErr = gerr
	t.state.TankID = g.TankID
	t.state.StationID = g.StationID
	t.state.FuelType = g.FuelType
	if conv != nil {
		t.state.CapacityLiters = conv.Capacity()
	} else {
		t.state.CapacityLiters = g.CapacityLiters
	}
	if t.state.HasReading() {
		t.state.CurrentPercent = percentOf(t.state.CurrentVolumeLiters, t.state.CapacityLiters)
	}
}

func (s *Store) lookup(id string) *tank {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tanks[id]
}

func (s *Store) list() []*tank {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*tank, 0, len(s.tanks))
	for _, t := range s.tanks {
		out = append(out, t)
	}
	return out
}

// Append validates in, persists it and recomputes the tank state. Rejected
// readings return a *model.ValidationError and a SensorReading flagged
// rejected; a failed write returns a *model.DurabilityError. In both cases
// the state is left untouched and returned as it was.
func (s *Store) Append(ctx context.Context, in model.ReadingInput) (model.SensorReading, model.TankState, error) {
	now := s.clock.Now()
	rejected := model.SensorReading{
		TankID:        in.TankID,
		RawDistanceCm: in.RawDistanceCm,
		CapturedAt:    in.CapturedAt,
		ReceivedAt:    now,
		Quality:       model.QualityRejected,
	}
	t := s.lookup(in.TankID)
	if t == nil {
		return rejected, model.TankState{TankID: in.TankID}, &model.ValidationError{TankID: in.TankID, Reason: model.RejectUnknownTank}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.geomErr != nil {
		return rejected, s.snapshot(t, now), t.geomErr
	}
	r, err := s.validator.Validate(in, t.conv, t.lastAccepted)
	if err != nil {
		return rejected, s.snapshot(t, now), err
	}
	if err := s.persist(ctx, r); err != nil {
		return r, s.snapshot(t, now), err
	}
	t.accept(r)
	t.raw = append(t.raw, r)
	st := s.snapshot(t, s.clock.Now())
	t.health = st.Health
	return r, st, nil
}

func (t *tank) accept(r model.SensorReading) {
	est := t.est.Observe(r.CapturedAt, r.VolumeLiters)
	t.lastAccepted = r.CapturedAt
	t.state.CurrentVolumeLiters = r.VolumeLiters
	t.state.CurrentPercent = percentOf(r.VolumeLiters, t.state.CapacityLiters)
	t.state.LastReadingAt = r.CapturedAt
	t.state.ConsumptionRatePerHour = est.RatePerHour
	t.state.TrendConfidence = est.Confidence
	t.state.SamplesSinceRefill = est.SamplesSinceRefill
	t.state.LastRefillAt = est.LastRefillAt
	t.state.ReadingCount++
}

func (s *Store) persist(ctx context.Context, r model.SensorReading) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.BackoffInitial
	policy.MaxInterval = s.cfg.BackoffMax
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.MaxWriteAttempts-1)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := s.repo.SaveReading(ctx, r)
		if err != nil {
			s.log.Warnf("tank %s: save reading attempt %d/%d: %v", r.TankID, attempts, s.cfg.MaxWriteAttempts, err)
		}
		return err
	}, b)
	if err != nil {
		s.log.Errorf("tank %s: reading at %s not persisted: %v", r.TankID, r.CapturedAt.Format(time.RFC3339), err)
		return &model.DurabilityError{TankID: r.TankID, Attempts: attempts, Err: err}
	}
	return nil
}

// snapshot must be called with t.mu held.
func (s *Store) snapshot(t *tank, now time.Time) model.TankState {
	st := t.state
	st.Health = s.healthAt(t, now)
	return st
}

func (s *Store) healthAt(t *tank, now time.Time) model.Health {
	ref := t.state.LastReadingAt
	if ref.IsZero() {
		ref = t.geom.CreatedAt
	}
	age := now.Sub(ref)
	switch {
	case s.cfg.OfflineAfter > 0 && age > s.cfg.OfflineAfter:
		return model.HealthOffline
	case s.cfg.StaleAfter > 0 && age > s.cfg.StaleAfter:
		return model.HealthStale
	default:
		return model.HealthFresh
	}
}

// State returns the current state with health evaluated now.
func (s *Store) State(tankID string) (model.TankState, error) {
	t := s.lookup(tankID)
	if t == nil {
		return model.TankState{}, model.ErrUnknownTank
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return s.snapshot(t, s.clock.Now()), nil
}

// States lists tank states of a station, or of all tanks when stationID is
// empty, ordered by tank id.
func (s *Store) States(stationID string) []model.TankState {
	now := s.clock.Now()
	var out []model.TankState
	for _, t := range s.list() {
		t.mu.Lock()
		if stationID == "" || t.geom.StationID == stationID {
			out = append(out, s.snapshot(t, now))
		}
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TankID < out[j].TankID })
	return out
}

// Geometry returns the active geometry version of a tank.
func (s *Store) Geometry(tankID string) (model.TankGeometry, error) {
	t := s.lookup(tankID)
	if t == nil {
		return model.TankGeometry{}, model.ErrUnknownTank
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.geom, t.geomErr
}

// Sweep re-evaluates health for every tank and returns the states whose
// health changed since the previous sweep or append.
func (s *Store) Sweep(now time.Time) []model.TankState {
	var changed []model.TankState
	for _, t := range s.list() {
		t.mu.Lock()
		st := s.snapshot(t, now)
		if st.Health != t.health {
			t.health = st.Health
			changed = append(changed, st)
		}
		t.mu.Unlock()
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].TankID < changed[j].TankID })
	return changed
}

// History yields readings of tankID captured within rng in capture order.
// Readings that were compacted out of memory are read back from the
// repository. The sequence can be ranged over more than once.
func (s *Store) History(ctx context.Context, tankID string, rng model.TimeRange) iter.Seq2[model.SensorReading, error] {
	return func(yield func(model.SensorReading, error) bool) {
		t := s.lookup(tankID)
		if t == nil {
			yield(model.SensorReading{}, model.ErrUnknownTank)
			return
		}
		t.mu.Lock()
		hot, compactedTo := t.raw, t.compactedTo
		t.mu.Unlock()

		if !compactedTo.IsZero() && (rng.From.IsZero() || rng.From.Before(compactedTo)) {
			cold := model.TimeRange{From: rng.From, To: compactedTo}
			if !rng.To.IsZero() && rng.To.Before(compactedTo) {
				cold.To = rng.To
			}
			readings, err := s.repo.LoadHistory(ctx, tankID, cold)
			if err != nil {
				yield(model.SensorReading{}, fmt.Errorf("load history %s: %w", tankID, err))
				return
			}
			for _, r := range readings {
				if !yield(r, nil) {
					return
				}
			}
		}

		start := sort.Search(len(hot), func(i int) bool { return !hot[i].CapturedAt.Before(rng.From) })
		for _, r := range hot[start:] {
			if !rng.Contains(r.CapturedAt) {
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func percentOf(liters, capacity float64) float64 {
	if capacity <= 0 {
		return 0
	}
	p := liters / capacity * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
