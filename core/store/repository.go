package store

import (
	"context"
	"sort"
	"sync"

	"github.com/kilianp07/tankwatch/core/model"
)

// Repository is the durable side of the store. Implementations must return
// readings ordered by capture time.
type Repository interface {
	SaveReading(ctx context.Context, r model.SensorReading) error
	LoadHistory(ctx context.Context, tankID string, rng model.TimeRange) ([]model.SensorReading, error)
	SaveGeometry(ctx context.Context, g model.TankGeometry) error
	// LoadGeometry returns the latest version for the tank or
	// model.ErrUnknownTank.
	LoadGeometry(ctx context.Context, tankID string) (model.TankGeometry, error)
	// ListGeometries returns the latest version of every tank.
	ListGeometries(ctx context.Context) ([]model.TankGeometry, error)
	SaveRollups(ctx context.Context, rollups []model.Rollup) error
	LoadRollups(ctx context.Context, tankID string, rng model.TimeRange) ([]model.Rollup, error)
}

// MemoryRepository keeps everything in process. It backs tests and the
// "memory" persistence backend.
type MemoryRepository struct {
	mu         sync.RWMutex
	readings   map[string][]model.SensorReading
	geometries map[string][]model.TankGeometry
	rollups    map[string]map[int64]model.Rollup
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		readings:   map[string][]model.SensorReading{},
		geometries: map[string][]model.TankGeometry{},
		rollups:    map[string]map[int64]model.Rollup{},
	}
}

func (m *MemoryRepository) SaveReading(_ context.Context, r model.SensorReading) error {
	m.mu.Lock()
	m.readings[r.TankID] = append(m.readings[r.TankID], r)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) LoadHistory(_ context.Context, tankID string, rng model.TimeRange) ([]model.SensorReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.SensorReading
	for _, r := range m.readings[tankID] {
		if rng.Contains(r.CapturedAt) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryRepository) SaveGeometry(_ context.Context, g model.TankGeometry) error {
	m.mu.Lock()
	m.geometries[g.TankID] = append(m.geometries[g.TankID], g)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) LoadGeometry(_ context.Context, tankID string) (model.TankGeometry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.geometries[tankID]
	if len(versions) == 0 {
		return model.TankGeometry{}, model.ErrUnknownTank
	}
	return versions[len(versions)-1], nil
}

func (m *MemoryRepository) ListGeometries(_ context.Context) ([]model.TankGeometry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.TankGeometry, 0, len(m.geometries))
	for _, versions := range m.geometries {
		if len(versions) > 0 {
			out = append(out, versions[len(versions)-1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TankID < out[j].TankID })
	return out, nil
}

func (m *MemoryRepository) SaveRollups(_ context.Context, rollups []model.Rollup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rollups {
		byStart := m.rollups[r.TankID]
		if byStart == nil {
			byStart = map[int64]model.Rollup{}
			m.rollups[r.TankID] = byStart
		}
		byStart[r.Start.Unix()] = r
	}
	return nil
}

func (m *MemoryRepository) LoadRollups(_ context.Context, tankID string, rng model.TimeRange) ([]model.Rollup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Rollup
	for _, r := range m.rollups[tankID] {
		if rng.Contains(r.Start) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
