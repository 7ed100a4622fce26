// Package simulator generates seeded tank sensor readings with consumption,
// refills and faulty samples. It is a fixture for demos and load tests.
package simulator

import (
	"context"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/infra/logger"
)

// Stats summarises a run.
type Stats struct {
	Emitted int
	Dropped int
	Failed  int
	Refills int
}

type Simulator struct {
	cfg   Config
	tanks []*Tank
	emit  Emitter
	clock clockwork.Clock
	log   logger.Logger
}

// New prepares one simulated tank per geometry. Geometries the converter
// refuses are skipped.
func New(cfg Config, geoms []model.TankGeometry, emit Emitter, clock clockwork.Clock) (*Simulator, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Simulator{cfg: cfg, emit: emit, clock: clock, log: logger.New("simulator")}
	rng := rand.New(rand.NewSource(cfg.Seed))
	for _, g := range geoms {
		t, err := NewTank(g, cfg, rand.New(rand.NewSource(rng.Int63())))
		if err != nil {
			s.log.Warnf("tank %s skipped: %v", g.TankID, err)
			continue
		}
		s.tanks = append(s.tanks, t)
	}
	return s, nil
}

// Tanks returns the simulated tanks.
func (s *Simulator) Tanks() []*Tank { return s.tanks }

// Run emits samples stamped start, start+Interval, ... until Steps is
// reached or ctx is done.
func (s *Simulator) Run(ctx context.Context, start time.Time) (Stats, error) {
	var st Stats
	for step := 0; s.cfg.Steps == 0 || step < s.cfg.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return s.finish(st), err
		}
		at := start.Add(time.Duration(step) * s.cfg.Interval)
		for _, t := range s.tanks {
			in, ok := t.Step(at, s.cfg.Interval)
			if !ok {
				st.Dropped++
				continue
			}
			if err := s.emit.Emit(ctx, in); err != nil {
				st.Failed++
				s.log.Warnf("tank %s: emit: %v", in.TankID, err)
				continue
			}
			st.Emitted++
		}
		if s.cfg.Realtime {
			select {
			case <-ctx.Done():
				return s.finish(st), ctx.Err()
			case <-s.clock.After(s.cfg.Interval):
			}
		}
	}
	return s.finish(st), nil
}

func (s *Simulator) finish(st Stats) Stats {
	for _, t := range s.tanks {
		st.Refills += t.Refills
	}
	s.log.Infof("simulation done: %d emitted, %d dropped, %d failed, %d refills", st.Emitted, st.Dropped, st.Failed, st.Refills)
	return st
}
