// Package alert turns tank states into alert and clear events.
//
// Stock level alerts move through normal, low and critical. Entering a worse
// level needs Consecutive readings below its threshold and leaving it needs
// Consecutive readings above threshold plus hysteresis, so one noisy sample
// near a boundary never flips the state. Sensor health and system errors are
// tracked as separate kinds. A (tank, kind, status) is re-notified at most
// once per cooldown.
package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kilianp07/tankwatch/core/logger"
	"github.com/kilianp07/tankwatch/core/model"
)

// Config holds thresholds in percent of capacity.
type Config struct {
	LowThresholdPct       float64
	LowHysteresisPct      float64
	CriticalThresholdPct  float64
	CriticalHysteresisPct float64
	Consecutive           int
	Cooldown              time.Duration
}

// DefaultConfig mirrors the config file defaults.
func DefaultConfig() Config {
	return Config{
		LowThresholdPct:       20,
		LowHysteresisPct:      5,
		CriticalThresholdPct:  10,
		CriticalHysteresisPct: 5,
		Consecutive:           2,
		Cooldown:              30 * time.Minute,
	}
}

type key struct {
	tank string
	kind model.AlertKind
}

type sentKey struct {
	key
	status model.AlertStatus
}

type streaks struct {
	belowLow, belowCritical int
	aboveLow, aboveCritical int
}

// Engine is safe for concurrent use. Calls for one tank are expected in
// reading order.
type Engine struct {
	cfg      Config
	clock    clockwork.Clock
	log      logger.Logger
	notifier Notifier

	mu       sync.Mutex
	states   map[key]*model.AlertState
	streaks  map[string]*streaks
	lastSent map[sentKey]time.Time
}

// NewEngine returns an engine delivering to n. A nil notifier drops events.
func NewEngine(cfg Config, n Notifier, clock clockwork.Clock, log logger.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if n == nil {
		n = NopNotifier{}
	}
	if cfg.Consecutive < 1 {
		cfg.Consecutive = 1
	}
	return &Engine{
		cfg:      cfg,
		clock:    clock,
		log:      logger.OrNop(log),
		notifier: n,
		states:   map[key]*model.AlertState{},
		streaks:  map[string]*streaks{},
		lastSent: map[sentKey]time.Time{},
	}
}

// Evaluate runs the stock level machine for an accepted reading, then the
// health and system checks. It returns the events emitted.
func (e *Engine) Evaluate(ctx context.Context, st model.TankState) []model.AlertEvent {
	evs := e.locked(func() []model.AlertEvent {
		next := e.stockStatus(st)
		evs := e.apply(st, model.AlertStock, next, st.CurrentPercent, fmt.Sprintf("stock at %.1f%%", st.CurrentPercent))
		evs = append(evs, e.healthLocked(st)...)
		return append(evs, e.apply(st, model.AlertSystem, model.StatusNormal, 0, "ingestion recovered")...)
	})
	return e.deliver(ctx, evs)
}

// EvaluateHealth runs only the sensor health machine, for sweeps.
func (e *Engine) EvaluateHealth(ctx context.Context, st model.TankState) []model.AlertEvent {
	evs := e.locked(func() []model.AlertEvent { return e.healthLocked(st) })
	return e.deliver(ctx, evs)
}

// ReportError raises a system alert for a tank whose readings cannot be
// stored or converted.
func (e *Engine) ReportError(ctx context.Context, tankID, stationID string, err error) []model.AlertEvent {
	evs := e.locked(func() []model.AlertEvent {
		return e.apply(model.TankState{TankID: tankID, StationID: stationID}, model.AlertSystem, model.StatusError, 0, err.Error())
	})
	return e.deliver(ctx, evs)
}

// locked runs fn under e.mu. The mutex is released even if fn panics so a
// fault in one tank's evaluation cannot block the others.
func (e *Engine) locked(fn func() []model.AlertEvent) []model.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn()
}

func (e *Engine) healthLocked(st model.TankState) []model.AlertEvent {
	status := model.StatusNormal
	switch st.Health {
	case model.HealthStale:
		status = model.StatusStale
	case model.HealthOffline:
		status = model.StatusOffline
	}
	msg := "sensor reporting"
	if status != model.StatusNormal {
		if st.HasReading() {
			msg = fmt.Sprintf("no reading since %s", st.LastReadingAt.Format(time.RFC3339))
		} else {
			msg = "no reading received yet"
		}
	}
	var minutes float64
	if st.HasReading() {
		minutes = e.clock.Since(st.LastReadingAt).Minutes()
	}
	return e.apply(st, model.AlertSensorHealth, status, minutes, msg)
}

// stockStatus updates the streak counters with st and returns the status the
// stock machine should be in.
func (e *Engine) stockStatus(st model.TankState) model.AlertStatus {
	s := e.streaks[st.TankID]
	if s == nil {
		s = &streaks{}
		e.streaks[st.TankID] = s
	}
	pct := st.CurrentPercent
	bump := func(n *int, cond bool) {
		if cond {
			*n++
		} else {
			*n = 0
		}
	}
	bump(&s.belowLow, pct < e.cfg.LowThresholdPct)
	bump(&s.belowCritical, pct < e.cfg.CriticalThresholdPct)
	bump(&s.aboveLow, pct > e.cfg.LowThresholdPct+e.cfg.LowHysteresisPct)
	bump(&s.aboveCritical, pct > e.cfg.CriticalThresholdPct+e.cfg.CriticalHysteresisPct)

	n := e.cfg.Consecutive
	cur := model.StatusNormal
	if as := e.states[key{st.TankID, model.AlertStock}]; as != nil {
		cur = as.Status
	}
	switch cur {
	case model.StatusCritical:
		if s.aboveCritical >= n {
			if s.aboveLow >= n {
				return model.StatusNormal
			}
			return model.StatusLow
		}
	case model.StatusLow:
		if s.belowCritical >= n {
			return model.StatusCritical
		}
		if s.aboveLow >= n {
			return model.StatusNormal
		}
	default:
		if s.belowCritical >= n {
			return model.StatusCritical
		}
		if s.belowLow >= n {
			return model.StatusLow
		}
	}
	return cur
}

// apply moves (tank, kind) to next and returns the event to deliver, if any.
// Every transition is delivered. An unchanged non-normal state yields a
// reminder once the cooldown since the last notification of that status has
// passed.
func (e *Engine) apply(st model.TankState, kind model.AlertKind, next model.AlertStatus, value float64, msg string) []model.AlertEvent {
	now := e.clock.Now()
	k := key{st.TankID, kind}
	as := e.states[k]
	if as == nil {
		if next == model.StatusNormal {
			return nil
		}
		as = &model.AlertState{TankID: st.TankID, StationID: st.StationID, Kind: kind, Status: model.StatusNormal, EnteredAt: now}
		e.states[k] = as
	}
	if st.StationID != "" {
		as.StationID = st.StationID
	}

	sk := sentKey{k, next}
	if as.Status == next {
		if next == model.StatusNormal || now.Sub(e.lastSent[sk]) < e.cfg.Cooldown {
			return nil
		}
		as.LastNotifiedAt = now
		e.lastSent[sk] = now
		return []model.AlertEvent{e.event(as, next, value, msg, true, now)}
	}

	prev := as.Status
	as.Status = next
	as.EnteredAt = now
	as.LastNotifiedAt = now
	e.lastSent[sk] = now
	ev := e.event(as, next, value, msg, false, now)
	ev.Previous = prev
	return []model.AlertEvent{ev}
}

func (e *Engine) event(as *model.AlertState, status model.AlertStatus, value float64, msg string, reminder bool, now time.Time) model.AlertEvent {
	return model.AlertEvent{
		ID:        uuid.NewString(),
		TankID:    as.TankID,
		StationID: as.StationID,
		Kind:      as.Kind,
		Status:    status,
		Previous:  status,
		Value:     value,
		Message:   msg,
		Reminder:  reminder,
		At:        now,
	}
}

// deliver must be called without e.mu held.
func (e *Engine) deliver(ctx context.Context, evs []model.AlertEvent) []model.AlertEvent {
	for _, ev := range evs {
		if err := e.notifier.Notify(ctx, ev); err != nil {
			e.log.Errorf("tank %s: notify %s %s: %v", ev.TankID, ev.Kind, ev.Status, err)
		}
	}
	return evs
}

// ActiveAlerts lists non-normal alert states of a station, or of every
// station when stationID is empty.
func (e *Engine) ActiveAlerts(stationID string) []model.AlertState {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []model.AlertState
	for _, as := range e.states {
		if as.Status == model.StatusNormal {
			continue
		}
		if stationID != "" && as.StationID != stationID {
			continue
		}
		out = append(out, *as)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TankID != out[j].TankID {
			return out[i].TankID < out[j].TankID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// State returns the alert state of (tankID, kind).
func (e *Engine) State(tankID string, kind model.AlertKind) model.AlertState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if as := e.states[key{tankID, kind}]; as != nil {
		return *as
	}
	return model.AlertState{TankID: tankID, Kind: kind, Status: model.StatusNormal}
}
