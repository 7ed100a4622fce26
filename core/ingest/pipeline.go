// Package ingest runs the per-tank ingestion workers.
//
// Each tank gets one goroutine reading from a bounded queue, so readings for
// a tank are validated, stored and evaluated strictly in receipt order while
// tanks proceed in parallel. A panic while processing a reading is recovered
// and reported; the worker keeps serving its tank and other tanks are
// unaffected.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kilianp07/tankwatch/core/alert"
	"github.com/kilianp07/tankwatch/core/events"
	"github.com/kilianp07/tankwatch/core/logger"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/core/monitoring"
	"github.com/kilianp07/tankwatch/internal/eventbus"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("ingest pipeline closed")

// Store is what the pipeline needs from the tank store.
type Store interface {
	Append(ctx context.Context, in model.ReadingInput) (model.SensorReading, model.TankState, error)
	Geometry(tankID string) (model.TankGeometry, error)
	Sweep(now time.Time) []model.TankState
	Compact(ctx context.Context, now time.Time) (int, error)
}

// Config sizes the pipeline.
type Config struct {
	QueueSize     int
	SweepInterval time.Duration
	EventBuffer   int
}

// Result answers a submitted reading.
type Result struct {
	Accepted     bool               `json:"accepted"`
	Quality      model.QualityFlag  `json:"quality"`
	VolumeLiters float64            `json:"computed_volume_liters"`
	Reason       model.RejectReason `json:"reason,omitempty"`
	State        model.TankState    `json:"state"`
}

type outcome struct {
	res Result
	err error
}

type job struct {
	ctx   context.Context
	in    model.ReadingInput
	reply chan outcome
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	cfg    Config
	store  Store
	alerts *alert.Engine
	clock  clockwork.Clock
	log    logger.Logger

	readings *eventbus.TypedBus[events.ReadingEvent]
	alertBus *eventbus.TypedBus[model.AlertEvent]
	sweeps   *eventbus.TypedBus[events.SweepEvent]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]chan job
	closed  bool
}

// New returns a pipeline; workers start lazily on a tank's first reading.
func New(cfg Config, st Store, alerts *alert.Engine, clock clockwork.Clock, log logger.Logger) *Pipeline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		alerts:   alerts,
		clock:    clock,
		log:      logger.OrNop(log),
		readings: eventbus.NewTyped[events.ReadingEvent](cfg.EventBuffer),
		alertBus: eventbus.NewTyped[model.AlertEvent](cfg.EventBuffer),
		sweeps:   eventbus.NewTyped[events.SweepEvent](cfg.EventBuffer),
		ctx:      ctx,
		cancel:   cancel,
		workers:  map[string]chan job{},
	}
}

// Readings is the bus of per-reading outcomes.
func (p *Pipeline) Readings() *eventbus.TypedBus[events.ReadingEvent] { return p.readings }

// Alerts is the bus of emitted alert events.
func (p *Pipeline) Alerts() *eventbus.TypedBus[model.AlertEvent] { return p.alertBus }

// Sweeps is the bus of sweep results.
func (p *Pipeline) Sweeps() *eventbus.TypedBus[events.SweepEvent] { return p.sweeps }

// BusStats reports subscriber counts and dropped deliveries per bus.
func (p *Pipeline) BusStats() map[string]eventbus.Stats {
	return map[string]eventbus.Stats{
		"readings": p.readings.Stats(),
		"alerts":   p.alertBus.Stats(),
		"sweeps":   p.sweeps.Stats(),
	}
}

// Submit hands in to its tank's worker and waits for the outcome. Rejected
// readings return a Result with Accepted false together with the typed error
// from core/model.
func (p *Pipeline) Submit(ctx context.Context, in model.ReadingInput) (Result, error) {
	if _, err := p.store.Geometry(in.TankID); errors.Is(err, model.ErrUnknownTank) {
		verr := &model.ValidationError{TankID: in.TankID, Reason: model.RejectUnknownTank}
		p.readings.Publish(events.ReadingEvent{
			Reading: model.SensorReading{TankID: in.TankID, RawDistanceCm: in.RawDistanceCm, CapturedAt: in.CapturedAt, Quality: model.QualityRejected},
			Reason:  model.RejectUnknownTank,
			Err:     verr,
		})
		return Result{Quality: model.QualityRejected, Reason: model.RejectUnknownTank}, verr
	}
	queue, err := p.worker(in.TankID)
	if err != nil {
		return Result{}, err
	}
	j := job{ctx: ctx, in: in, reply: make(chan outcome, 1)}
	select {
	case queue <- j:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-p.ctx.Done():
		return Result{}, ErrClosed
	}
	select {
	case o := <-j.reply:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-p.ctx.Done():
		return Result{}, ErrClosed
	}
}

func (p *Pipeline) worker(tankID string) (chan job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	q, ok := p.workers[tankID]
	if !ok {
		q = make(chan job, p.cfg.QueueSize)
		p.workers[tankID] = q
		p.wg.Add(1)
		go p.run(tankID, q)
	}
	return q, nil
}

func (p *Pipeline) run(tankID string, q chan job) {
	defer p.wg.Done()
	p.log.Debugf("tank %s: worker started", tankID)
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-q:
			if j.ctx.Err() != nil {
				j.reply <- outcome{err: j.ctx.Err()}
				continue
			}
			res, err := p.process(j.ctx, j.in)
			j.reply <- outcome{res: res, err: err}
		}
	}
}

func (p *Pipeline) process(ctx context.Context, in model.ReadingInput) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tank %s: reading processing panicked: %v", in.TankID, r)
			p.log.Errorf("%v", err)
			monitoring.CaptureTank(err, in.TankID, "ingest")
			res = Result{Quality: model.QualityRejected}
		}
	}()

	start := p.clock.Now()
	reading, st, err := p.store.Append(ctx, in)
	ev := events.ReadingEvent{Reading: reading, State: st, Err: err, Latency: p.clock.Since(start)}
	res = Result{Quality: reading.Quality, State: st}

	var verr *model.ValidationError
	switch {
	case err == nil:
		ev.Accepted = true
		res.Accepted = true
		res.VolumeLiters = reading.VolumeLiters
		p.publishAlerts(p.alerts.Evaluate(ctx, st))
	case errors.As(err, &verr):
		ev.Reason, res.Reason = verr.Reason, verr.Reason
		p.log.Debugf("tank %s: reading rejected: %s", in.TankID, verr.Reason)
	default:
		if reason, ok := model.RejectReasonOf(err); ok {
			ev.Reason, res.Reason = reason, reason
		}
		p.log.Errorf("tank %s: %v", in.TankID, err)
		monitoring.CaptureTank(err, in.TankID, "ingest")
		station := st.StationID
		if station == "" {
			if g, gerr := p.store.Geometry(in.TankID); gerr == nil {
				station = g.StationID
			}
		}
		p.publishAlerts(p.alerts.ReportError(ctx, in.TankID, station, err))
	}
	p.readings.Publish(ev)
	return res, err
}

func (p *Pipeline) publishAlerts(evs []model.AlertEvent) {
	for _, ev := range evs {
		p.alertBus.Publish(ev)
	}
}

// Start launches the periodic health sweep. It stops when ctx is done or the
// pipeline is closed.
func (p *Pipeline) Start(ctx context.Context) {
	if p.cfg.SweepInterval <= 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if err := monitoring.Recovered(recover(), "sweeper"); err != nil {
				p.log.Errorf("%v", err)
			}
		}()
		ticker := p.clock.NewTicker(p.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.ctx.Done():
				return
			case <-ticker.Chan():
				p.SweepOnce(ctx)
			}
		}
	}()
}

// SweepOnce evaluates health for every tank, raises sensor health alerts for
// tanks whose health changed and compacts old raw readings.
func (p *Pipeline) SweepOnce(ctx context.Context) events.SweepEvent {
	now := p.clock.Now()
	ev := events.SweepEvent{At: now, Changed: p.store.Sweep(now)}
	for _, st := range ev.Changed {
		p.log.Infof("tank %s: health %s", st.TankID, st.Health)
		p.publishAlerts(p.alerts.EvaluateHealth(ctx, st))
	}
	n, err := p.store.Compact(ctx, now)
	if err != nil {
		p.log.Warnf("compaction: %v", err)
	}
	ev.Compacted = n
	p.sweeps.Publish(ev)
	return ev
}

// Close stops all workers and the sweeper and closes the buses. Readings
// still queued are abandoned; their submitters get ErrClosed or their own
// context error.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
	p.readings.Close()
	p.alertBus.Close()
	p.sweeps.Close()
}
