package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tankwatch/core/events"
	coremetrics "github.com/kilianp07/tankwatch/core/metrics"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/internal/eventbus"
)

type recordingSink struct {
	mu       sync.Mutex
	readings []coremetrics.ReadingRecord
	states   []model.TankState
	alerts   []model.AlertEvent
	sweeps   []coremetrics.SweepRecord
}

func (r *recordingSink) RecordReading(rec coremetrics.ReadingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, rec)
	return nil
}

func (r *recordingSink) RecordTankState(st model.TankState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
	return nil
}

func (r *recordingSink) RecordAlert(ev model.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, ev)
	return nil
}

func (r *recordingSink) RecordSweep(rec coremetrics.SweepRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps = append(r.sweeps, rec)
	return nil
}

func (r *recordingSink) counts() (int, int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readings), len(r.states), len(r.alerts), len(r.sweeps)
}

func TestStartEventCollector(t *testing.T) {
	buses := Buses{
		Readings: eventbus.NewTyped[events.ReadingEvent](16),
		Alerts:   eventbus.NewTyped[model.AlertEvent](16),
		Sweeps:   eventbus.NewTyped[events.SweepEvent](16),
	}
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartEventCollector(ctx, buses, sink)

	// Subscriptions happen in the collector goroutines.
	time.Sleep(20 * time.Millisecond)

	now := time.Now()
	buses.Readings.Publish(events.ReadingEvent{
		Reading:  model.SensorReading{TankID: "t1", ReceivedAt: now, Quality: model.QualityOK, VolumeLiters: 3000},
		State:    model.TankState{TankID: "t1", StationID: "s1"},
		Accepted: true,
	})
	buses.Readings.Publish(events.ReadingEvent{
		Reading: model.SensorReading{TankID: "t1", CapturedAt: now, Quality: model.QualityRejected},
		Reason:  model.RejectOutOfOrder,
	})
	buses.Alerts.Publish(model.AlertEvent{TankID: "t1", Kind: model.AlertStock, Status: model.StatusLow})
	buses.Sweeps.Publish(events.SweepEvent{At: now, Changed: []model.TankState{{TankID: "t1"}}, Compacted: 3})

	require.Eventually(t, func() bool {
		r, s, a, sw := sink.counts()
		return r == 2 && s == 1 && a == 1 && sw == 1
	}, time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "s1", sink.readings[0].StationID)
	assert.Equal(t, model.RejectOutOfOrder, sink.readings[1].Reason)
	assert.Equal(t, now, sink.readings[1].Time)
	assert.Equal(t, coremetrics.SweepRecord{Changed: 1, Compacted: 3, Time: now}, sink.sweeps[0])
}

func TestStartEventCollector_ReadingsOnlySink(t *testing.T) {
	bus := eventbus.NewTyped[events.ReadingEvent](4)
	sink := &readingsOnly{}
	ctx, cancel := context.WithCancel(context.Background())
	StartEventCollector(ctx, Buses{Readings: bus, Alerts: eventbus.NewTyped[model.AlertEvent](4)}, sink)
	time.Sleep(20 * time.Millisecond)
	bus.Publish(events.ReadingEvent{Accepted: true})
	require.Eventually(t, func() bool { return sink.n.Load() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
}

type readingsOnly struct{ n atomic.Int32 }

func (r *readingsOnly) RecordReading(coremetrics.ReadingRecord) error {
	r.n.Add(1)
	return nil
}
