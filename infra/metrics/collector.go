package metrics

import (
	"context"

	"github.com/kilianp07/tankwatch/core/events"
	coremetrics "github.com/kilianp07/tankwatch/core/metrics"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/infra/logger"
	"github.com/kilianp07/tankwatch/internal/eventbus"
)

// Buses groups the pipeline buses the collector listens to. Nil buses are
// skipped.
type Buses struct {
	Readings *eventbus.TypedBus[events.ReadingEvent]
	Alerts   *eventbus.TypedBus[model.AlertEvent]
	Sweeps   *eventbus.TypedBus[events.SweepEvent]
}

// StartEventCollector subscribes to the buses and records metrics for events.
// It stops when the context is canceled or the buses are closed.
func StartEventCollector(ctx context.Context, buses Buses, sink coremetrics.MetricsSink) {
	if sink == nil {
		return
	}
	log := logger.New("metrics-collector")
	if buses.Readings != nil {
		go forward(ctx, buses.Readings, func(ev events.ReadingEvent) error {
			if err := sink.RecordReading(readingRecord(ev)); err != nil {
				return err
			}
			if r, ok := sink.(coremetrics.TankStateRecorder); ok && ev.Accepted {
				return r.RecordTankState(ev.State)
			}
			return nil
		}, log)
	}
	if buses.Alerts != nil {
		if r, ok := sink.(coremetrics.AlertRecorder); ok {
			go forward(ctx, buses.Alerts, r.RecordAlert, log)
		}
	}
	if buses.Sweeps != nil {
		if r, ok := sink.(coremetrics.SweepRecorder); ok {
			go forward(ctx, buses.Sweeps, func(ev events.SweepEvent) error {
				return r.RecordSweep(coremetrics.SweepRecord{Changed: len(ev.Changed), Compacted: ev.Compacted, Time: ev.At})
			}, log)
		}
	}
}

func forward[T any](ctx context.Context, bus *eventbus.TypedBus[T], record func(T) error, log logger.Logger) {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := record(ev); err != nil {
				log.Warnf("record metric: %v", err)
			}
		}
	}
}

func readingRecord(ev events.ReadingEvent) coremetrics.ReadingRecord {
	at := ev.Reading.ReceivedAt
	if at.IsZero() {
		at = ev.Reading.CapturedAt
	}
	return coremetrics.ReadingRecord{
		TankID:       ev.Reading.TankID,
		StationID:    ev.State.StationID,
		Accepted:     ev.Accepted,
		Quality:      ev.Reading.Quality,
		Reason:       ev.Reason,
		VolumeLiters: ev.Reading.VolumeLiters,
		Latency:      ev.Latency,
		Time:         at,
	}
}
