// Package notify delivers alert events to operators and downstream systems.
//
// Built-in notifiers are registered on the core/alert registry under the
// names log, redis, mqtt and kafka. Multi fans an event out to several
// notifiers and Async decouples slow transports from the ingestion workers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/kilianp07/tankwatch/core/alert"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/infra/logger"
)

// Encode returns the wire form of an alert event shared by every transport.
func Encode(ev model.AlertEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// Multi delivers to every notifier and joins their errors.
type Multi []alert.Notifier

func (m Multi) Notify(ctx context.Context, ev model.AlertEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async queues events for a background goroutine so that Notify never blocks
// the caller. Events are dropped and logged when the queue is full.
type Async struct {
	next  alert.Notifier
	queue chan model.AlertEvent
	log   logger.Logger
	wg    sync.WaitGroup
	once  sync.Once
}

// NewAsync starts the delivery goroutine. Close drains the queue.
func NewAsync(next alert.Notifier, size int) *Async {
	if size <= 0 {
		size = 128
	}
	a := &Async{next: next, queue: make(chan model.AlertEvent, size), log: logger.New("notify")}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) Notify(_ context.Context, ev model.AlertEvent) error {
	select {
	case a.queue <- ev:
		return nil
	default:
		a.log.Warnf("tank %s: alert queue full, %s/%s event dropped", ev.TankID, ev.Kind, ev.Status)
		return errors.New("alert queue full")
	}
}

func (a *Async) run() {
	defer a.wg.Done()
	for ev := range a.queue {
		if err := a.next.Notify(context.Background(), ev); err != nil {
			a.log.Errorf("tank %s: deliver %s/%s: %v", ev.TankID, ev.Kind, ev.Status, err)
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.once.Do(func() { close(a.queue) })
	a.wg.Wait()
}

// Build creates the configured notifiers wrapped in an Async fan-out. An
// empty configuration yields a log notifier.
func Build(n []alert.Notifier, queue int) *Async {
	if len(n) == 0 {
		n = []alert.Notifier{NewLogNotifier()}
	}
	var next alert.Notifier = Multi(n)
	if len(n) == 1 {
		next = n[0]
	}
	return NewAsync(next, queue)
}
