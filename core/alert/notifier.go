package alert

import (
	"context"
	"fmt"

	"github.com/kilianp07/tankwatch/core/factory"
	"github.com/kilianp07/tankwatch/core/model"
)

// Notifier delivers alert events. Delivery failures are logged by the engine
// and never change alert state.
type Notifier interface {
	Notify(ctx context.Context, ev model.AlertEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev model.AlertEvent) error

func (f NotifierFunc) Notify(ctx context.Context, ev model.AlertEvent) error { return f(ctx, ev) }

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, model.AlertEvent) error { return nil }

var notifierRegistry = factory.NewRegistry[Notifier]()

// RegisterNotifier adds a notifier factory identified by name.
func RegisterNotifier(name string, f factory.Factory[Notifier]) error {
	return notifierRegistry.Register(name, f)
}

// NewNotifier creates one notifier per configuration entry.
func NewNotifier(cfgs []factory.ModuleConfig) ([]Notifier, error) {
	ns, err := notifierRegistry.CreateAll(cfgs)
	if err != nil {
		return nil, fmt.Errorf("notifiers: %w", err)
	}
	return ns, nil
}
