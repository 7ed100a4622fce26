package notify

import (
	"context"

	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/infra/logger"
)

// LogNotifier writes alert events to the structured log.
type LogNotifier struct {
	log logger.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.New("alerts")}
}

func (n *LogNotifier) Notify(_ context.Context, ev model.AlertEvent) error {
	fields := map[string]any{
		"event_id":   ev.ID,
		"tank_id":    ev.TankID,
		"station_id": ev.StationID,
		"kind":       ev.Kind,
		"status":     ev.Status,
		"previous":   ev.Previous,
		"value":      ev.Value,
		"reminder":   ev.Reminder,
	}
	if ev.Cleared() {
		n.log.Debugw("alert cleared", fields)
		n.log.Infof("tank %s: %s alert back to normal", ev.TankID, ev.Kind)
		return nil
	}
	n.log.Debugw("alert raised", fields)
	n.log.Warnf("tank %s: %s alert %s (%s)", ev.TankID, ev.Kind, ev.Status, ev.Message)
	return nil
}
