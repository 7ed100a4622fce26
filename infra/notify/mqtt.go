package notify

import (
	"context"

	"github.com/kilianp07/tankwatch/core/model"
	infmqtt "github.com/kilianp07/tankwatch/infra/mqtt"
)

// MQTTNotifier publishes alert events on <alert prefix>/<station id>.
type MQTTNotifier struct {
	pub   infmqtt.Publisher
	topic func(stationID string) string
	qos   byte
}

func NewMQTTNotifier(pub infmqtt.Publisher, cfg infmqtt.Config) *MQTTNotifier {
	cfg.SetDefaults()
	return &MQTTNotifier{pub: pub, topic: cfg.AlertTopic, qos: cfg.QoSFor("alert")}
}

func (n *MQTTNotifier) Notify(_ context.Context, ev model.AlertEvent) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	return n.pub.Publish(n.topic(ev.StationID), n.qos, payload)
}
