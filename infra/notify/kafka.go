package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kilianp07/tankwatch/core/model"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures KafkaNotifier.
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
	// Timeout bounds a single write.
	Timeout time.Duration `json:"timeout"`
}

// KafkaNotifier writes alert events keyed by tank id so that the events of
// one tank stay ordered within a partition.
type KafkaNotifier struct {
	w       kafkaWriter
	timeout time.Duration
}

func NewKafkaNotifier(cfg KafkaConfig) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka notifier requires brokers and topic")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return newKafkaNotifier(w, cfg.Timeout), nil
}

func newKafkaNotifier(w kafkaWriter, timeout time.Duration) *KafkaNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaNotifier{w: w, timeout: timeout}
}

func (n *KafkaNotifier) Notify(ctx context.Context, ev model.AlertEvent) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.TankID),
		Value: payload,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "status", Value: []byte(ev.Status)},
		},
	})
}

func (n *KafkaNotifier) Close() error { return n.w.Close() }
