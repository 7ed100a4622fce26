// Package telemetry receives tank sensor readings pushed over MQTT and hands
// them to the ingestion pipeline.
//
// Sensors publish on <prefix>/<tank id>. The payload is JSON:
//
//	{"tank_id":"t1","distance_cm":42.5,"captured_at":"2025-03-01T08:00:00Z"}
//
// tank_id falls back to the last topic level and captured_at may be given as
// unix seconds in "ts" instead.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/tankwatch/core/ingest"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/infra/logger"
)

// Submitter is satisfied by the ingestion pipeline.
type Submitter interface {
	Submit(ctx context.Context, in model.ReadingInput) (ingest.Result, error)
}

// Subscriber is the subscribe side of the MQTT client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
}

// Config tunes the subscriber.
type Config struct {
	Prefix string
	QoS    byte
	// Shards is the number of dispatch goroutines. Readings of one tank
	// always go to the same shard so their order is kept.
	Shards int
	// Buffer is the per-shard queue length.
	Buffer int
}

type telemetryMessage struct {
	TankID  string
	Payload []byte
	Arrived time.Time
}

// Manager subscribes to sensor topics and submits decoded readings.
type Manager struct {
	cfg    Config
	sub    Subscriber
	target Submitter
	log    logger.Logger

	shards []chan telemetryMessage
	wg     sync.WaitGroup

	received     prometheus.Counter
	decodeErrors prometheus.Counter
	rejected     prometheus.Counter
	dropped      prometheus.Counter
	lastReceived prometheus.Gauge
	latency      prometheus.Histogram
}

// NewManager prepares a subscriber. Metrics are registered on reg when it
// is not nil.
func NewManager(cfg Config, sub Subscriber, target Submitter, reg prometheus.Registerer) *Manager {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	m := &Manager{
		cfg:          cfg,
		sub:          sub,
		target:       target,
		log:          logger.New("mqtt-ingest"),
		received:     prometheus.NewCounter(prometheus.CounterOpts{Name: "telemetry_messages_received_total", Help: "Sensor messages received over MQTT"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{Name: "telemetry_decode_errors_total", Help: "Sensor messages that could not be decoded"}),
		rejected:     prometheus.NewCounter(prometheus.CounterOpts{Name: "telemetry_readings_rejected_total", Help: "Decoded readings rejected by the pipeline"}),
		dropped:      prometheus.NewCounter(prometheus.CounterOpts{Name: "telemetry_messages_dropped_total", Help: "Sensor messages dropped because a dispatch queue was full"}),
		lastReceived: prometheus.NewGauge(prometheus.GaugeOpts{Name: "telemetry_last_received_timestamp_seconds", Help: "Unix timestamp of the last sensor message"}),
		latency:      prometheus.NewHistogram(prometheus.HistogramOpts{Name: "telemetry_submit_latency_seconds", Help: "Time from MQTT arrival to pipeline answer", Buckets: prometheus.DefBuckets}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.received, m.decodeErrors, m.rejected, m.dropped, m.lastReceived, m.latency} {
			if err := reg.Register(c); err != nil {
				m.log.Warnf("register telemetry metric: %v", err)
			}
		}
	}
	return m
}

// Start subscribes to <prefix>/+ and dispatches until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.shards = make([]chan telemetryMessage, m.cfg.Shards)
	for i := range m.shards {
		m.shards[i] = make(chan telemetryMessage, m.cfg.Buffer)
		m.wg.Add(1)
		go m.dispatch(ctx, m.shards[i])
	}
	topic := strings.TrimSuffix(m.cfg.Prefix, "/") + "/+"
	if err := m.sub.Subscribe(topic, m.cfg.QoS, m.onPush); err != nil {
		return err
	}
	m.log.Infof("subscribed to %s", topic)
	return nil
}

// Wait blocks until the dispatch goroutines have exited.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) onPush(_ paho.Client, msg paho.Message) {
	m.received.Inc()
	m.lastReceived.SetToCurrentTime()
	tm := telemetryMessage{TankID: extractID(msg.Topic()), Payload: msg.Payload(), Arrived: time.Now()}
	shard := m.shards[shardOf(tm.TankID, len(m.shards))]
	select {
	case shard <- tm:
	default:
		m.dropped.Inc()
		m.log.Warnf("tank %s: dispatch queue full, message dropped", tm.TankID)
	}
}

func (m *Manager) dispatch(ctx context.Context, in <-chan telemetryMessage) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case tm := <-in:
			m.handle(ctx, tm)
		}
	}
}

func (m *Manager) handle(ctx context.Context, tm telemetryMessage) {
	reading, err := decode(tm.Payload, tm.TankID)
	if err != nil {
		m.decodeErrors.Inc()
		m.log.Warnf("decode reading from %s: %v", tm.TankID, err)
		return
	}
	res, err := m.target.Submit(ctx, reading)
	m.latency.Observe(time.Since(tm.Arrived).Seconds())
	if err != nil {
		m.rejected.Inc()
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			m.log.Debugf("tank %s: reading rejected: %s", reading.TankID, res.Reason)
			return
		}
		m.log.Errorf("tank %s: submit: %v", reading.TankID, err)
	}
}

type payload struct {
	TankID     string     `json:"tank_id"`
	DistanceCm *float64   `json:"distance_cm"`
	CapturedAt *time.Time `json:"captured_at"`
	TS         *int64     `json:"ts"`
}

// decode turns a sensor payload into a ReadingInput. A missing distance
// becomes NaN and a missing timestamp stays zero so that the validator
// rejects them with the proper reason.
func decode(data []byte, topicID string) (model.ReadingInput, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return model.ReadingInput{}, err
	}
	in := model.ReadingInput{TankID: p.TankID, RawDistanceCm: math.NaN()}
	if in.TankID == "" {
		in.TankID = topicID
	}
	if in.TankID == "" {
		return model.ReadingInput{}, errors.New("missing tank id")
	}
	if p.DistanceCm != nil {
		in.RawDistanceCm = *p.DistanceCm
	}
	switch {
	case p.CapturedAt != nil:
		in.CapturedAt = p.CapturedAt.UTC()
	case p.TS != nil:
		in.CapturedAt = time.Unix(*p.TS, 0).UTC()
	}
	return in, nil
}

func extractID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return ""
}

func shardOf(tankID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tankID))
	return int(h.Sum32() % uint32(n))
}
