package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tankwatch/core/alert"
	"github.com/kilianp07/tankwatch/core/factory"
	"github.com/kilianp07/tankwatch/core/model"
	infmqtt "github.com/kilianp07/tankwatch/infra/mqtt"
)

func lowEvent() model.AlertEvent {
	return model.AlertEvent{
		ID: "e1", TankID: "t1", StationID: "s1", Kind: model.AlertStock,
		Status: model.StatusLow, Previous: model.StatusNormal, Value: 17,
		At: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

type collecting struct {
	mu  sync.Mutex
	evs []model.AlertEvent
	err error
}

func (c *collecting) Notify(_ context.Context, ev model.AlertEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, ev)
	return c.err
}

func (c *collecting) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.evs)
}

func TestMulti(t *testing.T) {
	a, b := &collecting{}, &collecting{err: errors.New("down")}
	err := Multi{a, b}.Notify(context.Background(), lowEvent())
	assert.ErrorContains(t, err, "down")
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestAsync_DeliversAndDrains(t *testing.T) {
	c := &collecting{}
	a := NewAsync(c, 4)
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Notify(context.Background(), lowEvent()))
	}
	a.Close()
	assert.Equal(t, 3, c.count())
	a.Close()
}

type blocking struct{ release chan struct{} }

func (b blocking) Notify(context.Context, model.AlertEvent) error {
	<-b.release
	return nil
}

func TestAsync_FullQueue(t *testing.T) {
	b := blocking{release: make(chan struct{})}
	a := NewAsync(b, 1)
	// first event is taken by the worker, second fills the queue
	require.NoError(t, a.Notify(context.Background(), lowEvent()))
	require.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, a.Notify(context.Background(), lowEvent()))
	assert.Error(t, a.Notify(context.Background(), lowEvent()))
	close(b.release)
	a.Close()
}

func TestBuild_DefaultsToLog(t *testing.T) {
	a := Build(nil, 0)
	_, ok := a.next.(*LogNotifier)
	assert.True(t, ok)
	require.NoError(t, a.Notify(context.Background(), lowEvent()))
	a.Close()
}

type fakeRedis struct {
	keys      map[string]bool
	hashes    map[string]map[string]string
	published map[string][][]byte
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: map[string]bool{}, hashes: map[string]map[string]string{}, published: map[string][][]byte{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) *redis.BoolCmd {
	if f.keys[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = true
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	h := f.hashes[key]
	if h == nil {
		h = map[string]string{}
		f.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.published[channel] = append(f.published[channel], message.([]byte))
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisNotifier(t *testing.T) {
	fr := newFakeRedis()
	n := newRedisNotifier(fr, RedisConfig{})
	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, lowEvent()))
	require.NoError(t, n.Notify(ctx, lowEvent()))

	msgs := fr.published["tankwatch:station:s1:alerts"]
	require.Len(t, msgs, 1, "duplicate suppressed by dedup key")
	var ev model.AlertEvent
	require.NoError(t, json.Unmarshal(msgs[0], &ev))
	assert.Equal(t, model.StatusLow, ev.Status)
	assert.Equal(t, "low", fr.hashes["tankwatch:tank:t1:alerts"]["stock"])

	reminder := lowEvent()
	reminder.Reminder = true
	require.NoError(t, n.Notify(ctx, reminder))
	assert.Len(t, fr.published["tankwatch:station:s1:alerts"], 2)
}

func TestMQTTNotifier(t *testing.T) {
	pub := infmqtt.NewMockPublisher()
	n := NewMQTTNotifier(pub, infmqtt.Config{QoS: map[string]byte{"alert": 1}})
	require.NoError(t, n.Notify(context.Background(), lowEvent()))
	sent := pub.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "tanks/alerts/s1", sent[0].Topic)
	assert.Equal(t, byte(1), sent[0].QoS)

	pub.FailTopics["tanks/alerts/s1"] = true
	assert.Error(t, n.Notify(context.Background(), lowEvent()))
}

type fakeKafka struct {
	msgs []kafka.Message
}

func (f *fakeKafka) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("missing deadline")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error { return nil }

func TestKafkaNotifier(t *testing.T) {
	fk := &fakeKafka{}
	n := newKafkaNotifier(fk, 0)
	require.NoError(t, n.Notify(context.Background(), lowEvent()))
	require.Len(t, fk.msgs, 1)
	assert.Equal(t, "t1", string(fk.msgs[0].Key))
	assert.Equal(t, "stock", string(fk.msgs[0].Headers[0].Value))

	_, err := NewKafkaNotifier(KafkaConfig{})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	ns, err := alert.NewNotifier([]factory.ModuleConfig{{Type: "log"}})
	require.NoError(t, err)
	require.Len(t, ns, 1)
	_, err = alert.NewNotifier([]factory.ModuleConfig{{Type: "kafka", Conf: map[string]any{"topic": "alerts"}}})
	assert.Error(t, err)
	_, err = alert.NewNotifier([]factory.ModuleConfig{{Type: "pager"}})
	assert.Error(t, err)
}
