package mqtt

import (
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremon "github.com/kilianp07/tankwatch/core/monitoring"
)

type call struct {
	topic string
	qos   byte
}

// mockClient implements pahoClient and records traffic.
type mockClient struct {
	opts        *paho.ClientOptions
	subscribed  []call
	published   []call
	publishErrs []error
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, qos byte, _ bool, _ interface{}) paho.Token {
	m.published = append(m.published, call{topic, qos})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return dummyToken{err: err}
	}
	return dummyToken{}
}
func (m *mockClient) Subscribe(topic string, qos byte, _ paho.MessageHandler) paho.Token {
	m.subscribed = append(m.subscribed, call{topic, qos})
	return dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

// withMock routes NewPahoClient to mc for the duration of the test.
func withMock(t *testing.T, mc *mockClient) {
	t.Helper()
	prev := newMQTTClient
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() { newMQTTClient = prev })
}

type recordMonitor struct {
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) CapturePanic(any, map[string]string) {}
func (r *recordMonitor) Flush(time.Duration)                 {}

func TestClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)
	assert.True(t, opts.AutoReconnect)
}

func TestQoSPerMessageClass(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", QoS: map[string]byte{"alert": 2, "reading": 1}}
	cli, err := NewPahoClient(cfg)
	require.NoError(t, err)

	require.NoError(t, cli.Subscribe("tanks/readings/+", cfg.QoSFor("reading"), func(paho.Client, paho.Message) {}))
	require.NoError(t, cli.Publish(cli.Config().AlertTopic("s1"), cfg.QoSFor("alert"), []byte("{}")))

	assert.Equal(t, []call{{"tanks/readings/+", 1}}, mc.subscribed)
	assert.Equal(t, []call{{"tanks/alerts/s1", 2}}, mc.published)
	assert.Zero(t, cfg.QoSFor("unknown"))
}

func TestResubscribeOnReconnect(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	require.NoError(t, cli.Subscribe("tanks/readings/+", 1, func(paho.Client, paho.Message) {}))

	mc.Connect()
	assert.Equal(t, []call{{"tanks/readings/+", 1}, {"tanks/readings/+", 1}}, mc.subscribed)
}

func TestLastWillConfigured(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", LWTTopic: "tanks/gateway/status", LWTPayload: "offline", LWTQoS: 1})
	require.NoError(t, err)
	assert.True(t, mc.opts.WillEnabled)
	assert.Equal(t, "tanks/gateway/status", mc.opts.WillTopic)
	assert.Equal(t, "offline", string(mc.opts.WillPayload))

	cli.Disconnect()
	assert.Empty(t, mc.published)
}

func TestPublishRetries(t *testing.T) {
	mc := &mockClient{publishErrs: []error{errors.New("net fail"), nil}}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1})
	require.NoError(t, err)
	require.NoError(t, cli.Publish("tanks/alerts/s1", 0, []byte("x")))
	assert.Len(t, mc.published, 2)
}

func TestPublishFailureCaptured(t *testing.T) {
	mc := &mockClient{publishErrs: []error{errors.New("net fail"), errors.New("net fail")}}
	withMock(t, mc)
	mon := &recordMonitor{}
	prev := coremon.Current()
	coremon.Init(mon)
	t.Cleanup(func() { coremon.Init(prev) })

	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1})
	require.NoError(t, err)
	require.Error(t, cli.Publish("tanks/alerts/s1", 0, []byte("x")))
	require.Error(t, mon.err)
	assert.Equal(t, map[string]string{"topic": "tanks/alerts/s1", "module": "mqtt"}, mon.tags)
}

func TestTopics(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	assert.Equal(t, "tanks/readings/t1", cfg.ReadingTopic("t1"))
	assert.Equal(t, "tanks/alerts/unassigned", cfg.AlertTopic(""))

	cfg = Config{ReadingPrefix: "site/a/levels/", AlertPrefix: "site/a/alerts"}
	assert.Equal(t, "site/a/levels/t1", cfg.ReadingTopic("t1"))
	assert.Equal(t, "site/a/alerts/s9", cfg.AlertTopic("s9"))
}
