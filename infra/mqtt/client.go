package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/tankwatch/core/monitoring"
	"github.com/kilianp07/tankwatch/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string          `json:"broker"`
	ClientID   string          `json:"client_id"`
	Username   string          `json:"username"`
	Password   string          `json:"password"`
	UseTLS     bool            `json:"use_tls"`
	ClientCert string          `json:"client_cert"`
	ClientKey  string          `json:"client_key"`
	CABundle   string          `json:"ca_bundle"`
	AuthMethod string          `json:"auth_method"`
	QoS        map[string]byte `json:"qos"`
	LWTTopic   string          `json:"lwt_topic"`
	LWTPayload string          `json:"lwt_payload"`
	LWTQoS     byte            `json:"lwt_qos"`
	LWTRetain  bool            `json:"lwt_retain"`
	MaxRetries int             `json:"max_retries"`
	BackoffMS  int             `json:"backoff_ms"`
	// ReadingPrefix is the topic prefix sensors publish on; the last topic
	// level is the tank id.
	ReadingPrefix string `json:"reading_prefix"`
	// AlertPrefix is the topic prefix alert events are published under.
	AlertPrefix string      `json:"alert_prefix"`
	TLSConfig   *tls.Config `json:"-"`
}

// SetDefaults fills the topic prefixes.
func (c *Config) SetDefaults() {
	if c.ReadingPrefix == "" {
		c.ReadingPrefix = "tanks/readings"
	}
	if c.AlertPrefix == "" {
		c.AlertPrefix = "tanks/alerts"
	}
}

// ReadingTopic returns the topic a sensor of tankID publishes on.
func (c Config) ReadingTopic(tankID string) string {
	return strings.TrimSuffix(c.ReadingPrefix, "/") + "/" + tankID
}

// AlertTopic returns the alert topic of a station.
func (c Config) AlertTopic(stationID string) string {
	if stationID == "" {
		stationID = "unassigned"
	}
	return strings.TrimSuffix(c.AlertPrefix, "/") + "/" + stationID
}

// QoSFor returns the QoS configured for a message class, 0 by default.
func (c Config) QoSFor(class string) byte {
	return c.QoS[class]
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

type subscription struct {
	topic   string
	qos     byte
	handler paho.MessageHandler
}

// PahoClient publishes with bounded retries and restores its subscriptions
// after every reconnect.
type PahoClient struct {
	cli pahoClient
	cfg Config

	mu         sync.Mutex
	subs       []subscription
	logger     logger.Logger
	maxRetries int
	backoff    time.Duration
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	cfg.SetDefaults()
	if cfg.ClientID == "" {
		cfg.ClientID = "tankwatch-" + uuid.NewString()
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		cfg:        cfg,
		logger:     log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}
	if pc.maxRetries <= 0 {
		pc.maxRetries = 3
	}
	if pc.backoff <= 0 {
		pc.backoff = 100 * time.Millisecond
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		pc.mu.Lock()
		subs := append([]subscription(nil), pc.subs...)
		pc.mu.Unlock()
		for _, s := range subs {
			if token := c.Subscribe(s.topic, s.qos, s.handler); token.Wait() && token.Error() != nil {
				log.Errorf("resubscribe %s: %v", s.topic, token.Error())
			}
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	pc.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

// Config returns the effective configuration.
func (p *PahoClient) Config() Config { return p.cfg }

// Subscribe registers handler on topic. The subscription is replayed on
// reconnect.
func (p *PahoClient) Subscribe(topic string, qos byte, handler paho.MessageHandler) error {
	p.mu.Lock()
	p.subs = append(p.subs, subscription{topic: topic, qos: qos, handler: handler})
	p.mu.Unlock()
	token := p.cli.Subscribe(topic, qos, handler)
	token.Wait()
	return token.Error()
}

// Publish sends payload with exponential backoff between attempts. The final
// failure is reported to the monitor.
func (p *PahoClient) Publish(topic string, qos byte, payload []byte) error {
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.logger.Debugf("published %d bytes to %s", len(payload), topic)
			return nil
		}
		p.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt < p.maxRetries {
			time.Sleep(p.backoff * time.Duration(1<<attempt))
		}
	}
	monitoring.CaptureException(publishErr, map[string]string{"topic": topic, "module": "mqtt"})
	return publishErr
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
