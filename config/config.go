package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/tankwatch/core/factory"
	"github.com/kilianp07/tankwatch/core/metrics"
	"github.com/kilianp07/tankwatch/infra/mqtt"
)

type Config struct {
	Validation  ValidationConfig       `json:"validation"`
	Store       StoreConfig            `json:"store"`
	Estimator   EstimatorConfig        `json:"estimator"`
	Alerts      AlertsConfig           `json:"alerts"`
	Forecast    ForecastConfig         `json:"forecast"`
	Persistence PersistenceConfig      `json:"persistence"`
	Notifiers   []factory.ModuleConfig `json:"notifiers"`
	Metrics     metrics.Config         `json:"metrics"`
	MQTT        MQTTConfig             `json:"mqtt"`
	HTTP        HTTPConfig             `json:"http"`
	Sentry      SentryConfig           `json:"sentry"`
}

// MQTTConfig enables sensor ingestion over MQTT.
type MQTTConfig struct {
	Enabled     bool `json:"enabled"`
	mqtt.Config `json:",squash"`
	// Shards is the number of dispatch goroutines of the subscriber.
	Shards int `json:"shards"`
}

// HTTPConfig configures the query API server.
type HTTPConfig struct {
	Addr string `json:"addr"`
	// MaxRawPoints bounds raw history responses.
	MaxRawPoints int `json:"max_raw_points"`
}

// SetDefaults applies sane defaults.
func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxRawPoints <= 0 {
		c.MaxRawPoints = 10000
	}
}

// Default returns a configuration with every section defaulted.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Validation.SetDefaults()
	c.Store.SetDefaults()
	c.Estimator.SetDefaults()
	c.Alerts.SetDefaults()
	c.Forecast.SetDefaults()
	c.Persistence.SetDefaults()
	c.MQTT.SetDefaults()
	c.HTTP.SetDefaults()
	c.Sentry.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	validators := []struct {
		name string
		fn   func() error
	}{
		{"validation", c.Validation.Validate},
		{"store", c.Store.Validate},
		{"estimator", c.Estimator.Validate},
		{"alerts", c.Alerts.Validate},
		{"forecast", c.Forecast.Validate},
		{"persistence", c.Persistence.Validate},
		{"sentry", c.Sentry.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt: broker is required when enabled")
	}
	return nil
}

// Load reads a YAML or JSON file, applies K_ prefixed environment overrides
// (K_ALERTS__LOW_THRESHOLD_PCT=25) and defaults, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
