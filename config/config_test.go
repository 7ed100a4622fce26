package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tankwatch/core/model"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "config.yaml", `mqtt:
  enabled: true
  broker: "tcp://localhost:1883"
  client_id: "cli"
  username: "user"
  password: "pass"
  use_tls: false
alerts:
  low_threshold_pct: 25
  cooldown_seconds: 600
forecast:
  horizon_scale_hours:
    week: 12
persistence:
  backend: sqlite
  path: /tmp/tanks.db
notifiers:
  - type: log
metrics:
  sinks:
    - type: "nop"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"client_id", cfg.MQTT.ClientID, "cli"},
		{"username", cfg.MQTT.Username, "user"},
		{"reading_prefix", cfg.MQTT.ReadingPrefix, "tanks/readings"},
		{"shards", cfg.MQTT.Shards, 4},
		{"low_threshold", cfg.Alerts.LowThresholdPct, 25.0},
		{"critical_default", cfg.Alerts.CriticalThresholdPct, 10.0},
		{"cooldown", cfg.Alerts.Core().Cooldown, 10 * time.Minute},
		{"backend", cfg.Persistence.Backend, "sqlite"},
		{"target", cfg.Persistence.Target(), "/tmp/tanks.db"},
		{"notifier", len(cfg.Notifiers) == 1 && cfg.Notifiers[0].Type == "log", true},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"http_addr", cfg.HTTP.Addr, ":8080"},
	}
	for _, c := range checks {
		assert.Equal(t, c.want, c.got, c.name)
	}

	fc := cfg.Forecast.Core()
	assert.Equal(t, 12*time.Hour, fc.HorizonScale[model.HorizonWeek])
	assert.Equal(t, 720*time.Hour, fc.HorizonScale[model.HorizonYear])
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeFile(t, "config.json", `{"alerts": {"low_threshold_pct": 25}}`)
	t.Setenv("K_ALERTS__LOW_THRESHOLD_PCT", "30")
	t.Setenv("K_STORE__STALE_AFTER_SECONDS", "600")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30.0, cfg.Alerts.LowThresholdPct)
	assert.Equal(t, 10*time.Minute, cfg.Store.Core(cfg.Validation, cfg.Estimator).StaleAfter)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"format":    "",
		"critical":  "alerts:\n  low_threshold_pct: 10\n  critical_threshold_pct: 15\n",
		"backend":   "persistence:\n  backend: mongo\n",
		"dsn":       "persistence:\n  backend: postgres\n",
		"offline":   "store:\n  stale_after_seconds: 4000\n",
		"mqtt":      "mqtt:\n  enabled: true\n",
		"horizon":   "forecast:\n  horizon_scale_hours:\n    decade: 1\n",
		"estimator": "estimator:\n  alpha: 1.5\n",
		"sentry":    "sentry:\n  traces_sample_rate: 2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			file := "config.yaml"
			if name == "format" {
				file = "config.toml"
			}
			_, err := Load(writeFile(t, file, body))
			assert.Error(t, err)
		})
	}
}

func TestDefaultsMatchCore(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	st := cfg.Store.Core(cfg.Validation, cfg.Estimator)
	assert.Equal(t, 15*time.Minute, st.StaleAfter)
	assert.Equal(t, time.Hour, st.OfflineAfter)
	assert.Equal(t, 30*24*time.Hour, st.RawRetention)
	assert.Equal(t, 2*time.Minute, st.Validation.ClockSkew)
	assert.Equal(t, 6*time.Hour, st.Estimator.MaxGap)
	assert.Equal(t, time.Minute, cfg.Store.Ingest().SweepInterval)
	assert.Equal(t, 30*time.Minute, cfg.Alerts.Core().Cooldown)
	assert.Equal(t, 1.1, cfg.Forecast.Core().SafetyMargin)
}

func TestLoadTanks(t *testing.T) {
	path := writeFile(t, "tanks.yaml", `tanks:
  - tank_id: t1
    station_id: s1
    fuel_type: diesel
    shape: cylindrical
    height_cm: 200
    radius_cm: 100
  - tank_id: t2
    station_id: s1
    shape: lookup
    height_cm: 100
    table:
      - {height_cm: 0, liters: 0}
      - {height_cm: 100, liters: 5000}
`)
	tanks, err := LoadTanks(path)
	require.NoError(t, err)
	require.Len(t, tanks, 2)
	assert.Equal(t, model.ShapeCylindrical, tanks[0].Shape)
	assert.Equal(t, 100.0, tanks[0].RadiusCm)
	assert.Len(t, tanks[1].Table, 2)
	assert.Equal(t, 5000.0, tanks[1].Table[1].Liters)

	dup := writeFile(t, "dup.yaml", "tanks:\n  - tank_id: a\n  - tank_id: a\n")
	_, err = LoadTanks(dup)
	assert.ErrorContains(t, err, "duplicate")

	_, err = LoadTanks(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
