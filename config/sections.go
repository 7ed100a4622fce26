package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kilianp07/tankwatch/core/alert"
	"github.com/kilianp07/tankwatch/core/estimator"
	"github.com/kilianp07/tankwatch/core/forecast"
	"github.com/kilianp07/tankwatch/core/ingest"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/core/store"
	"github.com/kilianp07/tankwatch/core/validation"
	"github.com/kilianp07/tankwatch/infra/persistence"
)

// ValidationConfig bounds what a sensor reading may look like.
type ValidationConfig struct {
	ClockSkewSeconds int     `json:"clock_skew_seconds"`
	OffsetMarginCm   float64 `json:"offset_margin_cm"`
}

func (c *ValidationConfig) SetDefaults() {
	if c.ClockSkewSeconds <= 0 {
		c.ClockSkewSeconds = 120
	}
	if c.OffsetMarginCm <= 0 {
		c.OffsetMarginCm = 5
	}
}

func (c ValidationConfig) Validate() error {
	if c.ClockSkewSeconds < 0 || c.OffsetMarginCm < 0 {
		return fmt.Errorf("clock skew and offset margin must not be negative")
	}
	return nil
}

func (c ValidationConfig) Core() validation.Config {
	return validation.Config{
		OffsetMarginCm: c.OffsetMarginCm,
		ClockSkew:      seconds(c.ClockSkewSeconds),
	}
}

// StoreConfig drives sensor health, retention, durability retries and the
// per-tank ingestion queue.
type StoreConfig struct {
	StaleAfterSeconds    int `json:"stale_after_seconds"`
	OfflineAfterSeconds  int `json:"offline_after_seconds"`
	RawRetentionHours    int `json:"raw_retention_hours"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
	MaxWriteAttempts     int `json:"max_write_attempts"`
	BackoffInitialMS     int `json:"backoff_initial_ms"`
	BackoffMaxMS         int `json:"backoff_max_ms"`
	QueueSize            int `json:"queue_size"`
	EventBuffer          int `json:"event_buffer"`
}

func (c *StoreConfig) SetDefaults() {
	setInt(&c.StaleAfterSeconds, 900)
	setInt(&c.OfflineAfterSeconds, 3600)
	setInt(&c.RawRetentionHours, 720)
	setInt(&c.SweepIntervalSeconds, 60)
	setInt(&c.MaxWriteAttempts, 5)
	setInt(&c.BackoffInitialMS, 100)
	setInt(&c.BackoffMaxMS, 2000)
	setInt(&c.QueueSize, 64)
	setInt(&c.EventBuffer, 256)
}

func (c StoreConfig) Validate() error {
	if c.OfflineAfterSeconds <= c.StaleAfterSeconds {
		return fmt.Errorf("offline_after_seconds (%d) must exceed stale_after_seconds (%d)", c.OfflineAfterSeconds, c.StaleAfterSeconds)
	}
	if c.BackoffMaxMS < c.BackoffInitialMS {
		return fmt.Errorf("backoff_max_ms must not be below backoff_initial_ms")
	}
	return nil
}

// Core assembles the store configuration from the store, validation and
// estimator sections.
func (c StoreConfig) Core(v ValidationConfig, e EstimatorConfig) store.Config {
	return store.Config{
		StaleAfter:       seconds(c.StaleAfterSeconds),
		OfflineAfter:     seconds(c.OfflineAfterSeconds),
		RawRetention:     time.Duration(c.RawRetentionHours) * time.Hour,
		MaxWriteAttempts: c.MaxWriteAttempts,
		BackoffInitial:   time.Duration(c.BackoffInitialMS) * time.Millisecond,
		BackoffMax:       time.Duration(c.BackoffMaxMS) * time.Millisecond,
		Validation:       v.Core(),
		Estimator:        e.Core(),
	}
}

// Ingest returns the pipeline settings.
func (c StoreConfig) Ingest() ingest.Config {
	return ingest.Config{
		QueueSize:     c.QueueSize,
		SweepInterval: seconds(c.SweepIntervalSeconds),
		EventBuffer:   c.EventBuffer,
	}
}

type EstimatorConfig struct {
	Alpha                 float64 `json:"alpha"`
	RefillToleranceLiters float64 `json:"refill_tolerance_liters"`
	NoiseToleranceLiters  float64 `json:"noise_tolerance_liters"`
	MinSamples            int     `json:"min_samples"`
	Window                int     `json:"window"`
	MaxGapSeconds         int     `json:"max_gap_seconds"`
}

func (c *EstimatorConfig) SetDefaults() {
	if c.Alpha <= 0 {
		c.Alpha = 0.3
	}
	if c.RefillToleranceLiters <= 0 {
		c.RefillToleranceLiters = 50
	}
	if c.NoiseToleranceLiters <= 0 {
		c.NoiseToleranceLiters = 25
	}
	setInt(&c.MinSamples, 3)
	setInt(&c.Window, 48)
	setInt(&c.MaxGapSeconds, 21600)
}

func (c EstimatorConfig) Validate() error {
	if c.Alpha > 1 {
		return fmt.Errorf("alpha must be in (0,1], got %v", c.Alpha)
	}
	if c.Window < c.MinSamples {
		return fmt.Errorf("window (%d) must hold at least min_samples (%d)", c.Window, c.MinSamples)
	}
	return nil
}

func (c EstimatorConfig) Core() estimator.Config {
	return estimator.Config{
		Alpha:                 c.Alpha,
		RefillToleranceLiters: c.RefillToleranceLiters,
		NoiseToleranceLiters:  c.NoiseToleranceLiters,
		MinSamples:            c.MinSamples,
		Window:                c.Window,
		MaxGap:                seconds(c.MaxGapSeconds),
	}
}

// AlertsConfig sets the fill-level thresholds. Percentages are of usable
// capacity.
type AlertsConfig struct {
	LowThresholdPct       float64 `json:"low_threshold_pct"`
	LowHysteresisPct      float64 `json:"low_hysteresis_pct"`
	CriticalThresholdPct  float64 `json:"critical_threshold_pct"`
	CriticalHysteresisPct float64 `json:"critical_hysteresis_pct"`
	Consecutive           int     `json:"consecutive"`
	CooldownSeconds       int     `json:"cooldown_seconds"`
}

func (c *AlertsConfig) SetDefaults() {
	if c.LowThresholdPct <= 0 {
		c.LowThresholdPct = 20
	}
	if c.LowHysteresisPct <= 0 {
		c.LowHysteresisPct = 5
	}
	if c.CriticalThresholdPct <= 0 {
		c.CriticalThresholdPct = 10
	}
	if c.CriticalHysteresisPct <= 0 {
		c.CriticalHysteresisPct = 5
	}
	setInt(&c.Consecutive, 2)
	setInt(&c.CooldownSeconds, 1800)
}

func (c AlertsConfig) Validate() error {
	if c.CriticalThresholdPct >= c.LowThresholdPct {
		return fmt.Errorf("critical_threshold_pct (%v) must be below low_threshold_pct (%v)", c.CriticalThresholdPct, c.LowThresholdPct)
	}
	if c.LowThresholdPct+c.LowHysteresisPct > 100 {
		return fmt.Errorf("low threshold plus hysteresis exceeds 100%%")
	}
	return nil
}

func (c AlertsConfig) Core() alert.Config {
	return alert.Config{
		LowThresholdPct:       c.LowThresholdPct,
		LowHysteresisPct:      c.LowHysteresisPct,
		CriticalThresholdPct:  c.CriticalThresholdPct,
		CriticalHysteresisPct: c.CriticalHysteresisPct,
		Consecutive:           c.Consecutive,
		Cooldown:              seconds(c.CooldownSeconds),
	}
}

type ForecastConfig struct {
	SafetyMargin      float64        `json:"safety_margin"`
	MinRateLPH        float64        `json:"min_rate_lph"`
	MinSamples        int            `json:"min_samples"`
	HorizonScaleHours map[string]int `json:"horizon_scale_hours"`
}

func (c *ForecastConfig) SetDefaults() {
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = 1.1
	}
	if c.MinRateLPH <= 0 {
		c.MinRateLPH = 0.01
	}
	setInt(&c.MinSamples, 3)
	if c.HorizonScaleHours == nil {
		c.HorizonScaleHours = map[string]int{}
	}
	for h, d := range map[string]int{"week": 24, "month": 72, "year": 720} {
		if c.HorizonScaleHours[h] <= 0 {
			c.HorizonScaleHours[h] = d
		}
	}
}

func (c ForecastConfig) Validate() error {
	if c.SafetyMargin < 1 {
		return fmt.Errorf("safety_margin must be >= 1, got %v", c.SafetyMargin)
	}
	for h := range c.HorizonScaleHours {
		if _, err := model.ParseHorizon(h); err != nil {
			return err
		}
	}
	return nil
}

func (c ForecastConfig) Core() forecast.Config {
	scale := make(map[model.Horizon]time.Duration, len(c.HorizonScaleHours))
	for h, hours := range c.HorizonScaleHours {
		scale[model.Horizon(h)] = time.Duration(hours) * time.Hour
	}
	return forecast.Config{
		SafetyMargin:   c.SafetyMargin,
		MinRatePerHour: c.MinRateLPH,
		MinSamples:     c.MinSamples,
		HorizonScale:   scale,
	}
}

// PersistenceConfig selects the repository backend. Path is used by sqlite,
// DSN by postgres.
type PersistenceConfig struct {
	Backend   string `json:"backend"`
	Path      string `json:"path"`
	DSN       string `json:"dsn"`
	TanksFile string `json:"tanks_file"`
}

func (c *PersistenceConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = persistence.BackendMemory
	}
	if c.Backend == persistence.BackendSQLite && c.Path == "" {
		c.Path = "tankwatch.db"
	}
}

func (c PersistenceConfig) Validate() error {
	switch c.Backend {
	case persistence.BackendMemory, persistence.BackendSQLite:
		return nil
	case persistence.BackendPostgres:
		if c.DSN == "" {
			return fmt.Errorf("dsn is required for the postgres backend")
		}
		return nil
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
}

// Target returns the backend specific location passed to persistence.Open.
func (c PersistenceConfig) Target() string {
	if c.Backend == persistence.BackendPostgres {
		return c.DSN
	}
	return c.Path
}

func (c *MQTTConfig) SetDefaults() {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	c.Config.SetDefaults()
}

// SentryConfig defines settings for Sentry error monitoring. An empty DSN
// disables reporting.
type SentryConfig struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
	Release          string  `json:"release"`
}

func (c *SentryConfig) SetDefaults() {
	if c.Environment == "" {
		c.Environment = os.Getenv("APP_ENV")
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

func (c SentryConfig) Validate() error {
	if c.TracesSampleRate < 0 || c.TracesSampleRate > 1 {
		return fmt.Errorf("traces_sample_rate must be within [0,1]")
	}
	return nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}
