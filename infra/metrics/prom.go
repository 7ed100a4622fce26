package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/tankwatch/core/metrics"
	"github.com/kilianp07/tankwatch/core/model"
)

// PromSink records tank monitoring activity in Prometheus metrics.
type PromSink struct {
	readings   *prometheus.CounterVec
	latency    prometheus.Histogram
	volume     *prometheus.GaugeVec
	percent    *prometheus.GaugeVec
	rate       *prometheus.GaugeVec
	confidence *prometheus.GaugeVec
	alerts     *prometheus.CounterVec
	compacted  prometheus.Counter
}

// NewPromSink registers tank metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	tank := []string{"tank_id", "station_id"}
	s := &PromSink{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tank_readings_total",
			Help: "Readings submitted per tank by outcome and reject reason",
		}, []string{"tank_id", "accepted", "reason"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tank_ingest_latency_seconds",
			Help:    "Time to validate, persist and evaluate one reading",
			Buckets: prometheus.DefBuckets,
		}),
		volume: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tank_volume_liters",
			Help: "Volume derived from the last accepted reading",
		}, tank),
		percent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tank_fill_percent",
			Help: "Fill level in percent of capacity",
		}, tank),
		rate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tank_consumption_liters_per_hour",
			Help: "Smoothed consumption rate",
		}, tank),
		confidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tank_trend_confidence",
			Help: "Confidence in the consumption trend between 0 and 1",
		}, tank),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tank_alerts_total",
			Help: "Alert events emitted by kind and status",
		}, []string{"kind", "status"}),
		compacted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tank_readings_compacted_total",
			Help: "Raw readings folded into hourly rollups",
		}),
	}

	var err error
	if s.readings, err = register(reg, s.readings); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, s.latency); err != nil {
		return nil, err
	}
	if s.volume, err = register(reg, s.volume); err != nil {
		return nil, err
	}
	if s.percent, err = register(reg, s.percent); err != nil {
		return nil, err
	}
	if s.rate, err = register(reg, s.rate); err != nil {
		return nil, err
	}
	if s.confidence, err = register(reg, s.confidence); err != nil {
		return nil, err
	}
	if s.alerts, err = register(reg, s.alerts); err != nil {
		return nil, err
	}
	if s.compacted, err = register(reg, s.compacted); err != nil {
		return nil, err
	}
	return s, nil
}

// register reuses an already registered collector so that several sinks can
// share the default registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordReading counts the reading and observes its latency.
func (s *PromSink) RecordReading(rec coremetrics.ReadingRecord) error {
	s.readings.WithLabelValues(rec.TankID, strconv.FormatBool(rec.Accepted), string(rec.Reason)).Inc()
	if rec.Latency > 0 {
		s.latency.Observe(rec.Latency.Seconds())
	}
	return nil
}

// RecordTankState sets the per-tank gauges.
func (s *PromSink) RecordTankState(st model.TankState) error {
	s.volume.WithLabelValues(st.TankID, st.StationID).Set(st.CurrentVolumeLiters)
	s.percent.WithLabelValues(st.TankID, st.StationID).Set(st.CurrentPercent)
	s.rate.WithLabelValues(st.TankID, st.StationID).Set(st.ConsumptionRatePerHour)
	s.confidence.WithLabelValues(st.TankID, st.StationID).Set(st.TrendConfidence)
	return nil
}

// RecordAlert counts alert events.
func (s *PromSink) RecordAlert(ev model.AlertEvent) error {
	s.alerts.WithLabelValues(string(ev.Kind), string(ev.Status)).Inc()
	return nil
}

// RecordSweep adds compacted readings.
func (s *PromSink) RecordSweep(rec coremetrics.SweepRecord) error {
	s.compacted.Add(float64(rec.Compacted))
	return nil
}
