package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/tankwatch/api/tanks"
	"github.com/kilianp07/tankwatch/config"
	"github.com/kilianp07/tankwatch/core/alert"
	"github.com/kilianp07/tankwatch/core/forecast"
	"github.com/kilianp07/tankwatch/core/ingest"
	coremetrics "github.com/kilianp07/tankwatch/core/metrics"
	coremon "github.com/kilianp07/tankwatch/core/monitoring"
	"github.com/kilianp07/tankwatch/core/query"
	"github.com/kilianp07/tankwatch/core/store"
	"github.com/kilianp07/tankwatch/infra/logger"
	"github.com/kilianp07/tankwatch/infra/metrics"
	"github.com/kilianp07/tankwatch/infra/monitoring"
	"github.com/kilianp07/tankwatch/infra/mqtt"
	"github.com/kilianp07/tankwatch/infra/notify"
	"github.com/kilianp07/tankwatch/infra/telemetry"
)

// Service wires the ingestion pipeline to its transports and sinks.
type Service struct {
	Store    *store.Store
	Pipeline *ingest.Pipeline
	Query    *query.Service

	cfg       *config.Config
	log       logger.Logger
	release   func()
	notifiers []alert.Notifier
	async     *notify.Async
	sink      coremetrics.MetricsSink
	hub       *tanks.Hub
	server    *http.Server
	mqttCli   *mqtt.PahoClient
	telemetry *telemetry.Manager
}

// New builds a Service from the configuration. A nil clock uses the real
// clock.
func New(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (*Service, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		logg.Warnf("sentry disabled: %v", err)
	} else {
		coremon.Init(mon)
	}

	st, release, err := OpenStore(ctx, cfg, clock)
	if err != nil {
		return nil, err
	}
	svc := &Service{Store: st, cfg: cfg, log: logg, release: release}

	svc.notifiers, err = alert.NewNotifier(cfg.Notifiers)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("notifiers: %w", err)
	}
	svc.async = notify.Build(svc.notifiers, 256)
	alerts := alert.NewEngine(cfg.Alerts.Core(), svc.async, clock, logger.New("alerts"))
	svc.Pipeline = ingest.New(cfg.Store.Ingest(), st, alerts, clock, logger.New("ingest"))

	svc.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	svc.Query = query.NewService(st, forecast.NewEngine(cfg.Forecast.Core(), st, clock), alerts, cfg.HTTP.MaxRawPoints)
	svc.hub = tanks.NewHub()
	router := tanks.NewHandler(svc.Query, svc.Pipeline, st, svc.hub).WithBusStats(svc.Pipeline.BusStats).Router()
	svc.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(os.Stdout, router)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.MQTT.Enabled {
		svc.mqttCli, err = mqtt.NewPahoClient(cfg.MQTT.Config)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		svc.telemetry = telemetry.NewManager(telemetry.Config{
			Prefix: cfg.MQTT.ReadingPrefix,
			QoS:    cfg.MQTT.QoSFor("reading"),
			Shards: cfg.MQTT.Shards,
		}, svc.mqttCli, svc.Pipeline, prometheus.DefaultRegisterer)
	}
	return svc, nil
}

// Run starts every component and serves HTTP until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.Pipeline.Start(ctx)
	metrics.StartEventCollector(ctx, metrics.Buses{
		Readings: s.Pipeline.Readings(),
		Alerts:   s.Pipeline.Alerts(),
		Sweeps:   s.Pipeline.Sweeps(),
	}, s.sink)
	go s.hub.Run(ctx, s.Pipeline.Alerts())

	if port := s.cfg.Metrics.PrometheusPort; port != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, port); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.telemetry != nil {
		if err := s.telemetry.Start(ctx); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("http shutdown: %v", err)
		}
	}()
	s.log.Infof("serving API on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops ingestion, flushes queued alerts and releases resources.
func (s *Service) Close() {
	if s.mqttCli != nil {
		s.mqttCli.Disconnect()
	}
	if s.telemetry != nil {
		s.telemetry.Wait()
	}
	if s.Pipeline != nil {
		s.Pipeline.Close()
	}
	if s.async != nil {
		s.async.Close()
	}
	for _, n := range s.notifiers {
		if c, ok := n.(io.Closer); ok {
			if err := c.Close(); err != nil {
				s.log.Warnf("close notifier: %v", err)
			}
		}
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if s.release != nil {
		s.release()
	}
	coremon.Flush(2 * time.Second)
}
