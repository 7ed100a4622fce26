package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/tankwatch/core/metrics"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/infra/logger"
)

// InfluxSink writes tank readings, states and alerts to an InfluxDB instance
// using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordReading writes one ingestion outcome.
func (s *InfluxSink) RecordReading(rec coremetrics.ReadingRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("tank_reading").
		AddTag("tank_id", rec.TankID).
		AddTag("accepted", strconv.FormatBool(rec.Accepted)).
		AddTag("quality", string(rec.Quality))
	if rec.StationID != "" {
		p = p.AddTag("station_id", rec.StationID)
	}
	if rec.Reason != "" {
		p = p.AddTag("reason", string(rec.Reason))
	}
	p = p.AddField("volume_liters", round3(rec.VolumeLiters)).
		AddField("latency_ms", round3(rec.Latency.Seconds()*1000)).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTankState writes the derived state after an accepted reading.
func (s *InfluxSink) RecordTankState(st model.TankState) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("tank_state").
		AddTag("tank_id", st.TankID).
		AddTag("station_id", st.StationID).
		AddTag("health", string(st.Health)).
		AddField("volume_liters", round3(st.CurrentVolumeLiters)).
		AddField("percent", round3(st.CurrentPercent)).
		AddField("rate_lph", round3(st.ConsumptionRatePerHour)).
		AddField("confidence", round3(st.TrendConfidence)).
		SetTime(st.LastReadingAt)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordAlert writes an alert event.
func (s *InfluxSink) RecordAlert(ev model.AlertEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("tank_alert").
		AddTag("tank_id", ev.TankID).
		AddTag("station_id", ev.StationID).
		AddTag("kind", string(ev.Kind)).
		AddTag("status", string(ev.Status)).
		AddField("previous", string(ev.Previous)).
		AddField("value", round3(ev.Value)).
		AddField("reminder", ev.Reminder).
		SetTime(ev.At)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
