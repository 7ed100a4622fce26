package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/tankwatch/core/metrics"
)

func TestScrapeHandlerServesSinkMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	require.NoError(t, err)
	require.NoError(t, sink.RecordReading(coremetrics.ReadingRecord{TankID: "t1", Accepted: true}))

	srv := httptest.NewServer(ScrapeHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tank_readings_total{accepted="true",reason="",tank_id="t1"} 1`)

	resp2, err := http.Post(srv.URL+"/metrics", "text/plain", nil)
	require.NoError(t, err)
	_ = resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestListenAddr(t *testing.T) {
	assert.Equal(t, ":9102", listenAddr("9102"))
	assert.Equal(t, ":9102", listenAddr(":9102"))
	assert.Equal(t, "127.0.0.1:9102", listenAddr("127.0.0.1:9102"))
}
