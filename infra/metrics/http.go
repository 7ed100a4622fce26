package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/tankwatch/infra/logger"
)

// ScrapeHandler serves the metrics of g on /metrics.
func ScrapeHandler(g prometheus.Gatherer) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})).Methods(http.MethodGet)
	return r
}

// listenAddr accepts "9102" as well as ":9102" or "0.0.0.0:9102".
func listenAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// StartPromServer exposes the default registry on its own listener until
// ctx is cancelled.
func StartPromServer(ctx context.Context, port string) error {
	log := logger.New("prom-server")
	addr := listenAddr(port)
	srv := &http.Server{Addr: addr, Handler: ScrapeHandler(prometheus.DefaultGatherer), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("shutdown: %v", err)
		}
	}()
	log.Infof("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
