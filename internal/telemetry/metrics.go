// Package telemetry holds the Prometheus collectors shared by the client
// components and the handler that exposes them.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheLookups counts facade cache lookups by resource and outcome
	// (hit, miss).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptodash_cache_lookups_total",
		Help: "Market data cache lookups by resource and outcome.",
	}, []string{"resource", "outcome"})

	// Results counts facade results by resource and source (live, cached,
	// stale, synthetic, unavailable).
	Results = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptodash_market_results_total",
		Help: "Market data results by resource and source.",
	}, []string{"resource", "source"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cryptodash_market_fetch_duration_seconds",
		Help:    "Duration of market data HTTP fetches.",
		Buckets: prometheus.DefBuckets,
	}, []string{"resource"})

	// BusState is the live price bus connection state (0 disconnected,
	// 1 connecting, 2 connected, 3 failed).
	BusState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cryptodash_pricebus_state",
		Help: "Live price bus connection state.",
	})

	BusReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cryptodash_pricebus_reconnects_total",
		Help: "Live price bus reconnect attempts.",
	})

	BusFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptodash_pricebus_frames_total",
		Help: "Inbound live price frames by outcome (ok, invalid).",
	}, []string{"outcome"})

	BusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cryptodash_pricebus_subscribers",
		Help: "Registered live price callbacks across all coins.",
	})

	// LayoutPersists counts dashboard PUTs by outcome (ok, error).
	LayoutPersists = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptodash_layout_persists_total",
		Help: "Dashboard persistence calls by outcome.",
	}, []string{"outcome"})

	AlertsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cryptodash_alerts_triggered_total",
		Help: "Price alerts that fired.",
	})
)

// Handler returns the /metrics handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr is a
// no-op.
func Serve(ctx context.Context, addr string, log *slog.Logger) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
