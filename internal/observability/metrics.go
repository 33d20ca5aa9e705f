// Package observability exposes learnbot's Prometheus metrics.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// turnsTotal counts conversation turns.
	// Labels: source (local, external, learned, cancelled, skip, none, error)
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnbot",
		Subsystem: "conversation",
		Name:      "turns_total",
		Help:      "Conversation turns by response source",
	}, []string{"source"})

	// retrievalLatency measures local retrieval including query embedding.
	// Labels: result (hit, miss, error)
	retrievalLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "learnbot",
		Subsystem: "retrieval",
		Name:      "latency_seconds",
		Help:      "Local retrieval latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"result"})

	indexEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "learnbot",
		Subsystem: "index",
		Name:      "entries",
		Help:      "Questions in the current retrieval index",
	})

	// indexRebuilds counts index builds.
	// Labels: status (success, error, snapshot)
	indexRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnbot",
		Subsystem: "index",
		Name:      "rebuilds_total",
		Help:      "Index builds by status",
	}, []string{"status"})

	// externalSearches counts external lookups.
	// Labels: provider, status (found, empty, error)
	externalSearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnbot",
		Subsystem: "search",
		Name:      "requests_total",
		Help:      "External search requests by provider and status",
	}, []string{"provider", "status"})
)

// RecordTurn counts one conversation turn.
func RecordTurn(source string) {
	turnsTotal.WithLabelValues(source).Inc()
}

// RecordRetrieval records the duration and outcome of one retrieval.
func RecordRetrieval(d time.Duration, hit bool, err error) {
	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case hit:
		result = "hit"
	}
	retrievalLatency.WithLabelValues(result).Observe(d.Seconds())
}

// RecordIndex records a finished index build and the resulting size.
// status is "success", "error" or "snapshot".
func RecordIndex(status string, entries int) {
	indexRebuilds.WithLabelValues(status).Inc()
	if status != "error" {
		indexEntries.Set(float64(entries))
	}
}

// RecordSearch counts one provider lookup.
func RecordSearch(provider string, result string, err error) {
	status := "found"
	switch {
	case err != nil:
		status = "error"
	case result == "":
		status = "empty"
	}
	externalSearches.WithLabelValues(provider, status).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
