// Package metrics
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoshop_analysis_cache_lookups_total",
			Help: "Analysis store lookups, labeled by outcome (hit, miss, conflict).",
		},
		[]string{"outcome"},
	)
	AnalyzerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoshop_analyzer_calls_total",
			Help: "Calls to the external analysis engine, labeled by result.",
		},
		[]string{"result"},
	)
	AnalyzerDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ecoshop_analyzer_duration_seconds",
			Help:    "Latency of the external analysis engine.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
	)
	WatchEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoshop_watch_events_total",
			Help: "Task status events emitted, labeled by kind.",
		},
		[]string{"kind"},
	)
	ActiveWatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecoshop_active_watches",
			Help: "Number of open task status streams.",
		},
	)
	TasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecoshop_tasks_processed_total",
			Help: "Tasks handled by the worker, labeled by final status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(CacheLookups)
	prometheus.MustRegister(AnalyzerCalls)
	prometheus.MustRegister(AnalyzerDuration)
	prometheus.MustRegister(WatchEvents)
	prometheus.MustRegister(ActiveWatches)
	prometheus.MustRegister(TasksProcessed)
}

// ExposeMetrics blocks serving /metrics on addr.
func ExposeMetrics(addr string) {
	slog.Info("Exposing Prometheus metrics", "address", addr)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("Failed to start Prometheus metrics server", "error", err)
	}
}
