// Package metrics exposes Prometheus metrics for chat turns, retrieval,
// ingestion and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the metrics registry.
type Config struct {
	// Namespace prefixes every metric name.
	Namespace string
	// EnableDefaultCollectors adds Go runtime, process and build info collectors.
	EnableDefaultCollectors bool
}

// Metrics owns a dedicated registry and every collector the service reports.
type Metrics struct {
	// Registry is the Prometheus registry where all metrics are registered.
	Registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	turnsTotal        *prometheus.CounterVec
	turnDuration      prometheus.Histogram
	turnStageDuration *prometheus.HistogramVec
	retrievalDegraded prometheus.Counter

	searchDuration  *prometheus.HistogramVec
	searchFailures  prometheus.Counter
	chunksRetrieved prometheus.Histogram

	ingestTasksTotal    *prometheus.CounterVec
	ingestTaskDuration  prometheus.Histogram
	ingestStageDuration *prometheus.HistogramVec
	ingestQueueDepth    prometheus.Gauge
	ingestActiveWorkers prometheus.Gauge
}

// New creates the registry and registers every collector.
func New(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()
	ns := cfg.Namespace

	m := &Metrics{
		Registry: registry,

		requestsTotal: createCounterVec(ns, "http_requests_total",
			"Total number of processed HTTP requests", []string{"method", "route", "status"}),
		requestDuration: createHistogramVec(ns, "http_request_duration_seconds",
			"Duration of HTTP requests in seconds", []string{"route"}, prometheus.DefBuckets),

		turnsTotal: createCounterVec(ns, "chat_turns_total",
			"Chat turns by final state", []string{"state"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "chat_turn_duration_seconds",
			Help:      "End-to-end duration of chat turns in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}),
		turnStageDuration: createHistogramVec(ns, "chat_turn_stage_duration_seconds",
			"Time spent in each chat turn state", []string{"stage"}, prometheus.DefBuckets),
		retrievalDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "retrieval_degraded_total",
			Help:      "Chat turns answered without document context after retrieval failed",
		}),

		searchDuration: createHistogramVec(ns, "search_duration_seconds",
			"Duration of retrieval steps in seconds", []string{"step"}, prometheus.DefBuckets),
		searchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "search_failures_total",
			Help:      "Retrieval attempts that failed",
		}),
		chunksRetrieved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "search_chunks_retrieved",
			Help:      "Number of chunks returned per retrieval",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		}),

		ingestTasksTotal: createCounterVec(ns, "ingestion_tasks_total",
			"Ingestion tasks by final state", []string{"state"}),
		ingestTaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "ingestion_task_duration_seconds",
			Help:      "Duration of ingestion tasks in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		ingestStageDuration: createHistogramVec(ns, "ingestion_stage_duration_seconds",
			"Duration of ingestion stages in seconds", []string{"stage", "outcome"}, prometheus.ExponentialBuckets(0.05, 2, 14)),
		ingestQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "ingestion_queue_depth",
			Help:      "Tasks waiting for an ingestion worker",
		}),
		ingestActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "ingestion_active_workers",
			Help:      "Ingestion workers currently processing a document",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.turnsTotal,
		m.turnDuration,
		m.turnStageDuration,
		m.retrievalDegraded,
		m.searchDuration,
		m.searchFailures,
		m.chunksRetrieved,
		m.ingestTasksTotal,
		m.ingestTaskDuration,
		m.ingestStageDuration,
		m.ingestQueueDepth,
		m.ingestActiveWorkers,
	)

	if cfg.EnableDefaultCollectors {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewBuildInfoCollector(),
		)
	}

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Server returns an HTTP server exposing /metrics on addr.
func (m *Metrics) Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, took time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(took.Seconds())
}

func createCounterVec(namespace, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func createHistogramVec(namespace, name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}
