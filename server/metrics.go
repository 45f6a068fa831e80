// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the A2A endpoint.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeStreams   prometheus.Gauge
	tasksCreated    prometheus.Counter
}

// NewMetrics creates and registers the instrument set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentvault",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by path and status code.",
		}, []string{"path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentvault",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentvault",
			Name:      "active_event_streams",
			Help:      "Event stream subscriptions currently open.",
		}),
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentvault",
			Name:      "tasks_created_total",
			Help:      "Tasks created since process start.",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeStreams,
		m.tasksCreated,
	)
	return m
}

// Handler returns the /metrics scrape handler for this instrument set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TaskCreated records a new task.
func (m *Metrics) TaskCreated() { m.tasksCreated.Inc() }

// StreamOpened records an event stream going live.
func (m *Metrics) StreamOpened() { m.activeStreams.Inc() }

// StreamClosed records an event stream ending.
func (m *Metrics) StreamClosed() { m.activeStreams.Dec() }

// Middleware instruments request counts and latency. The wrapped response
// writer keeps http.Flusher reachable so event streams still flush.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		mw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(mw, r)

		m.requestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(mw.status)).Inc()
		m.requestDuration.WithLabelValues(r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// metricsResponseWriter captures the status code while forwarding Flush.
type metricsResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *metricsResponseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *metricsResponseWriter) Write(p []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(p)
}

// Flush implements http.Flusher when the underlying writer does.
func (w *metricsResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
