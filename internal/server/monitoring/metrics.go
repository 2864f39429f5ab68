// Package monitoring exports board metrics to Prometheus. Every Metrics
// value owns its registry, so tests can build as many as they like.
package monitoring

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "postboard"

// Upload outcomes.
const (
	OutcomeReady    = "ready"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

type Metrics struct {
	registry *prometheus.Registry

	uploads         *prometheus.CounterVec
	uploadBytes     prometheus.Counter
	transferSeconds *prometheus.HistogramVec
	finalizeErrors  prometheus.Counter
	downloads       *prometheus.CounterVec
	storageDeletes  *prometheus.CounterVec
	stalePending    prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers all board metrics plus the Go and process collectors on a
// fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploaded files by outcome.",
		}, []string{"outcome"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes written to the blob store by successful uploads.",
		}),
		transferSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "blob_operation_duration_seconds",
			Help:      "Latency of blob store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		finalizeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_errors_total",
			Help:      "Attachment records that could not be moved out of PENDING.",
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Download resolutions by result code.",
		}, []string{"result"}),
		storageDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_deletes_total",
			Help:      "Blob deletions by result.",
		}, []string{"result"}),
		stalePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stale_pending_attachments",
			Help:      "PENDING attachments older than the staleness cutoff at the last check.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.uploads, m.uploadBytes, m.transferSeconds, m.finalizeErrors,
		m.downloads, m.storageDeletes, m.stalePending,
		m.httpRequests, m.httpDuration,
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// All recorders are safe on a nil receiver so services can run without
// metrics.

func (m *Metrics) RecordUpload(outcome string, size int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
	if outcome == OutcomeReady && size > 0 {
		m.uploadBytes.Add(float64(size))
	}
}

func (m *Metrics) ObserveBlob(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.transferSeconds.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) RecordFinalizeError() {
	if m == nil {
		return
	}
	m.finalizeErrors.Inc()
}

func (m *Metrics) RecordDownload(result string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordBlobDelete(result string) {
	if m == nil {
		return
	}
	m.storageDeletes.WithLabelValues(result).Inc()
}

func (m *Metrics) SetStalePending(n int) {
	if m == nil {
		return
	}
	m.stalePending.Set(float64(n))
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, fmt.Sprint(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
