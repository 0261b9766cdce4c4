package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the ingestion
// pipeline and the HTTP API.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	envelopesProcessed *prometheus.CounterVec
	envelopesRejected  *prometheus.CounterVec
	envelopesCompleted *prometheus.CounterVec
	uploadRetries      *prometheus.CounterVec
	notificationsSent  *prometheus.CounterVec
	leaseContention    *prometheus.CounterVec
}

// NewMetricsService registers all collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	envelopesProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "envelopes_processed_total",
		Help: "Envelopes successfully ingested per container",
	}, []string{"container"})

	envelopesRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "envelopes_rejected_total",
		Help: "Blobs rejected during validation per container and code",
	}, []string{"container", "code"})

	envelopesCompleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "envelopes_completed_total",
		Help: "Envelopes finalised after downstream acknowledgement",
	}, []string{"container"})

	uploadRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upload_retries_total",
		Help: "Failed document store upload attempts per container",
	}, []string{"container"})

	notificationsSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Ready notifications published per container",
	}, []string{"container"})

	leaseContention := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_contention_total",
		Help: "Blob processing attempts skipped because the lease was held",
	}, []string{"container"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, envelopesProcessed, envelopesRejected,
		envelopesCompleted, uploadRetries, notificationsSent, leaseContention, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		envelopesProcessed: envelopesProcessed,
		envelopesRejected:  envelopesRejected,
		envelopesCompleted: envelopesCompleted,
		uploadRetries:      uploadRetries,
		notificationsSent:  notificationsSent,
		leaseContention:    leaseContention,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// EnvelopeProcessed counts one successful ingestion.
func (m *MetricsService) EnvelopeProcessed(container string) {
	if m == nil {
		return
	}
	m.envelopesProcessed.WithLabelValues(container).Inc()
}

// EnvelopeRejected counts one validation rejection.
func (m *MetricsService) EnvelopeRejected(container, code string) {
	if m == nil {
		return
	}
	m.envelopesRejected.WithLabelValues(container, code).Inc()
}

// EnvelopeCompleted counts one downstream finalisation.
func (m *MetricsService) EnvelopeCompleted(container string) {
	if m == nil {
		return
	}
	m.envelopesCompleted.WithLabelValues(container).Inc()
}

// UploadRetried counts one failed upload attempt.
func (m *MetricsService) UploadRetried(container string) {
	if m == nil {
		return
	}
	m.uploadRetries.WithLabelValues(container).Inc()
}

// NotificationSent counts one ready notification.
func (m *MetricsService) NotificationSent(container string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(container).Inc()
}

// LeaseContention counts one skipped blob due to a held lease.
func (m *MetricsService) LeaseContention(container string) {
	if m == nil {
		return
	}
	m.leaseContention.WithLabelValues(container).Inc()
}
