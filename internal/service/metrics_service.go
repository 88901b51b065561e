package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the
// enrollment engine.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	reservations  *prometheus.CounterVec
	ledgerTx      *prometheus.HistogramVec
	decisions     *prometheus.CounterVec
	allocationRun *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
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

	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_reservations_total",
		Help: "Seat reservation attempts by result",
	}, []string{"result"})

	ledgerTx := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "enrollment_ledger_tx_duration_seconds",
		Help:    "Duration of ledger transactions",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_decisions_total",
		Help: "Terminal admission decisions by outcome",
	}, []string{"outcome"})

	allocationRun := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_allocation_runs_total",
		Help: "Batch allocation runs by trigger",
	}, []string{"trigger"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_notifications_total",
		Help: "Notification dispatch attempts by status",
	}, []string{"status"})

	registry.MustRegister(requestDuration, requestTotal, reservations, ledgerTx, decisions, allocationRun, notifications)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		reservations:    reservations,
		ledgerTx:        ledgerTx,
		decisions:       decisions,
		allocationRun:   allocationRun,
		notifications:   notifications,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records request metrics for middleware consumption.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "path": path, "status": httpStatusLabel(status)}
	s.requestDuration.With(labels).Observe(duration.Seconds())
	s.requestTotal.With(labels).Inc()
}

// ObserveReservation counts one reservation attempt.
func (s *MetricsService) ObserveReservation(result string) {
	s.reservations.WithLabelValues(result).Inc()
}

// ObserveLedgerTx records the duration of one ledger transaction.
func (s *MetricsService) ObserveLedgerTx(operation string, duration time.Duration) {
	s.ledgerTx.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveDecision counts one terminal decision.
func (s *MetricsService) ObserveDecision(outcome string) {
	s.decisions.WithLabelValues(outcome).Inc()
}

// ObserveAllocationRun counts one batch allocation run.
func (s *MetricsService) ObserveAllocationRun(trigger string) {
	s.allocationRun.WithLabelValues(trigger).Inc()
}

// ObserveNotification counts one dispatch attempt outcome.
func (s *MetricsService) ObserveNotification(status string) {
	s.notifications.WithLabelValues(status).Inc()
}

func httpStatusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
