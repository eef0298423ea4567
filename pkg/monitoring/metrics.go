package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector handles Prometheus metrics collection
type MetricsCollector struct {
	serviceName string
	registry    *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	operationDuration   *prometheus.HistogramVec
	bookingsTotal       *prometheus.CounterVec
	slotChecksTotal     *prometheus.CounterVec
	referralsTotal      *prometheus.CounterVec
	reassignmentsTotal  prometheus.Counter
	notificationsTotal  *prometheus.CounterVec
	systemErrors        *prometheus.CounterVec
}

// NewMetricsCollector creates a collector with its own registry
func NewMetricsCollector(serviceName string) *MetricsCollector {
	constLabels := prometheus.Labels{"service": serviceName}

	m := &MetricsCollector{
		serviceName: serviceName,
		registry:    prometheus.NewRegistry(),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: constLabels,
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "Duration of HTTP requests in seconds",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: constLabels,
			},
			[]string{"method", "endpoint"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "scheduling_operation_duration_seconds",
				Help:        "Duration of engine operations in seconds",
				Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
				ConstLabels: constLabels,
			},
			[]string{"operation", "outcome"},
		),
		bookingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "scheduling_bookings_total",
				Help:        "Booking attempts by outcome",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		slotChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "scheduling_slot_checks_total",
				Help:        "Slot conflict checks by result",
				ConstLabels: constLabels,
			},
			[]string{"available"},
		),
		referralsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "scheduling_referral_transitions_total",
				Help:        "Referral state transitions",
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),
		reassignmentsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "scheduling_patient_reassignments_total",
				Help:        "Treating clinician changes",
				ConstLabels: constLabels,
			},
		),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "scheduling_notifications_total",
				Help:        "Notification emissions by stage and status",
				ConstLabels: constLabels,
			},
			[]string{"stage", "status"},
		),
		systemErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "system_errors_total",
				Help:        "Total number of system errors",
				ConstLabels: constLabels,
			},
			[]string{"error_type", "component"},
		),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.operationDuration,
		m.bookingsTotal,
		m.slotChecksTotal,
		m.referralsTotal,
		m.reassignmentsTotal,
		m.notificationsTotal,
		m.systemErrors,
	)

	return m
}

// Registry exposes the underlying registry
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordOperation records the duration and outcome of an engine operation
func (m *MetricsCollector) RecordOperation(operation, outcome string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordBooking records a booking attempt
func (m *MetricsCollector) RecordBooking(outcome string) {
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

// RecordSlotCheck records a slot conflict check
func (m *MetricsCollector) RecordSlotCheck(available bool) {
	m.slotChecksTotal.WithLabelValues(strconv.FormatBool(available)).Inc()
}

// RecordReferralTransition records a referral entering status
func (m *MetricsCollector) RecordReferralTransition(status string) {
	m.referralsTotal.WithLabelValues(status).Inc()
}

// RecordReassignment records a treating clinician change
func (m *MetricsCollector) RecordReassignment() {
	m.reassignmentsTotal.Inc()
}

// RecordNotification records a notification store or publish attempt
func (m *MetricsCollector) RecordNotification(stage, status string) {
	m.notificationsTotal.WithLabelValues(stage, status).Inc()
}

// RecordSystemError records system error metrics
func (m *MetricsCollector) RecordSystemError(errorType, component string) {
	m.systemErrors.WithLabelValues(errorType, component).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
