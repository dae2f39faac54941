package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/hospital-appointment-booking/internal/appointment"
)

// Metrics holds the collectors of one registry. It implements
// appointment.Observer.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	bookingsTotal       *prometheus.CounterVec
	statusChangesTotal  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		bookingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appointment_bookings_total",
				Help: "Booking attempts by outcome",
			},
			[]string{"outcome"},
		),
		statusChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appointment_status_changes_total",
				Help: "Appointment status changes by target status",
			},
			[]string{"status"},
		),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.bookingsTotal,
		m.statusChangesTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) BookingAttempt(outcome string) {
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StatusChanged(to appointment.AppointmentStatus) {
	m.statusChangesTotal.WithLabelValues(string(to)).Inc()
}

// ObserveRequest records one served request. route should be the matched
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
