// Package metrics provides Prometheus metrics for the care API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	RegistrationsTotal  prometheus.Counter
	AppointmentsBooked  prometheus.Counter
	PrescriptionsIssued prometheus.Counter
	PaymentsProcessed   prometheus.Counter
	PaymentsRejected    *prometheus.CounterVec
	OTPSendsTotal       prometheus.Counter
	OTPSendFailures     prometheus.Counter
	OTPCheckFailures    prometheus.Counter
	RequestDuration     prometheus.Histogram
	OutboxPending       prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all metrics.
func New() *Metrics {
	m := &Metrics{
		RegistrationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_registrations_total",
			Help: "Total users registered after OTP verification",
		}),
		AppointmentsBooked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_appointments_booked_total",
			Help: "Total appointments booked after OTP verification",
		}),
		PrescriptionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_prescriptions_issued_total",
			Help: "Total prescriptions issued",
		}),
		PaymentsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_payments_processed_total",
			Help: "Total payments settled",
		}),
		PaymentsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "care_payments_rejected_total",
			Help: "Total rejected payment submissions",
		}, []string{"reason"}),
		OTPSendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_otp_sends_total",
			Help: "Total verification codes dispatched",
		}),
		OTPSendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_otp_send_failures_total",
			Help: "Total failed verification code dispatches",
		}),
		OTPCheckFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_otp_check_failures_total",
			Help: "Total rejected verification code checks",
		}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "care_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "care_outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "care_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.RegistrationsTotal,
		m.AppointmentsBooked,
		m.PrescriptionsIssued,
		m.PaymentsProcessed,
		m.PaymentsRejected,
		m.OTPSendsTotal,
		m.OTPSendFailures,
		m.OTPCheckFailures,
		m.RequestDuration,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
