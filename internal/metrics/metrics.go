package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Scans             *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	AuditFailures     prometheus.Counter
	Registrations     *prometheus.CounterVec
	FramesDecoded     *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Scans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyme_scans_total",
			Help: "Identifier lookups by outcome.",
		}, []string{"outcome"}),
		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyme_status_transitions_total",
			Help: "Verification status changes by target status.",
		}, []string{"status"}),
		AuditFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "verifyme_audit_failures_total",
			Help: "Scan audit entries that could not be recorded.",
		}),
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyme_registrations_total",
			Help: "Student registrations by outcome.",
		}, []string{"outcome"}),
		FramesDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyme_frames_total",
			Help: "Camera frames processed by decode result.",
		}, []string{"result"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "verifyme_scan_sessions_active",
			Help: "Open camera scan sessions.",
		}),
	}
}

func (m *Metrics) ObserveScan(outcome string) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncAuditFailures() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}

func (m *Metrics) ObserveRegistration(outcome string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFrame(result string) {
	if m == nil {
		return
	}
	m.FramesDecoded.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
