package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// otherEventType labels event types logged through the admin API
const otherEventType = "other"

// Metrics holds the admission layer's prometheus collectors.
// A nil *Metrics is valid and records nothing, which keeps tests free of registries.
type Metrics struct {
	AdmissionDecisions *prometheus.CounterVec
	SuspiciousFlags    *prometheus.CounterVec
	SecurityEvents     *prometheus.CounterVec
	EventsEvicted      prometheus.Counter
	SecurityAlerts     *prometheus.CounterVec
	TrackedKeys        *prometheus.GaugeVec
	ForwardFailures    *prometheus.CounterVec
	ForwardDropped     prometheus.Counter
	BreakerState       *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdmissionDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_decisions_total",
				Help: "Rate limit decisions by category and outcome",
			},
			[]string{"category", "outcome"},
		),
		SuspiciousFlags: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "suspicious_activity_flags_total",
				Help: "Suspicious activity heuristics that fired, by reason",
			},
			[]string{"reason"},
		),
		SecurityEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "security_events_total",
				Help: "Security events logged, by event type (operator supplied types are counted as other)",
			},
			[]string{"event_type"},
		),
		EventsEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "security_events_evicted_total",
				Help: "Events dropped from the in-memory log because it was full",
			},
		),
		SecurityAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "security_alerts_total",
				Help: "Security alerts raised or refreshed, by type and severity",
			},
			[]string{"alert_type", "severity"},
		),
		TrackedKeys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "admission_tracked_keys",
				Help: "Number of in-memory keys held by each store",
			},
			[]string{"store"},
		),
		ForwardFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "security_forward_failures_total",
				Help: "Failed deliveries to downstream sinks",
			},
			[]string{"sink"},
		),
		ForwardDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "security_forward_dropped_total",
				Help: "Items dropped because the forwarding queue was full",
			},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "security_sink_circuit_state",
				Help: "Circuit breaker state per sink (0=closed, 1=half-open, 2=open)",
			},
			[]string{"sink"},
		),
	}

	reg.MustRegister(
		m.AdmissionDecisions,
		m.SuspiciousFlags,
		m.SecurityEvents,
		m.EventsEvicted,
		m.SecurityAlerts,
		m.TrackedKeys,
		m.ForwardFailures,
		m.ForwardDropped,
		m.BreakerState,
	)

	return m
}

// NewRegistry returns a registry with the process and Go runtime collectors attached
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (m *Metrics) ObserveDecision(category, outcome string) {
	if m == nil {
		return
	}
	m.AdmissionDecisions.WithLabelValues(category, outcome).Inc()
}

func (m *Metrics) ObserveSuspicion(reason string) {
	if m == nil {
		return
	}
	m.SuspiciousFlags.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	if !models.IsKnownEventType(eventType) {
		eventType = otherEventType
	}
	m.SecurityEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EventsEvicted.Add(float64(n))
}

func (m *Metrics) ObserveAlert(alertType, severity string) {
	if m == nil {
		return
	}
	m.SecurityAlerts.WithLabelValues(alertType, severity).Inc()
}

func (m *Metrics) SetTrackedKeys(store string, n int) {
	if m == nil {
		return
	}
	m.TrackedKeys.WithLabelValues(store).Set(float64(n))
}

func (m *Metrics) ObserveForwardFailure(sink string) {
	if m == nil {
		return
	}
	m.ForwardFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) ObserveForwardDropped() {
	if m == nil {
		return
	}
	m.ForwardDropped.Inc()
}

func (m *Metrics) SetBreakerState(sink string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(sink).Set(state)
}
