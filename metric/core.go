package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every runtime metric.
const Namespace = "scr"

// Metrics contains the runtime-level metrics shared by every component
// manager, reference tracker and registry.
type Metrics struct {
	// Component lifecycle metrics
	ComponentState     *prometheus.GaugeVec
	Transitions        *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	ActivationFailures *prometheus.CounterVec

	// Reference metrics
	BindOperations   *prometheus.CounterVec
	CallbackFailures *prometheus.CounterVec
	ReferenceMatches *prometheus.GaugeVec

	// Queue and registry metrics
	QueueDepth         *prometheus.GaugeVec
	RegisteredServices prometheus.Gauge

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
	ConfigUpdates  *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all runtime metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "component",
				Name:      "state",
				Help:      "Current lifecycle state of a component (see component.State)",
			},
			[]string{"component"},
		),

		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "component",
				Name:      "transitions_total",
				Help:      "Total number of lifecycle state transitions",
			},
			[]string{"component", "from", "to"},
		),

		TransitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "component",
				Name:      "transition_duration_seconds",
				Help:      "Time spent running a lifecycle operation",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component", "operation"},
		),

		ActivationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "component",
				Name:      "activation_failures_total",
				Help:      "Activations that ended in the unsatisfied state",
			},
			[]string{"component", "cause"},
		),

		BindOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "reference",
				Name:      "operations_total",
				Help:      "Bind, unbind and updated calls delivered to components",
			},
			[]string{"component", "reference", "operation"},
		),

		CallbackFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "callback",
				Name:      "failures_total",
				Help:      "Callbacks that returned an error or panicked",
			},
			[]string{"component", "callback"},
		),

		ReferenceMatches: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "reference",
				Name:      "matches",
				Help:      "Registry entries currently matching a reference",
			},
			[]string{"component", "reference"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Lifecycle tasks waiting in a component queue",
			},
			[]string{"component"},
		),

		RegisteredServices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "registry",
				Name:      "services",
				Help:      "Number of services currently published in the registry",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		ConfigUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "config",
				Name:      "updates_total",
				Help:      "Configuration updates delivered to components",
			},
			[]string{"component", "kind"},
		),
	}
}

// collectors lists every core metric for registration.
func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ComponentState,
		c.Transitions,
		c.TransitionDuration,
		c.ActivationFailures,
		c.BindOperations,
		c.CallbackFailures,
		c.ReferenceMatches,
		c.QueueDepth,
		c.RegisteredServices,
		c.NATSConnected,
		c.NATSReconnects,
		c.ConfigUpdates,
	}
}

// RecordTransition updates the state gauge and counts the transition.
// Safe to call on a nil receiver.
func (c *Metrics) RecordTransition(component, from, to string, toValue int) {
	if c == nil {
		return
	}
	c.ComponentState.WithLabelValues(component).Set(float64(toValue))
	c.Transitions.WithLabelValues(component, from, to).Inc()
}

// RecordTransitionDuration records how long a lifecycle operation took
func (c *Metrics) RecordTransitionDuration(component, operation string, d time.Duration) {
	if c == nil {
		return
	}
	c.TransitionDuration.WithLabelValues(component, operation).Observe(d.Seconds())
}

// RecordActivationFailure counts an activation that did not complete
func (c *Metrics) RecordActivationFailure(component, cause string) {
	if c == nil {
		return
	}
	c.ActivationFailures.WithLabelValues(component, cause).Inc()
}

// RecordBindOperation counts a bind, unbind or updated delivery
func (c *Metrics) RecordBindOperation(component, reference, operation string) {
	if c == nil {
		return
	}
	c.BindOperations.WithLabelValues(component, reference, operation).Inc()
}

// RecordCallbackFailure counts a failed or panicking callback
func (c *Metrics) RecordCallbackFailure(component, callback string) {
	if c == nil {
		return
	}
	c.CallbackFailures.WithLabelValues(component, callback).Inc()
}

// RecordReferenceMatches sets the number of matching registry entries
func (c *Metrics) RecordReferenceMatches(component, reference string, n int) {
	if c == nil {
		return
	}
	c.ReferenceMatches.WithLabelValues(component, reference).Set(float64(n))
}

// RecordQueueDepth sets the number of pending lifecycle tasks
func (c *Metrics) RecordQueueDepth(component string, depth int) {
	if c == nil {
		return
	}
	c.QueueDepth.WithLabelValues(component).Set(float64(depth))
}

// RecordRegisteredServices sets the number of published services
func (c *Metrics) RecordRegisteredServices(n int) {
	if c == nil {
		return
	}
	c.RegisteredServices.Set(float64(n))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

// RecordConfigUpdate counts a configuration change routed to a component
func (c *Metrics) RecordConfigUpdate(component, kind string) {
	if c == nil {
		return
	}
	c.ConfigUpdates.WithLabelValues(component, kind).Inc()
}
