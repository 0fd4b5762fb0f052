// Package metrics exposes the bridge's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aptushome"

// Lock gauge states.
const (
	StateLocked      = "locked"
	StateUnlocked    = "unlocked"
	StateUnknown     = "unknown"
	StateUnavailable = "unavailable"
)

// LockState labels a door for the locks gauge.
func LockState(available bool, locked *bool) string {
	switch {
	case !available:
		return StateUnavailable
	case locked == nil:
		return StateUnknown
	case *locked:
		return StateLocked
	default:
		return StateUnlocked
	}
}

// Collector owns a private registry with the bridge metrics plus the Go
// runtime and process collectors.
type Collector struct {
	registry *prometheus.Registry

	portalRequests *prometheus.CounterVec
	portalLatency  *prometheus.HistogramVec
	logins         *prometheus.CounterVec
	commands       *prometheus.CounterVec
	buzzes         prometheus.Counter
	locks          *prometheus.GaugeVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		portalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portal",
			Name:      "requests_total",
			Help:      "Requests sent to the Aptus portal by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		portalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "portal",
			Name:      "request_duration_seconds",
			Help:      "Aptus portal request latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"endpoint"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portal",
			Name:      "logins_total",
			Help:      "Portal login attempts by outcome.",
		}, []string{"outcome"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Lock commands by command, source and outcome.",
		}, []string{"command", "source", "outcome"}),
		buzzes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buzz_events_total",
			Help:      "Calls from the entrance panel seen while polling.",
		}),
		locks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "locks",
			Help:      "Lock entities by derived state.",
		}, []string{"state"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.portalRequests,
		c.portalLatency,
		c.logins,
		c.commands,
		c.buzzes,
		c.locks,
		c.httpRequests,
		c.httpLatency,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObservePortalRequest records one portal round trip.
func (c *Collector) ObservePortalRequest(endpoint, outcome string, duration time.Duration) {
	c.portalRequests.WithLabelValues(endpoint, outcome).Inc()
	c.portalLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveLogin records a login attempt.
func (c *Collector) ObserveLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// ObserveCommand records a lock command.
func (c *Collector) ObserveCommand(command, source, outcome string) {
	c.commands.WithLabelValues(command, source, outcome).Inc()
}

// ObserveBuzz records a call from the entrance panel.
func (c *Collector) ObserveBuzz() {
	c.buzzes.Inc()
}

// SetLockStates replaces the per-state lock counts. States missing from
// counts are reported as zero.
func (c *Collector) SetLockStates(counts map[string]int) {
	for _, state := range []string{StateLocked, StateUnlocked, StateUnknown, StateUnavailable} {
		c.locks.WithLabelValues(state).Set(float64(counts[state]))
	}
}

// ObserveHTTPRequest records one API request. route is the matched route
// pattern, not the raw path, to keep label cardinality bounded.
func (c *Collector) ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(duration.Seconds())
}
