// Package metrics exposes node counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the node collectors, registered on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	commands      *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	watchdogStops prometheus.Counter
	watchdogState prometheus.Gauge
	driverErrors  *prometheus.CounterVec
	applyDuration prometheus.Histogram
	lines         *prometheus.CounterVec
	superseded    *prometheus.CounterVec
}

// New creates and registers the node collectors plus the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcn_commands_total",
			Help: "Accepted commands by action and whether the speed was defaulted.",
		}, []string{"action", "speed"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcn_commands_rejected_total",
			Help: "Rejected command lines by reason.",
		}, []string{"reason"}),
		watchdogStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcn_watchdog_stops_total",
			Help: "Transitions into the timed-out state.",
		}),
		watchdogState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcn_watchdog_active",
			Help: "1 while commands arrive within the timeout, 0 when timed out.",
		}),
		driverErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcn_driver_errors_total",
			Help: "Motor driver failures by normalized code.",
		}, []string{"code"}),
		applyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mcn_driver_apply_seconds",
			Help:    "Duration of motor driver Apply calls.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		}),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcn_transport_lines_total",
			Help: "Command lines received by transport.",
		}, []string{"transport"}),
		superseded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcn_transport_superseded_total",
			Help: "Command sources replaced by a newer connection.",
		}, []string{"transport"}),
	}

	m.registry.MustRegister(
		m.commands,
		m.rejected,
		m.watchdogStops,
		m.watchdogState,
		m.driverErrors,
		m.applyDuration,
		m.lines,
		m.superseded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CommandApplied counts an accepted command.
func (m *Metrics) CommandApplied(action string, speedDefaulted bool) {
	speed := "given"
	if speedDefaulted {
		speed = "defaulted"
	}
	m.commands.WithLabelValues(action, speed).Inc()
}

// CommandRejected counts a rejected line.
func (m *Metrics) CommandRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// WatchdogStop counts an ACTIVE to TIMED_OUT transition.
func (m *Metrics) WatchdogStop() {
	m.watchdogStops.Inc()
}

// WatchdogActive sets the watchdog gauge.
func (m *Metrics) WatchdogActive(active bool) {
	if active {
		m.watchdogState.Set(1)
		return
	}
	m.watchdogState.Set(0)
}

// DriverError counts a driver failure.
func (m *Metrics) DriverError(code string) {
	m.driverErrors.WithLabelValues(code).Inc()
}

// ApplyDuration observes one driver Apply.
func (m *Metrics) ApplyDuration(d time.Duration) {
	m.applyDuration.Observe(d.Seconds())
}

// LineReceived counts a line offered by a transport.
func (m *Metrics) LineReceived(transport string) {
	m.lines.WithLabelValues(transport).Inc()
}

// Superseded counts a client replaced by a newer one.
func (m *Metrics) Superseded(transport string) {
	m.superseded.WithLabelValues(transport).Inc()
}
