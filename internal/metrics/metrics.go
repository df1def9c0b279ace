package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pdpwatch"

// Restart reasons used as the "reason" label.
const (
	ReasonExit   = "exit"
	ReasonHealth = "health"
	ReasonManual = "manual"
)

var (
	regOK atomic.Bool

	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Health probes completed, by result.",
		}, []string{"name", "result"},
	)
	healthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Latency of health probes.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"name"},
	)
	consecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "consecutive_failures",
			Help:      "Current run of failed probes.",
		}, []string{"name"},
	)
	starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Successful process spawns.",
		}, []string{"name"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "spawn_failures_total",
			Help:      "Failed process spawns.",
		}, []string{"name"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Restart cycles, by reason (exit, health, manual).",
		}, []string{"name", "reason"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Service state transitions.",
		}, []string{"name", "from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "current_state",
			Help:      "1 for the state the service is in, 0 otherwise.",
		}, []string{"name", "state"},
	)
	nextScheduledRestart = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "restart",
			Name:      "next_scheduled_timestamp_seconds",
			Help:      "Unix time of the next scheduled restart.",
		}, []string{"name"},
	)
	residentMemory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "resident_memory_bytes",
			Help:      "RSS of the supervised process at the last sample.",
		}, []string{"name"},
	)
	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage of the supervised process at the last sample.",
		}, []string{"name"},
	)
)

// Register adds all collectors to r. Calling it again after success is a
// no-op; collectors already present in r are kept.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		healthChecks, healthCheckDuration, consecutiveFailures,
		starts, spawnFailures, restarts,
		stateTransitions, currentState,
		residentMemory, cpuPercent,
		nextScheduledRestart,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below are no-ops until Register succeeds.

func ObserveHealthCheck(name string, healthy bool, seconds float64) {
	if !regOK.Load() {
		return
	}
	result := "failure"
	if healthy {
		result = "success"
	}
	healthChecks.WithLabelValues(name, result).Inc()
	healthCheckDuration.WithLabelValues(name).Observe(seconds)
}

func SetConsecutiveFailures(name string, n int) {
	if regOK.Load() {
		consecutiveFailures.WithLabelValues(name).Set(float64(n))
	}
}

func IncStart(name string) {
	if regOK.Load() {
		starts.WithLabelValues(name).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(name).Inc()
	}
}

func IncRestart(name, reason string) {
	if regOK.Load() {
		restarts.WithLabelValues(name, reason).Inc()
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

// SetCurrentState marks state as active for name and clears the others.
func SetCurrentState(name, state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		currentState.WithLabelValues(name, s).Set(v)
	}
}

func SetUsage(name string, rss uint64, cpu float64) {
	if regOK.Load() {
		residentMemory.WithLabelValues(name).Set(float64(rss))
		cpuPercent.WithLabelValues(name).Set(cpu)
	}
}

func SetNextScheduledRestart(name string, unix float64) {
	if regOK.Load() {
		nextScheduledRestart.WithLabelValues(name).Set(unix)
	}
}
