package watchdog

import "sync/atomic"

// Stats is a snapshot of watchdog counters. Counters only grow until
// ResetStats is called.
type Stats struct {
	HealthChecksTotal       uint64 `json:"health_checks_total"`
	HealthChecksFailed      uint64 `json:"health_checks_failed"`
	RestartsTotal           uint64 `json:"restarts_total"`
	HealthTriggeredRestarts uint64 `json:"health_triggered_restarts"`
	StartsTotal             uint64 `json:"starts_total"`
	LastExitCode            *int   `json:"last_exit_code,omitempty"`
}

type counters struct {
	healthChecks   atomic.Uint64
	healthFailed   atomic.Uint64
	restarts       atomic.Uint64
	healthRestarts atomic.Uint64
}

func (c *counters) reset() {
	c.healthChecks.Store(0)
	c.healthFailed.Store(0)
	c.restarts.Store(0)
	c.healthRestarts.Store(0)
}
