package watchdog

import (
	"log/slog"
	"time"

	"github.com/loykin/pdpwatch/internal/history"
)

const (
	DefaultRestartInterval     = time.Second
	DefaultTerminationTimeout  = 60 * time.Second
	DefaultHealthInterval      = 10 * time.Second
	DefaultFailureThreshold    = 3
	DefaultInitialStartupDelay = 5 * time.Second
	DefaultProbeTimeout        = 10 * time.Second
)

// RestartPolicy paces respawns and bounds termination.
type RestartPolicy struct {
	// RestartInterval is the minimum time between two spawns. A respawn that
	// comes sooner is delayed, never dropped. It also paces retries after a
	// failed respawn.
	RestartInterval time.Duration `mapstructure:"interval"`
	// TerminationTimeout is how long SIGTERM is given before SIGKILL.
	TerminationTimeout time.Duration `mapstructure:"termination_timeout"`
}

func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		RestartInterval:    DefaultRestartInterval,
		TerminationTimeout: DefaultTerminationTimeout,
	}
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	if p.RestartInterval <= 0 {
		p.RestartInterval = DefaultRestartInterval
	}
	if p.TerminationTimeout <= 0 {
		p.TerminationTimeout = DefaultTerminationTimeout
	}
	return p
}

// HealthCheckConfig controls probing. An Interval of zero disables probing.
type HealthCheckConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	InitialStartupDelay time.Duration `mapstructure:"startup_delay"`
	// ProbeTimeout bounds a single probe on top of the checker's own timeout.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Interval:            DefaultHealthInterval,
		FailureThreshold:    DefaultFailureThreshold,
		InitialStartupDelay: DefaultInitialStartupDelay,
		ProbeTimeout:        DefaultProbeTimeout,
	}
}

func (c HealthCheckConfig) withDefaults() HealthCheckConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.InitialStartupDelay < 0 {
		c.InitialStartupDelay = 0
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	return c
}

type config struct {
	name     string
	policy   RestartPolicy
	health   HealthCheckConfig
	log      *slog.Logger
	recorder *history.Recorder
	onEvent  func(Event)
}

func newConfig(opts []Option) config {
	c := config{
		policy: DefaultRestartPolicy(),
		health: DefaultHealthCheckConfig(),
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(&c)
	}
	c.policy = c.policy.withDefaults()
	c.health = c.health.withDefaults()
	return c
}

// Option configures a CommandWatchdog or ServiceWatchdog.
type Option func(*config)

// WithName labels logs, metrics and history. It defaults to the spec's name.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

func WithRestartPolicy(p RestartPolicy) Option {
	return func(c *config) { c.policy = p }
}

func WithHealthCheck(h HealthCheckConfig) Option {
	return func(c *config) { c.health = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRecorder journals supervision events.
func WithRecorder(r *history.Recorder) Option {
	return func(c *config) { c.recorder = r }
}

// WithEventHook receives command events emitted after the initial spawn.
// The hook runs on the command watchdog's goroutine and must not call back
// into it.
func WithEventHook(fn func(Event)) Option {
	return func(c *config) { c.onEvent = fn }
}
