// Package pdpwatch embeds the PDP supervisor in another program. It
// re-exports the builder, watchdog and health types of the internal
// packages as aliases.
package pdpwatch

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/pdpwatch/internal/config"
	"github.com/loykin/pdpwatch/internal/engine"
	"github.com/loykin/pdpwatch/internal/health"
	"github.com/loykin/pdpwatch/internal/metrics"
	"github.com/loykin/pdpwatch/internal/process"
	"github.com/loykin/pdpwatch/internal/server"
	"github.com/loykin/pdpwatch/internal/watchdog"
)

type (
	Builder = engine.Builder
	Engine  = engine.Engine
	Arg     = engine.Arg
	Level   = engine.Level

	Spec = process.Spec

	ServiceWatchdog   = watchdog.ServiceWatchdog
	CommandWatchdog   = watchdog.CommandWatchdog
	State             = watchdog.State
	Status            = watchdog.Status
	Stats             = watchdog.Stats
	RestartPolicy     = watchdog.RestartPolicy
	HealthCheckConfig = watchdog.HealthCheckConfig
	Option            = watchdog.Option
	CommandEvent      = watchdog.Event

	Checker          = health.Checker
	HealthResult     = health.Result
	HTTPChecker      = health.HTTPChecker
	TCPChecker       = health.TCPChecker
	CompositeChecker = health.CompositeChecker

	Config = config.Config
)

const (
	LevelDebug    = engine.LevelDebug
	LevelInfo     = engine.LevelInfo
	LevelWarning  = engine.LevelWarning
	LevelError    = engine.LevelError
	LevelCritical = engine.LevelCritical
)

var (
	ErrBinaryNotFound = engine.ErrBinaryNotFound
	ErrDirNotFound    = engine.ErrDirNotFound
	ErrInvalidURL     = engine.ErrInvalidURL
	ErrInvalidConfig  = engine.ErrInvalidConfig

	ErrSpawn       = watchdog.ErrSpawn
	ErrForcedKill  = watchdog.ErrForcedKill
	ErrWaitTimeout = watchdog.ErrWaitTimeout
	ErrStopped     = watchdog.ErrStopped
)

func NewBuilder() *Builder { return engine.NewBuilder() }

func Module(name string) Arg { return engine.Module(name) }
func App(app string) Arg     { return engine.App(app) }
func Reload() Arg            { return engine.Reload() }
func Port(port uint16) Arg   { return engine.Port(port) }
func Host(host string) Arg   { return engine.Host(host) }
func LogLevel(l Level) Arg   { return engine.LogLevel(l) }
func Custom(raw string) Arg  { return engine.Custom(raw) }

// StartService supervises spec with checker without the PDP builder.
func StartService(spec Spec, checker Checker, opts ...Option) (*ServiceWatchdog, error) {
	return watchdog.Start(spec, checker, opts...)
}

// StartCommand keeps spec running without health checks.
func StartCommand(spec Spec, opts ...Option) (*CommandWatchdog, error) {
	return watchdog.StartCommand(spec, opts...)
}

func WithName(name string) Option                { return watchdog.WithName(name) }
func WithRestartPolicy(p RestartPolicy) Option   { return watchdog.WithRestartPolicy(p) }
func WithHealthCheck(h HealthCheckConfig) Option { return watchdog.WithHealthCheck(h) }
func WithLogger(l *slog.Logger) Option           { return watchdog.WithLogger(l) }
func WithEventHook(fn func(CommandEvent)) Option { return watchdog.WithEventHook(fn) }

func NewHTTPChecker(url string) *HTTPChecker             { return health.NewHTTPChecker(url) }
func NewTCPChecker(addr string) *TCPChecker              { return health.NewTCPChecker(addr) }
func NewCompositeChecker(c ...Checker) *CompositeChecker { return health.NewCompositeChecker(c...) }

// LoadConfig reads a TOML or YAML file; an empty path yields the defaults
// with PDPWATCH_* overrides applied.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// NewAdminHandler exposes status, stats, restart and healthz for w under
// basePath.
func NewAdminHandler(w *ServiceWatchdog, basePath string) http.Handler {
	return server.NewRouter(w, basePath, server.WithMetrics(metrics.Handler())).Handler()
}

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
