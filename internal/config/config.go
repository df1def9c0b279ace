package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/pdpwatch/internal/auth"
	"github.com/loykin/pdpwatch/internal/cron"
	"github.com/loykin/pdpwatch/internal/engine"
	"github.com/loykin/pdpwatch/internal/env"
	"github.com/loykin/pdpwatch/internal/health"
	"github.com/loykin/pdpwatch/internal/logger"
	"github.com/loykin/pdpwatch/internal/tls"
	"github.com/loykin/pdpwatch/internal/watchdog"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// PDPWATCH_HEALTH_INTERVAL=30s overrides health.interval.
const EnvPrefix = "PDPWATCH"

// Config is the file configuration of pdpwatch.
type Config struct {
	Engine     EngineConfig               `mapstructure:"engine"`
	Health     watchdog.HealthCheckConfig `mapstructure:"health"`
	Restart    watchdog.RestartPolicy     `mapstructure:"restart"`
	Log        logger.Config              `mapstructure:"log"`
	ProcessLog logger.ProcessConfig       `mapstructure:"process_log"`
	Admin      AdminConfig                `mapstructure:"admin"`
	History    HistoryConfig              `mapstructure:"history"`
	Schedule   ScheduleConfig             `mapstructure:"schedule"`
}

// EngineConfig describes the PDP process.
type EngineConfig struct {
	Name string `mapstructure:"name"`
	// Python is the interpreter path; empty means python3 from PATH.
	Python string `mapstructure:"python"`
	// PDPDir is the working directory; empty means the current directory.
	PDPDir string `mapstructure:"pdp_dir"`

	Module   string   `mapstructure:"module"`
	App      string   `mapstructure:"app"`
	Host     string   `mapstructure:"host"`
	Port     uint16   `mapstructure:"port"`
	LogLevel string   `mapstructure:"log_level"`
	Reload   bool     `mapstructure:"reload"`
	Args     []string `mapstructure:"args"` // appended after the typed arguments

	Env        []string `mapstructure:"env"`       // KEY=VALUE, applied after env_files
	EnvFiles   []string `mapstructure:"env_files"` // read in order, later files win
	InheritEnv bool     `mapstructure:"inherit_env"`

	BaseURL       string        `mapstructure:"base_url"`
	HealthPath    string        `mapstructure:"health_path"`
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
	// TCPCheck, when set, adds a TCP connect probe that must pass together
	// with the HTTP probe.
	TCPCheck string `mapstructure:"tcp_check"`
	PIDFile  string `mapstructure:"pid_file"`
}

// AdminConfig controls the admin HTTP API.
type AdminConfig struct {
	Enabled  bool        `mapstructure:"enabled"`
	Listen   string      `mapstructure:"listen"`
	BasePath string      `mapstructure:"base_path"`
	Metrics  bool        `mapstructure:"metrics"`
	Auth     auth.Config `mapstructure:"auth"`
	TLS      tls.Config  `mapstructure:"tls"`
}

// ScheduleConfig enables periodic maintenance restarts.
type ScheduleConfig struct {
	// Restart is a cron expression such as "0 3 * * *"; empty disables.
	Restart string        `mapstructure:"restart"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HistoryConfig selects supervision event sinks by DSN.
type HistoryConfig struct {
	Sinks  []string `mapstructure:"sinks"`
	Buffer int      `mapstructure:"buffer"`
}

func (h HistoryConfig) Enabled() bool { return len(h.Sinks) > 0 }

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Name:          engine.DefaultName,
			InheritEnv:    true,
			BaseURL:       engine.DefaultBaseURL,
			HealthPath:    engine.DefaultHealthPath,
			HealthTimeout: engine.DefaultHealthTimeout,
		},
		Health:  watchdog.DefaultHealthCheckConfig(),
		Restart: watchdog.DefaultRestartPolicy(),
		Log:     logger.Config{Level: "info", Format: "text"},
		Admin: AdminConfig{
			Listen:   "127.0.0.1:7070",
			BasePath: "/api",
			Metrics:  true,
			Auth:     auth.Config{TokenTTL: auth.DefaultTokenTTL},
		},
		Schedule: ScheduleConfig{Timeout: cron.DefaultRestartTimeout},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("engine.name", d.Engine.Name)
	v.SetDefault("engine.python", "")
	v.SetDefault("engine.pdp_dir", "")
	v.SetDefault("engine.module", "")
	v.SetDefault("engine.app", "")
	v.SetDefault("engine.host", "")
	v.SetDefault("engine.port", 0)
	v.SetDefault("engine.log_level", "")
	v.SetDefault("engine.reload", false)
	v.SetDefault("engine.args", []string{})
	v.SetDefault("engine.env", []string{})
	v.SetDefault("engine.env_files", []string{})
	v.SetDefault("engine.inherit_env", d.Engine.InheritEnv)
	v.SetDefault("engine.base_url", d.Engine.BaseURL)
	v.SetDefault("engine.health_path", d.Engine.HealthPath)
	v.SetDefault("engine.health_timeout", d.Engine.HealthTimeout)
	v.SetDefault("engine.tcp_check", "")
	v.SetDefault("engine.pid_file", "")

	v.SetDefault("health.interval", d.Health.Interval)
	v.SetDefault("health.failure_threshold", d.Health.FailureThreshold)
	v.SetDefault("health.startup_delay", d.Health.InitialStartupDelay)
	v.SetDefault("health.probe_timeout", d.Health.ProbeTimeout)

	v.SetDefault("restart.interval", d.Restart.RestartInterval)
	v.SetDefault("restart.termination_timeout", d.Restart.TerminationTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.color", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 0)
	v.SetDefault("log.max_backups", 0)
	v.SetDefault("log.max_age_days", 0)
	v.SetDefault("log.compress", false)

	v.SetDefault("process_log.dir", "")
	v.SetDefault("process_log.stdout", "")
	v.SetDefault("process_log.stderr", "")
	v.SetDefault("process_log.max_size_mb", 0)
	v.SetDefault("process_log.max_backups", 0)
	v.SetDefault("process_log.max_age_days", 0)
	v.SetDefault("process_log.compress", false)

	v.SetDefault("admin.enabled", d.Admin.Enabled)
	v.SetDefault("admin.listen", d.Admin.Listen)
	v.SetDefault("admin.base_path", d.Admin.BasePath)
	v.SetDefault("admin.metrics", d.Admin.Metrics)
	v.SetDefault("admin.auth.enabled", false)
	v.SetDefault("admin.auth.jwt_secret", "")
	v.SetDefault("admin.auth.token_ttl", d.Admin.Auth.TokenTTL)
	v.SetDefault("admin.tls.enabled", false)
	v.SetDefault("admin.tls.cert_file", "")
	v.SetDefault("admin.tls.key_file", "")
	v.SetDefault("admin.tls.dir", "")
	v.SetDefault("admin.tls.auto_generate", false)
	v.SetDefault("admin.tls.min_version", "")
	v.SetDefault("admin.tls.max_version", "")

	v.SetDefault("schedule.restart", "")
	v.SetDefault("schedule.timeout", d.Schedule.Timeout)

	v.SetDefault("history.sinks", []string{})
	v.SetDefault("history.buffer", 0)
}

// Load reads path (TOML or YAML, chosen by extension) and applies
// PDPWATCH_* environment overrides. An empty path loads defaults plus the
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			v.SetConfigType("yaml")
		default:
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if path != "" {
		cfg.resolvePaths(filepath.Dir(path))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePaths makes relative env file and TLS paths relative to the config
// file.
func (c *Config) resolvePaths(dir string) {
	for i, p := range c.Engine.EnvFiles {
		c.Engine.EnvFiles[i] = resolve(dir, p)
	}
	t := &c.Admin.TLS
	t.CertFile = resolve(dir, t.CertFile)
	t.KeyFile = resolve(dir, t.KeyFile)
	t.Dir = resolve(dir, t.Dir)
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Validate checks values that the engine cannot default on its own.
func (c *Config) Validate() error {
	var errs []error
	if c.Health.Interval < 0 {
		errs = append(errs, errors.New("health.interval must not be negative"))
	}
	if c.Health.FailureThreshold < 1 {
		errs = append(errs, errors.New("health.failure_threshold must be at least 1"))
	}
	if c.Restart.RestartInterval < 0 || c.Restart.TerminationTimeout < 0 {
		errs = append(errs, errors.New("restart durations must not be negative"))
	}
	if c.Engine.HealthTimeout < 0 {
		errs = append(errs, errors.New("engine.health_timeout must not be negative"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	for _, kv := range c.Engine.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
			errs = append(errs, fmt.Errorf("engine.env: expected KEY=VALUE, got %q", kv))
		}
	}
	if c.Admin.Enabled && c.Admin.Listen == "" {
		errs = append(errs, errors.New("admin.listen is required when admin is enabled"))
	}
	if c.Admin.Auth.Enabled {
		if _, err := auth.NewAuthService(c.Admin.Auth); err != nil {
			errs = append(errs, fmt.Errorf("admin.auth: %w", err))
		}
	}
	if err := c.Admin.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("admin.%w", err))
	}
	if c.Schedule.Restart != "" {
		if _, err := cron.ParseSchedule(c.Schedule.Restart); err != nil {
			errs = append(errs, fmt.Errorf("schedule.restart: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", engine.ErrInvalidConfig, err)
	}
	return nil
}

// Environment merges env_files in order and then the env list.
func (c *Config) Environment() (env.Vars, error) {
	vars := make(env.Vars)
	for _, p := range c.Engine.EnvFiles {
		fv, err := env.LoadFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range fv {
			vars[k] = v
		}
	}
	for k, v := range env.Parse(c.Engine.Env) {
		vars[k] = v
	}
	return vars, nil
}

// Args returns the PDP arguments in a fixed order: module, app, host, port,
// log level, reload, then the free-form args.
func (c *Config) Args() []engine.Arg {
	e := c.Engine
	var args []engine.Arg
	if e.Module != "" {
		args = append(args, engine.Module(e.Module))
	}
	if e.App != "" {
		args = append(args, engine.App(e.App))
	}
	if e.Host != "" {
		args = append(args, engine.Host(e.Host))
	}
	if e.Port != 0 {
		args = append(args, engine.Port(e.Port))
	}
	if e.LogLevel != "" {
		args = append(args, engine.LogLevel(engine.Level(e.LogLevel)))
	}
	if e.Reload {
		args = append(args, engine.Reload())
	}
	for _, a := range e.Args {
		args = append(args, engine.Custom(a))
	}
	return args
}

// Builder turns the configuration into an engine.Builder. Setter errors
// surface from the builder's Build or Start.
func (c *Config) Builder() (*engine.Builder, error) {
	vars, err := c.Environment()
	if err != nil {
		return nil, err
	}
	e := c.Engine
	b := engine.NewBuilder().
		WithName(e.Name).
		WithArgs(c.Args()...).
		WithEnvVars(vars).
		WithBaseURL(e.BaseURL).
		WithHealthPath(e.HealthPath).
		WithHealthTimeout(e.HealthTimeout).
		WithHealthCheckInterval(c.Health.Interval).
		WithFailureThreshold(c.Health.FailureThreshold).
		WithStartupDelay(c.Health.InitialStartupDelay).
		WithProbeTimeout(c.Health.ProbeTimeout).
		WithRestartInterval(c.Restart.RestartInterval).
		WithTerminationTimeout(c.Restart.TerminationTimeout).
		WithLog(c.ProcessLog).
		WithPIDFile(e.PIDFile)

	if e.Python != "" {
		b.WithPythonPath(e.Python)
	} else {
		b.WithLocatedPython()
	}
	if e.PDPDir != "" {
		b.WithPDPDir(e.PDPDir)
	} else {
		b.WithCwdAsPDPDir()
	}
	if !e.InheritEnv {
		b.WithoutInheritedEnv()
	}
	if e.TCPCheck != "" {
		b.WithExtraChecker(health.NewTCPChecker(e.TCPCheck))
	}
	return b, nil
}
