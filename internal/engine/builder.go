package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/loykin/pdpwatch/internal/env"
	"github.com/loykin/pdpwatch/internal/health"
	"github.com/loykin/pdpwatch/internal/history"
	"github.com/loykin/pdpwatch/internal/logger"
	"github.com/loykin/pdpwatch/internal/process"
	"github.com/loykin/pdpwatch/internal/watchdog"
)

const (
	DefaultBaseURL       = "http://localhost:7001/"
	DefaultHealthPath    = "healthy"
	DefaultHealthTimeout = 10 * time.Second
	DefaultName          = "pdp"
)

// Builder collects the configuration of a PDP engine. Setters validate
// eagerly and record failures; the first Build or Start reports them all.
type Builder struct {
	name        string
	python      string
	pdpDir      string
	args        []Arg
	overrides   env.Vars
	inherit     bool
	baseURL     string
	healthPath  string
	waitTimeout time.Duration
	health      watchdog.HealthCheckConfig
	policy      watchdog.RestartPolicy
	extra       []health.Checker
	procLog     logger.ProcessConfig
	pidFile     string
	recorder    *history.Recorder
	log         *slog.Logger

	errs []error
}

// NewBuilder returns a Builder with the stock PDP defaults.
func NewBuilder() *Builder {
	return &Builder{
		name:        DefaultName,
		overrides:   make(env.Vars),
		inherit:     true,
		baseURL:     DefaultBaseURL,
		healthPath:  DefaultHealthPath,
		waitTimeout: DefaultHealthTimeout,
		health:      watchdog.DefaultHealthCheckConfig(),
		policy:      watchdog.DefaultRestartPolicy(),
		log:         slog.Default(),
	}
}

func (b *Builder) fail(err error) *Builder {
	b.errs = append(b.errs, err)
	return b
}

// WithName labels logs, metrics and history for this engine.
func (b *Builder) WithName(name string) *Builder {
	if name != "" {
		b.name = name
	}
	return b
}

// WithPythonPath sets the interpreter. It must be an executable regular file.
func (b *Builder) WithPythonPath(path string) *Builder {
	fi, err := os.Stat(path)
	if err != nil {
		return b.fail(fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, path, err))
	}
	if !fi.Mode().IsRegular() || fi.Mode().Perm()&0o111 == 0 {
		return b.fail(fmt.Errorf("%w: %s is not an executable file", ErrBinaryNotFound, path))
	}
	b.python = path
	return b
}

// WithLocatedPython resolves python3 from PATH.
func (b *Builder) WithLocatedPython() *Builder {
	path, err := exec.LookPath("python3")
	if err != nil {
		return b.fail(fmt.Errorf("%w: %v", ErrBinaryNotFound, err))
	}
	return b.WithPythonPath(path)
}

// WithPDPDir sets the working directory of the PDP process.
func (b *Builder) WithPDPDir(dir string) *Builder {
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return b.fail(fmt.Errorf("%w: %s", ErrDirNotFound, dir))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return b.fail(fmt.Errorf("%w: %s: %v", ErrDirNotFound, dir, err))
	}
	b.pdpDir = abs
	return b
}

func (b *Builder) WithCwdAsPDPDir() *Builder {
	wd, err := os.Getwd()
	if err != nil {
		return b.fail(fmt.Errorf("%w: %v", ErrDirNotFound, err))
	}
	return b.WithPDPDir(wd)
}

func (b *Builder) AddArg(a Arg) *Builder {
	b.args = append(b.args, a)
	return b
}

func (b *Builder) AddArgCustom(raw string) *Builder {
	return b.AddArg(Custom(raw))
}

// WithArgs replaces all arguments added so far.
func (b *Builder) WithArgs(args ...Arg) *Builder {
	b.args = append([]Arg(nil), args...)
	return b
}

// WithEnvVars replaces the override map.
func (b *Builder) WithEnvVars(vars map[string]string) *Builder {
	b.overrides = make(env.Vars, len(vars))
	for k, v := range vars {
		b.overrides[k] = v
	}
	return b
}

// AddEnv sets one override; a later AddEnv for the same key wins.
func (b *Builder) AddEnv(key, value string) *Builder {
	if key == "" {
		return b.fail(fmt.Errorf("%w: empty environment variable name", ErrInvalidConfig))
	}
	b.overrides[key] = value
	return b
}

// WithoutInheritedEnv starts the child with only the overrides.
func (b *Builder) WithoutInheritedEnv() *Builder {
	b.inherit = false
	return b
}

func (b *Builder) WithBaseURL(raw string) *Builder {
	u, err := url.Parse(raw)
	if err != nil {
		return b.fail(fmt.Errorf("%w: %v", ErrInvalidURL, err))
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return b.fail(fmt.Errorf("%w: %q needs an http(s) scheme and host", ErrInvalidURL, raw))
	}
	b.baseURL = raw
	return b
}

// WithHealthPath sets the probe path, resolved against the base URL.
func (b *Builder) WithHealthPath(path string) *Builder {
	b.healthPath = path
	return b
}

// WithHealthTimeout bounds the wait for health during Start. Zero skips
// the wait.
func (b *Builder) WithHealthTimeout(d time.Duration) *Builder {
	b.waitTimeout = d
	return b
}

// WithHealthCheckInterval sets the polling interval. Zero disables
// monitoring; exits are still supervised.
func (b *Builder) WithHealthCheckInterval(d time.Duration) *Builder {
	if d < 0 {
		return b.fail(fmt.Errorf("%w: negative health check interval", ErrInvalidConfig))
	}
	b.health.Interval = d
	return b
}

func (b *Builder) WithFailureThreshold(n int) *Builder {
	if n < 1 {
		return b.fail(fmt.Errorf("%w: failure threshold must be at least 1", ErrInvalidConfig))
	}
	b.health.FailureThreshold = n
	return b
}

func (b *Builder) WithStartupDelay(d time.Duration) *Builder {
	b.health.InitialStartupDelay = d
	return b
}

// WithProbeTimeout bounds a single health probe.
func (b *Builder) WithProbeTimeout(d time.Duration) *Builder {
	b.health.ProbeTimeout = d
	return b
}

func (b *Builder) WithRestartInterval(d time.Duration) *Builder {
	b.policy.RestartInterval = d
	return b
}

func (b *Builder) WithTerminationTimeout(d time.Duration) *Builder {
	b.policy.TerminationTimeout = d
	return b
}

// WithExtraChecker adds a checker that must pass alongside the HTTP probe.
func (b *Builder) WithExtraChecker(c health.Checker) *Builder {
	if c != nil {
		b.extra = append(b.extra, c)
	}
	return b
}

// WithLog redirects the child's stdout and stderr to rotated files.
func (b *Builder) WithLog(cfg logger.ProcessConfig) *Builder {
	b.procLog = cfg
	return b
}

func (b *Builder) WithPIDFile(path string) *Builder {
	b.pidFile = path
	return b
}

// WithHistory journals supervision events to r.
func (b *Builder) WithHistory(r *history.Recorder) *Builder {
	b.recorder = r
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	if l != nil {
		b.log = l
	}
	return b
}

func (b *Builder) validate() error {
	errs := append([]error(nil), b.errs...)
	if b.python == "" && !containsErr(errs, ErrBinaryNotFound) {
		errs = append(errs, fmt.Errorf("%w: interpreter path not set", ErrBinaryNotFound))
	}
	if b.pdpDir == "" && !containsErr(errs, ErrDirNotFound) {
		errs = append(errs, fmt.Errorf("%w: pdp directory not set", ErrDirNotFound))
	}
	if _, err := b.healthURL(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func containsErr(errs []error, target error) bool {
	for _, e := range errs {
		if errors.Is(e, target) {
			return true
		}
	}
	return false
}

func (b *Builder) healthURL() (string, error) {
	base, err := url.Parse(b.baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	ref, err := url.Parse(b.healthPath)
	if err != nil {
		return "", fmt.Errorf("%w: health path: %v", ErrInvalidURL, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// Build validates the configuration and returns the launch spec.
func (b *Builder) Build() (process.Spec, error) {
	if err := b.validate(); err != nil {
		return process.Spec{}, err
	}
	e := env.Empty()
	if b.inherit {
		e = env.New()
	}
	e.Replace(b.overrides)
	return process.Spec{
		Name:    b.name,
		Path:    b.python,
		Args:    Flatten(b.args),
		WorkDir: b.pdpDir,
		Env:     e.Compose(),
		Log:     b.procLog,
		PIDFile: b.pidFile,
	}, nil
}

// Checker returns the probe the engine uses: the HTTP check on the health
// URL, combined with any extra checkers.
func (b *Builder) Checker() (health.Checker, error) {
	u, err := b.healthURL()
	if err != nil {
		return nil, err
	}
	hc := health.NewHTTPChecker(u)
	if b.health.ProbeTimeout > 0 {
		hc.Timeout = b.health.ProbeTimeout
	}
	if len(b.extra) == 0 {
		return hc, nil
	}
	c := health.NewCompositeChecker(append([]health.Checker{hc}, b.extra...)...)
	c.Timeout = b.health.ProbeTimeout
	return c, nil
}

// Start launches the PDP under a service watchdog. When a health timeout
// is set it waits for the first healthy probe; if that fails the watchdog
// is stopped and the error returned.
func (b *Builder) Start(ctx context.Context) (*Engine, error) {
	spec, err := b.Build()
	if err != nil {
		return nil, err
	}
	checker, err := b.Checker()
	if err != nil {
		return nil, err
	}
	log := b.log.With(slog.String("engine", b.name))
	w, err := watchdog.Start(spec, checker,
		watchdog.WithName(b.name),
		watchdog.WithHealthCheck(b.health),
		watchdog.WithRestartPolicy(b.policy),
		watchdog.WithLogger(b.log),
		watchdog.WithRecorder(b.recorder),
	)
	if err != nil {
		return nil, err
	}
	e := &Engine{w: w, checker: checker, baseURL: b.baseURL, log: log}
	log.Info("pdp started", slog.Int("pid", w.Command().PID()), slog.String("base_url", b.baseURL))

	if b.waitTimeout > 0 {
		if err := e.WaitUntilHealthy(ctx, b.waitTimeout); err != nil {
			log.Error("pdp did not become healthy", slog.Any("error", err))
			stopCtx, cancel := context.WithTimeout(context.Background(), b.policy.TerminationTimeout+5*time.Second)
			defer cancel()
			if serr := w.Stop(stopCtx); serr != nil {
				err = errors.Join(err, serr)
			}
			return nil, err
		}
	}
	return e, nil
}
