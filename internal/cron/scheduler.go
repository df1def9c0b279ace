// Package cron restarts a supervised service on a cron schedule, for
// example a nightly maintenance restart of the PDP.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/pdpwatch/internal/metrics"
	"github.com/loykin/pdpwatch/internal/watchdog"
)

const DefaultRestartTimeout = 2 * time.Minute

// Restarter is the part of a service watchdog the scheduler drives.
type Restarter interface {
	Name() string
	Restart(ctx context.Context) error
}

var _ Restarter = (*watchdog.ServiceWatchdog)(nil)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts five or six field expressions (seconds optional),
// descriptors such as "@daily" or "@every 6h", and a "CRON_TZ=Zone " prefix.
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return s, nil
}

// Scheduler triggers Restart on every tick. A tick that fires while the
// previous restart is still running is skipped.
type Scheduler struct {
	sup     Restarter
	expr    string
	timeout time.Duration
	log     *slog.Logger

	c       *cron.Cron
	entryID cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

type Option func(*Scheduler)

// WithTimeout bounds each scheduled restart.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

func New(sup Restarter, expr string, opts ...Option) (*Scheduler, error) {
	if sup == nil {
		return nil, errors.New("cron: restarter is required")
	}
	s := &Scheduler{sup: sup, expr: expr, timeout: DefaultRestartTimeout, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("component", "restart-schedule"), slog.String("name", sup.Name()))

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	lg := logAdapter{s.log}
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(lg),
		cron.WithChain(cron.Recover(lg), cron.SkipIfStillRunning(lg)),
	)
	s.entryID = s.c.Schedule(sched, cron.FuncJob(s.restart))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Start begins scheduling. It is a no-op when already started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.c.Start()
	s.publishNext()
	s.log.Info("scheduled restarts enabled", slog.String("schedule", s.expr), slog.Time("next", s.Next()))
}

// Stop cancels a running restart and waits for it to return or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		s.cancel()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	done := s.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next is the time of the next scheduled restart; zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.c.Entry(s.entryID).Next
}

func (s *Scheduler) publishNext() {
	if next := s.Next(); !next.IsZero() {
		metrics.SetNextScheduledRestart(s.sup.Name(), float64(next.Unix()))
	}
}

func (s *Scheduler) restart() {
	defer s.publishNext()
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	s.log.Info("scheduled restart")
	start := time.Now()
	err := s.sup.Restart(ctx)
	switch {
	case err == nil:
		s.log.Info("scheduled restart complete", slog.Duration("took", time.Since(start)))
	case errors.Is(err, watchdog.ErrStopped), errors.Is(err, context.Canceled):
		s.log.Info("scheduled restart skipped", slog.Any("reason", err))
	default:
		s.log.Error("scheduled restart failed", slog.Any("error", err))
	}
}

// logAdapter routes cron's own logging to slog.
type logAdapter struct{ l *slog.Logger }

func (a logAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.l.Debug(msg, keysAndValues...)
}

func (a logAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.l.Error(msg, append(keysAndValues, "error", err)...)
}
