package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/loykin/pdpwatch/internal/health"
	"github.com/loykin/pdpwatch/internal/history"
	"github.com/loykin/pdpwatch/internal/metrics"
	"github.com/loykin/pdpwatch/internal/process"
)

// Status is a point-in-time view of a ServiceWatchdog.
type Status struct {
	Name                string         `json:"name"`
	State               State          `json:"state"`
	PID                 int            `json:"pid"`
	RunID               string         `json:"run_id"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	EverHealthy         bool           `json:"ever_healthy"`
	LastResult          *health.Result `json:"last_result,omitempty"`
	Usage               *process.Usage `json:"usage,omitempty"`
}

type probeResult struct {
	runID  string
	result health.Result
}

type svcAction int

const (
	svcRestart svcAction = iota
	svcResetStats
	svcStop
)

type svcRequest struct {
	action svcAction
	reply  chan error
}

// ServiceWatchdog polls a health checker against the process owned by a
// CommandWatchdog and restarts it after FailureThreshold consecutive
// failures. State transitions and counter updates happen on a single
// goroutine; probes and restarts run beside it and report back.
type ServiceWatchdog struct {
	cfg     config
	log     *slog.Logger
	checker health.Checker
	cw      *CommandWatchdog
	machine *fsm.FSM

	stats       counters
	state       atomic.Value // State
	failures    atomic.Int64
	everHealthy atomic.Bool

	mu         sync.Mutex
	lastResult *health.Result
	healthyCh  chan struct{} // closed while Healthy
	stoppedCh  chan struct{}

	cancel   context.CancelFunc
	events   chan Event
	probes   chan probeResult
	restarts chan error
	reqs     chan svcRequest
	loopDone chan struct{}

	stopOnce sync.Once
	stopDone chan struct{}
	stopErr  error
	fatalErr atomic.Pointer[error]
}

// Start spawns spec and begins supervising it. checker may be nil, which
// disables probing, as does a HealthCheckConfig with zero Interval. A failed
// initial spawn is returned synchronously.
func Start(spec process.Spec, checker health.Checker, opts ...Option) (*ServiceWatchdog, error) {
	cfg := newConfig(opts)
	if cfg.name == "" {
		cfg.name = spec.DisplayName()
	}
	s := &ServiceWatchdog{
		cfg:       cfg,
		log:       cfg.log.With(slog.String("service", cfg.name)),
		checker:   checker,
		healthyCh: make(chan struct{}),
		stoppedCh: make(chan struct{}),
		events:    make(chan Event, 16),
		probes:    make(chan probeResult),
		restarts:  make(chan error),
		reqs:      make(chan svcRequest),
		loopDone:  make(chan struct{}),
		stopDone:  make(chan struct{}),
	}
	s.state.Store(StateStarting)
	s.machine = newMachine(s.onEnter)

	hook := cfg.onEvent
	cwOpts := append(append([]Option(nil), opts...), WithName(cfg.name), WithEventHook(func(e Event) {
		if hook != nil {
			hook(e)
		}
		select {
		case s.events <- e:
		case <-s.loopDone:
		}
	}))
	cw, err := StartCommand(spec, cwOpts...)
	if err != nil {
		return nil, err
	}
	s.cw = cw
	_ = fire(s.machine, evSpawned)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx, cw.RunID())
	return s, nil
}

func (s *ServiceWatchdog) Name() string { return s.cfg.name }

// Command exposes the underlying CommandWatchdog.
func (s *ServiceWatchdog) Command() *CommandWatchdog { return s.cw }

func (s *ServiceWatchdog) State() State { return s.state.Load().(State) }

func (s *ServiceWatchdog) IsHealthy() bool { return s.State() == StateHealthy }

// Done is closed once Stop has completed.
func (s *ServiceWatchdog) Done() <-chan struct{} { return s.stopDone }

// Stopped is closed on entering StateStopped, which also happens without a
// Stop call when supervision fails fatally.
func (s *ServiceWatchdog) Stopped() <-chan struct{} { return s.stoppedCh }

// Err reports a fatal supervision error, such as a process that survived
// SIGKILL during a restart.
func (s *ServiceWatchdog) Err() error {
	if p := s.fatalErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *ServiceWatchdog) Stats() Stats {
	st := Stats{
		HealthChecksTotal:       s.stats.healthChecks.Load(),
		HealthChecksFailed:      s.stats.healthFailed.Load(),
		RestartsTotal:           s.stats.restarts.Load(),
		HealthTriggeredRestarts: s.stats.healthRestarts.Load(),
		StartsTotal:             s.cw.StartsTotal(),
	}
	if code, ok := s.cw.LastExitCode(); ok {
		st.LastExitCode = &code
	}
	return st
}

// ResetStats zeroes the counters. It has no effect once stopped.
func (s *ServiceWatchdog) ResetStats() {
	_ = s.request(context.Background(), svcResetStats)
}

// Status returns the current view. ctx bounds the optional resource sample.
func (s *ServiceWatchdog) Status(ctx context.Context) Status {
	st := Status{
		Name:                s.cfg.name,
		State:               s.State(),
		PID:                 s.cw.PID(),
		RunID:               s.cw.RunID(),
		ConsecutiveFailures: int(s.failures.Load()),
		EverHealthy:         s.everHealthy.Load(),
	}
	s.mu.Lock()
	if s.lastResult != nil {
		r := *s.lastResult
		st.LastResult = &r
	}
	s.mu.Unlock()
	if st.PID > 0 {
		if u, err := process.Inspect(ctx, st.PID); err == nil {
			st.Usage = &u
		}
	}
	return st
}

// WaitForHealthy blocks until the service is Healthy. timeout <= 0 waits
// without a deadline. On timeout it returns ErrWaitTimeout and leaves the
// process running; if the watchdog stops first it returns ErrStopped.
func (s *ServiceWatchdog) WaitForHealthy(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for {
		s.mu.Lock()
		ch := s.healthyCh
		s.mu.Unlock()
		select {
		case <-ch:
			if s.State() == StateHealthy {
				return nil
			}
		case <-s.stoppedCh:
			if err := s.Err(); err != nil {
				return err
			}
			return ErrStopped
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrWaitTimeout
			}
			return ctx.Err()
		}
	}
}

// Restart forces a restart cycle. It counts toward RestartsTotal only. If a
// cycle is already underway the call joins it. It returns once the new
// process has been spawned.
func (s *ServiceWatchdog) Restart(ctx context.Context) error {
	return s.request(ctx, svcRestart)
}

// Stop ends supervision and terminates the process, blocking until it has
// been reaped. It is idempotent; later calls return the first result.
func (s *ServiceWatchdog) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		_ = s.request(ctx, svcStop)
		s.cancel()
		<-s.loopDone
		if s.State() != StateStopped {
			_ = fire(s.machine, evStop)
		}
		s.stopErr = s.cw.Stop(ctx)
		if s.stopErr != nil {
			s.setFatal(s.stopErr)
		}
		close(s.stopDone)
	})
	<-s.stopDone
	return s.stopErr
}

func (s *ServiceWatchdog) request(ctx context.Context, a svcAction) error {
	reply := make(chan error, 1)
	select {
	case s.reqs <- svcRequest{action: a, reply: reply}:
	case <-s.loopDone:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ServiceWatchdog) setFatal(err error) {
	s.fatalErr.CompareAndSwap(nil, &err)
}

// loop-owned state
type loopState struct {
	runID    string
	timer    *time.Timer
	probing  bool
	pending  bool // timer fired while a probe was in flight
	inFlight bool // restart goroutine running
	waiters  []chan error
}

func (s *ServiceWatchdog) run(ctx context.Context, runID string) {
	defer close(s.loopDone)
	ls := &loopState{runID: runID, timer: time.NewTimer(time.Hour)}
	ls.timer.Stop()
	defer ls.timer.Stop()
	s.arm(ls, s.cfg.health.InitialStartupDelay)

	for {
		select {
		case <-ctx.Done():
			s.resolveWaiters(ls, ErrStopped)
			return

		case e := <-s.events:
			s.onCommandEvent(ls, e)

		case <-ls.timer.C:
			if s.State() == StateRestarting {
				continue
			}
			if ls.probing {
				ls.pending = true
				continue
			}
			s.startProbe(ctx, ls)

		case pr := <-s.probes:
			ls.probing = false
			if pr.runID != ls.runID || s.State() == StateRestarting {
				s.log.Debug("discarding stale probe result", slog.String("run_id", pr.runID))
				if ls.pending && s.State() != StateRestarting {
					s.startProbe(ctx, ls)
				}
				continue
			}
			ls.pending = false
			s.applyResult(ctx, ls, pr.result)

		case err := <-s.restarts:
			ls.inFlight = false
			s.drainEvents(ls)
			if err != nil {
				s.log.Error("restart failed", slog.Any("error", err))
				if errors.Is(err, ErrForcedKill) {
					s.setFatal(err)
					_ = fire(s.machine, evStop)
					s.resolveWaiters(ls, err)
					return
				}
			}
			s.resolveWaiters(ls, err)

		case req := <-s.reqs:
			switch req.action {
			case svcResetStats:
				s.stats.reset()
				req.reply <- nil
			case svcRestart:
				if s.State() == StateRestarting {
					ls.waiters = append(ls.waiters, req.reply)
					continue
				}
				ls.waiters = append(ls.waiters, req.reply)
				s.beginRestart(ctx, ls, evRestart, metrics.ReasonManual)
			case svcStop:
				_ = fire(s.machine, evStop)
				s.resolveWaiters(ls, ErrStopped)
				req.reply <- nil
				return
			}
		}
	}
}

func (s *ServiceWatchdog) arm(ls *loopState, d time.Duration) {
	if s.checker == nil || s.cfg.health.Interval <= 0 {
		return
	}
	ls.timer.Stop()
	select {
	case <-ls.timer.C:
	default:
	}
	ls.timer.Reset(d)
}

func (s *ServiceWatchdog) startProbe(ctx context.Context, ls *loopState) {
	ls.probing = true
	ls.pending = false
	go s.probe(ctx, ls.runID, s.cw.PID())
}

// drainEvents applies command events that are already queued, so that a
// completed restart is observed together with its spawn.
func (s *ServiceWatchdog) drainEvents(ls *loopState) {
	for {
		select {
		case e := <-s.events:
			s.onCommandEvent(ls, e)
		default:
			return
		}
	}
}

func (s *ServiceWatchdog) probe(ctx context.Context, runID string, pid int) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.health.ProbeTimeout)
	r := s.checker.Check(pctx)
	cancel()
	if pctx.Err() == context.DeadlineExceeded && r.Healthy() {
		r.Verdict = health.Unhealthy
		r.Reason = "probe timed out"
	}
	if pid > 0 {
		uctx, ucancel := context.WithTimeout(ctx, time.Second)
		if u, err := process.Inspect(uctx, pid); err == nil {
			metrics.SetUsage(s.cfg.name, u.RSSBytes, u.CPUPercent)
		}
		ucancel()
	}
	select {
	case s.probes <- probeResult{runID: runID, result: r}:
	case <-s.loopDone:
	}
}

func (s *ServiceWatchdog) applyResult(ctx context.Context, ls *loopState, r health.Result) {
	s.stats.healthChecks.Add(1)
	metrics.ObserveHealthCheck(s.cfg.name, r.Healthy(), r.Latency.Seconds())
	s.mu.Lock()
	s.lastResult = &r
	s.mu.Unlock()

	if r.Healthy() {
		s.failures.Store(0)
		metrics.SetConsecutiveFailures(s.cfg.name, 0)
		_ = fire(s.machine, evProbeOK)
		s.arm(ls, s.cfg.health.Interval)
		return
	}

	s.stats.healthFailed.Add(1)
	n := s.failures.Add(1)
	metrics.SetConsecutiveFailures(s.cfg.name, int(n))
	s.log.Warn("health check failed",
		slog.Int64("consecutive", n),
		slog.Int("threshold", s.cfg.health.FailureThreshold),
		slog.String("reason", r.Reason))
	_ = fire(s.machine, evProbeFail)

	if int(n) >= s.cfg.health.FailureThreshold {
		s.stats.healthRestarts.Add(1)
		s.beginRestart(ctx, ls, evThreshold, metrics.ReasonHealth)
		return
	}
	s.arm(ls, s.cfg.health.Interval)
}

// beginRestart enters Restarting and asks the command watchdog for a new
// process. Completion arrives on s.restarts.
func (s *ServiceWatchdog) beginRestart(ctx context.Context, ls *loopState, event, reason string) {
	s.stats.restarts.Add(1)
	metrics.IncRestart(s.cfg.name, reason)
	s.log.Info("restarting", slog.String("reason", reason))
	s.record(history.Event{Type: history.EventRestart, PID: s.cw.PID(), RunID: ls.runID, Reason: reason})
	s.failures.Store(0)
	_ = fire(s.machine, event)

	ls.pending = false
	ls.inFlight = true
	go func() {
		err := s.cw.Restart(ctx)
		select {
		case s.restarts <- err:
		case <-s.loopDone:
		}
	}()
}

func (s *ServiceWatchdog) onCommandEvent(ls *loopState, e Event) {
	switch e.Kind {
	case EventExited:
		if e.Expected || s.State() == StateRestarting {
			return
		}
		s.stats.restarts.Add(1)
		metrics.IncRestart(s.cfg.name, metrics.ReasonExit)
		s.record(history.Event{Type: history.EventRestart, PID: e.PID, RunID: e.RunID, Reason: metrics.ReasonExit})
		s.failures.Store(0)
		_ = fire(s.machine, evExited)

	case EventSpawned:
		ls.runID = e.RunID
		s.failures.Store(0)
		_ = fire(s.machine, evSpawned)
		s.arm(ls, s.cfg.health.InitialStartupDelay)
		if !ls.inFlight {
			s.resolveWaiters(ls, nil)
		}

	case EventSpawnFailed:
		s.log.Warn("respawn failed, retrying", slog.Any("error", e.Err))
	}
}

func (s *ServiceWatchdog) resolveWaiters(ls *loopState, err error) {
	for _, w := range ls.waiters {
		w <- err
	}
	ls.waiters = nil
}

// onEnter runs on the loop goroutine (or in Start before the loop exists).
func (s *ServiceWatchdog) onEnter(from, to State) {
	s.state.Store(to)
	metrics.RecordStateTransition(s.cfg.name, string(from), string(to))
	metrics.SetCurrentState(s.cfg.name, string(to), stateNames(AllStates...))
	s.record(history.Event{Type: history.EventState, From: string(from), To: string(to)})
	s.log.Debug("state changed", slog.String("from", string(from)), slog.String("to", string(to)))

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case to == StateHealthy:
		s.everHealthy.Store(true)
		close(s.healthyCh)
	case from == StateHealthy:
		s.healthyCh = make(chan struct{})
	}
	if to == StateStopped {
		close(s.stoppedCh)
	}
}

func (s *ServiceWatchdog) record(e history.Event) {
	e.Service = s.cfg.name
	s.cfg.recorder.Record(e)
}
