package watchdog

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loykin/pdpwatch/internal/history"
	"github.com/loykin/pdpwatch/internal/metrics"
	"github.com/loykin/pdpwatch/internal/process"
)

// EventKind identifies a CommandWatchdog lifecycle event.
type EventKind string

const (
	EventSpawned     EventKind = "spawned"
	EventExited      EventKind = "exited"
	EventSpawnFailed EventKind = "spawn_failed"
	EventStopped     EventKind = "stopped"
)

// Event describes a change in the owned process.
type Event struct {
	Kind     EventKind
	PID      int
	RunID    string
	ExitCode int
	// Expected is true for exits caused by Restart or Stop.
	Expected bool
	Err      error
	At       time.Time
}

type cmdAction int

const (
	actionRestart cmdAction = iota
	actionStop
)

type cmdRequest struct {
	action cmdAction
	ctx    context.Context
	reply  chan error
}

// CommandWatchdog owns exactly one OS process at a time and respawns it when
// it exits unexpectedly. All changes to the owned process happen on one
// goroutine; Restart and Stop are requests delivered to it.
type CommandWatchdog struct {
	spec process.Spec
	cfg  config
	log  *slog.Logger

	cmds    chan cmdRequest
	done    chan struct{}
	current atomic.Pointer[process.Handle]
	starts  atomic.Uint64
	// nil until the first exit; -1 for a signal death
	lastExit atomic.Pointer[int]
}

// StartCommand spawns spec and supervises it. A failed first spawn is
// returned as an error wrapping ErrSpawn and nothing is left running.
func StartCommand(spec process.Spec, opts ...Option) (*CommandWatchdog, error) {
	cfg := newConfig(opts)
	if cfg.name == "" {
		cfg.name = spec.DisplayName()
	}
	w := &CommandWatchdog{
		spec: spec,
		cfg:  cfg,
		log:  cfg.log.With(slog.String("service", cfg.name)),
		cmds: make(chan cmdRequest),
		done: make(chan struct{}),
	}
	w.reapStale()
	h, err := w.spawn()
	if err != nil {
		return nil, err
	}
	go w.run(h)
	return w, nil
}

// reapStale terminates a process recorded in the pid file by an earlier
// supervisor that did not shut down cleanly.
func (w *CommandWatchdog) reapStale() {
	if w.spec.PIDFile == "" {
		return
	}
	grace := w.cfg.policy.TerminationTimeout
	ctx, cancel := context.WithTimeout(context.Background(), grace+10*time.Second)
	defer cancel()
	pid, err := process.ReapStale(ctx, w.spec.PIDFile, grace)
	if err != nil {
		w.log.Warn("reap stale process", slog.String("path", w.spec.PIDFile), slog.Any("error", err))
		return
	}
	if pid > 0 {
		w.log.Warn("terminated stale process from pid file", slog.Int("pid", pid), slog.String("path", w.spec.PIDFile))
	}
}

func (w *CommandWatchdog) Name() string { return w.cfg.name }

// PID of the owned process, or 0 when none is running.
func (w *CommandWatchdog) PID() int {
	if h := w.current.Load(); h != nil && !h.Exited() {
		return h.PID()
	}
	return 0
}

// RunID of the most recent spawn.
func (w *CommandWatchdog) RunID() string {
	if h := w.current.Load(); h != nil {
		return h.RunID()
	}
	return ""
}

// Handle returns the most recently spawned process.
func (w *CommandWatchdog) Handle() *process.Handle { return w.current.Load() }

func (w *CommandWatchdog) StartsTotal() uint64 { return w.starts.Load() }

// LastExitCode reports the exit code of the most recent exit, if any.
func (w *CommandWatchdog) LastExitCode() (int, bool) {
	p := w.lastExit.Load()
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Done is closed once Stop has completed.
func (w *CommandWatchdog) Done() <-chan struct{} { return w.done }

// Restart terminates the owned process (SIGTERM, then SIGKILL after the
// termination timeout or when ctx is cancelled) and spawns a new one. It
// returns once the new process is running. If that spawn fails the error
// wraps ErrSpawn and a paced retry is scheduled.
func (w *CommandWatchdog) Restart(ctx context.Context) error {
	return w.request(ctx, actionRestart)
}

// Stop terminates the owned process and ends supervision. It blocks until
// the process has been reaped. The stop is always delivered; a cancelled ctx
// only skips the SIGTERM grace period. Further calls return nil.
func (w *CommandWatchdog) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case w.cmds <- cmdRequest{action: actionStop, ctx: ctx, reply: reply}:
	case <-w.done:
		return nil
	}
	return <-reply
}

func (w *CommandWatchdog) request(ctx context.Context, action cmdAction) error {
	reply := make(chan error, 1)
	select {
	case w.cmds <- cmdRequest{action: action, ctx: ctx, reply: reply}:
	case <-w.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-reply
}

func (w *CommandWatchdog) run(h *process.Handle) {
	defer close(w.done)

	bo := backoff.NewConstantBackOff(w.cfg.policy.RestartInterval)
	exited := h.Done()
	lastSpawn := h.StartedAt()
	var (
		retry  *time.Timer
		retryC <-chan time.Time
	)
	schedule := func(d time.Duration) {
		if retry != nil {
			retry.Stop()
		}
		if d < 0 {
			d = 0
		}
		retry = time.NewTimer(d)
		retryC = retry.C
	}
	cancelRetry := func() {
		if retry != nil {
			retry.Stop()
		}
		retryC = nil
	}
	defer cancelRetry()

	for {
		select {
		case <-exited:
			exited = nil
			w.exitedEvent(h, false)
			delay := w.cfg.policy.RestartInterval - time.Since(lastSpawn)
			if delay > 0 {
				w.log.Info("respawn delayed", slog.Duration("delay", delay))
			}
			schedule(delay)

		case <-retryC:
			retryC = nil
			nh, err := w.spawn()
			if err != nil {
				w.emit(Event{Kind: EventSpawnFailed, Err: err, At: time.Now()})
				schedule(bo.NextBackOff())
				continue
			}
			h, exited, lastSpawn = nh, nh.Done(), nh.StartedAt()
			w.emit(spawnedEvent(nh))

		case req := <-w.cmds:
			switch req.action {
			case actionStop:
				cancelRetry()
				err := w.terminate(req.ctx, h, &exited)
				if err == nil {
					_ = process.RemovePIDFile(w.spec.PIDFile)
				}
				w.log.Info("stopped")
				w.record(history.Event{Type: history.EventStopped, PID: h.PID(), RunID: h.RunID()})
				w.emit(Event{Kind: EventStopped, PID: h.PID(), RunID: h.RunID(), Err: err, At: time.Now()})
				req.reply <- err
				return

			case actionRestart:
				cancelRetry()
				if err := w.terminate(req.ctx, h, &exited); err != nil {
					req.reply <- err
					continue
				}
				if delay := w.cfg.policy.RestartInterval - time.Since(lastSpawn); delay > 0 {
					select {
					case <-time.After(delay):
					case <-req.ctx.Done():
						schedule(w.cfg.policy.RestartInterval - time.Since(lastSpawn))
						req.reply <- req.ctx.Err()
						continue
					}
				}
				nh, err := w.spawn()
				if err != nil {
					w.emit(Event{Kind: EventSpawnFailed, Err: err, At: time.Now()})
					schedule(bo.NextBackOff())
					req.reply <- err
					continue
				}
				h, exited, lastSpawn = nh, nh.Done(), nh.StartedAt()
				w.emit(spawnedEvent(nh))
				req.reply <- nil
			}
		}
	}
}

// terminate retires h. exited is cleared once the exit has been reported,
// so the loop does not see it again.
func (w *CommandWatchdog) terminate(ctx context.Context, h *process.Handle, exited *<-chan struct{}) error {
	if *exited == nil {
		return nil
	}
	if err := h.Terminate(ctx, w.cfg.policy.TerminationTimeout); err != nil {
		w.log.Error("forced kill failed", slog.Int("pid", h.PID()), slog.Any("error", err))
		return err
	}
	*exited = nil
	w.exitedEvent(h, true)
	return nil
}

func (w *CommandWatchdog) spawn() (*process.Handle, error) {
	h, err := process.Start(w.spec)
	if err != nil {
		metrics.IncSpawnFailure(w.cfg.name)
		w.log.Error("spawn failed", slog.String("path", w.spec.Path), slog.Any("error", err))
		w.record(history.Event{Type: history.EventSpawnFailed, Reason: err.Error()})
		return nil, err
	}
	w.current.Store(h)
	w.starts.Add(1)
	metrics.IncStart(w.cfg.name)
	if err := process.WritePIDFile(w.spec.PIDFile, h.PID(), h.RunID()); err != nil {
		w.log.Warn("write pid file", slog.String("path", w.spec.PIDFile), slog.Any("error", err))
	}
	w.log.Info("spawned", slog.Int("pid", h.PID()), slog.String("run_id", h.RunID()))
	w.record(history.Event{Type: history.EventSpawned, PID: h.PID(), RunID: h.RunID()})
	return h, nil
}

func (w *CommandWatchdog) exitedEvent(h *process.Handle, expected bool) {
	code := h.ExitCode()
	w.lastExit.Store(&code)
	attrs := []any{slog.Int("pid", h.PID()), slog.Int("exit_code", code)}
	if expected {
		w.log.Info("process exited", attrs...)
	} else {
		w.log.Warn("process exited unexpectedly", attrs...)
	}
	reason := ""
	if !expected {
		reason = "unexpected"
	}
	w.record(history.Event{
		Type: history.EventExited, PID: h.PID(), RunID: h.RunID(),
		ExitCode: history.IntPtr(code), Reason: reason,
	})
	w.emit(Event{Kind: EventExited, PID: h.PID(), RunID: h.RunID(), ExitCode: code, Expected: expected, At: time.Now()})
}

func spawnedEvent(h *process.Handle) Event {
	return Event{Kind: EventSpawned, PID: h.PID(), RunID: h.RunID(), At: h.StartedAt()}
}

func (w *CommandWatchdog) emit(e Event) {
	if w.cfg.onEvent != nil {
		w.cfg.onEvent(e)
	}
}

func (w *CommandWatchdog) record(e history.Event) {
	e.Service = w.cfg.name
	w.cfg.recorder.Record(e)
}
