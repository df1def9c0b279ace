package process

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
)

// reapWindow bounds how long Terminate waits for the kernel to deliver an
// exit after SIGKILL.
var reapWindow = 5 * time.Second

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newRunID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Handle is one live OS process. Its exit is observed by a single goroutine
// blocked in cmd.Wait; Done is closed once that returns.
type Handle struct {
	name      string
	pid       int
	runID     string
	startedAt time.Time
	cmd       *exec.Cmd
	closers   []io.Closer

	done     chan struct{}
	mu       sync.Mutex
	exitCode int
	exitErr  error
}

// Start launches spec and begins observing its exit. Launch failures are
// returned as *SpawnError.
func Start(spec Spec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}
	cmd := spec.command()

	var closers []io.Closer
	if spec.Log.Enabled() {
		outW, errW, err := spec.Log.Writers(spec.DisplayName())
		if err != nil {
			return nil, &SpawnError{Path: spec.Path, Err: err}
		}
		if outW != nil {
			cmd.Stdout = outW
			closers = append(closers, outW)
		} else {
			cmd.Stdout = os.Stdout
		}
		if errW != nil {
			cmd.Stderr = errW
			closers = append(closers, errW)
		} else {
			cmd.Stderr = os.Stderr
		}
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}

	h := &Handle{
		name:      spec.DisplayName(),
		pid:       cmd.Process.Pid,
		runID:     newRunID(),
		startedAt: time.Now(),
		cmd:       cmd,
		closers:   closers,
		done:      make(chan struct{}),
		exitCode:  -1,
	}
	go h.observe()
	return h, nil
}

func (h *Handle) observe() {
	err := h.cmd.Wait()
	code := -1
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}
	for _, c := range h.closers {
		_ = c.Close()
	}
	h.mu.Lock()
	h.exitCode = code
	h.exitErr = err
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle) Name() string         { return h.name }
func (h *Handle) PID() int             { return h.pid }
func (h *Handle) RunID() string        { return h.runID }
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done is closed when the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode is -1 while running or when the process died from a signal.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Signal delivers sig to the process group.
func (h *Handle) Signal(sig syscall.Signal) error {
	if h.Exited() {
		return nil
	}
	if err := signalGroup(h.pid, sig); err != nil && !isGone(err) {
		return err
	}
	return nil
}

// Terminate asks the process group to exit with SIGTERM and waits up to
// grace; then, or as soon as ctx is cancelled, it sends SIGKILL. It returns
// once the process has been reaped, or ErrForcedKill if it could not be.
func (h *Handle) Terminate(ctx context.Context, grace time.Duration) error {
	if h.Exited() {
		return nil
	}
	if err := h.Signal(syscall.SIGTERM); err == nil {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-h.done:
			return nil
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return h.Kill()
}

// Kill sends SIGKILL to the process group and waits for the reap.
func (h *Handle) Kill() error {
	if h.Exited() {
		return nil
	}
	if err := h.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("%w: pid %d: %v", ErrForcedKill, h.pid, err)
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(reapWindow):
		return fmt.Errorf("%w: pid %d still running after SIGKILL", ErrForcedKill, h.pid)
	}
}
