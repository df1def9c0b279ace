package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// clockSlack absorbs the coarse process start time some platforms report.
const clockSlack = 2 * time.Second

// Owned reports whether the pid recorded at path still refers to the process
// that was running when the file was written. A pid reused by a process
// started after the file was written is not owned.
func Owned(ctx context.Context, path string) (int, bool, error) {
	pid, _, err := ReadPIDFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if !Alive(ctx, pid) {
		return pid, false, nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return pid, false, err
	}
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return pid, false, nil
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		if time.UnixMilli(ms).After(fi.ModTime().Add(clockSlack)) {
			return pid, false, nil
		}
	}
	return pid, true, nil
}

// ReapStale terminates a process left behind by an earlier supervisor, as
// recorded in the pid file at path, and removes the file. It returns the
// reaped pid, or 0 when nothing was running.
func ReapStale(ctx context.Context, path string, grace time.Duration) (int, error) {
	if path == "" {
		return 0, nil
	}
	pid, owned, err := Owned(ctx, path)
	if err != nil {
		return 0, err
	}
	if !owned {
		return 0, RemovePIDFile(path)
	}
	if err := signalGroup(pid, syscall.SIGTERM); err != nil && !isGone(err) {
		return pid, fmt.Errorf("signal stale pid %d: %w", pid, err)
	}
	if !waitGone(ctx, pid, grace) {
		if err := signalGroup(pid, syscall.SIGKILL); err != nil && !isGone(err) {
			return pid, fmt.Errorf("%w: stale pid %d: %v", ErrForcedKill, pid, err)
		}
		if !waitGone(ctx, pid, reapWindow) {
			return pid, fmt.Errorf("%w: stale pid %d still running after SIGKILL", ErrForcedKill, pid)
		}
	}
	return pid, RemovePIDFile(path)
}

// waitGone polls until pid is no longer alive. The stale process is not our
// child, so there is no wait status to block on.
func waitGone(ctx context.Context, pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if !Alive(ctx, pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !Alive(context.Background(), pid)
		case <-tick.C:
		}
	}
}
