package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loykin/pdpwatch/internal/health"
	"github.com/loykin/pdpwatch/internal/watchdog"
)

const pollInterval = 500 * time.Millisecond

// Engine is a running PDP process under supervision.
type Engine struct {
	w       *watchdog.ServiceWatchdog
	checker health.Checker
	baseURL string
	log     *slog.Logger
}

func (e *Engine) Watchdog() *watchdog.ServiceWatchdog { return e.w }

func (e *Engine) BaseURL() string { return e.baseURL }

// Health runs one probe now, independent of the monitoring schedule.
func (e *Engine) Health(ctx context.Context) bool {
	return e.checker.Check(ctx).Healthy()
}

// WaitUntilHealthy polls the probe directly until it passes. It works
// whether or not periodic monitoring is enabled. The process is left
// running on timeout.
func (e *Engine) WaitUntilHealthy(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-e.w.Done():
			return watchdog.ErrStopped
		default:
		}
		if e.Health(ctx) {
			return nil
		}
		select {
		case <-e.w.Done():
			return watchdog.ErrStopped
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return watchdog.ErrWaitTimeout
			}
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (e *Engine) Restart(ctx context.Context) error { return e.w.Restart(ctx) }

func (e *Engine) Stop(ctx context.Context) error {
	e.log.Info("stopping pdp")
	return e.w.Stop(ctx)
}

func (e *Engine) Stats() watchdog.Stats { return e.w.Stats() }
