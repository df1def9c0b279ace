// Package health probes a supervised service. Checkers are stateless and
// bound every probe by their own timeout, so a caller never waits longer
// than that regardless of how the target misbehaves.
package health

import (
	"context"
	"time"
)

const DefaultTimeout = 5 * time.Second

type Verdict string

const (
	Healthy   Verdict = "healthy"
	Unhealthy Verdict = "unhealthy"
)

type Result struct {
	Verdict   Verdict       `json:"verdict"`
	Reason    string        `json:"reason,omitempty"`
	Checker   string        `json:"checker"`
	CheckedAt time.Time     `json:"checked_at"`
	Latency   time.Duration `json:"latency"`
	// Results holds per-checker outcomes for composite checks.
	Results []Result `json:"results,omitempty"`
}

func (r Result) Healthy() bool { return r.Verdict == Healthy }

// Checker is implemented by HTTPChecker, TCPChecker and CompositeChecker.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

func healthy(name string, start time.Time) Result {
	return Result{Verdict: Healthy, Checker: name, CheckedAt: start, Latency: time.Since(start)}
}

func unhealthy(name string, start time.Time, reason string) Result {
	return Result{Verdict: Unhealthy, Reason: reason, Checker: name, CheckedAt: start, Latency: time.Since(start)}
}

func timeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
