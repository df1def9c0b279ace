package health

import (
	"context"
	"strings"
	"time"
)

// CompositeChecker ANDs its members. Every member is probed on each call,
// concurrently, and results are kept in registration order; the reported
// reason is that of the first failing member in that order.
type CompositeChecker struct {
	// Timeout bounds the whole check. Members still running when it
	// elapses are reported unhealthy. Zero leaves each member to its own
	// timeout.
	Timeout time.Duration

	checkers []Checker
}

func NewCompositeChecker(checkers ...Checker) *CompositeChecker {
	c := &CompositeChecker{}
	for _, ch := range checkers {
		c.Add(ch)
	}
	return c
}

func (c *CompositeChecker) Add(ch Checker) {
	if ch != nil {
		c.checkers = append(c.checkers, ch)
	}
}

func (c *CompositeChecker) Len() int { return len(c.checkers) }

func (c *CompositeChecker) Name() string {
	names := make([]string, 0, len(c.checkers))
	for _, ch := range c.checkers {
		names = append(names, ch.Name())
	}
	return "all(" + strings.Join(names, ", ") + ")"
}

type indexed struct {
	i int
	r Result
}

func (c *CompositeChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	// buffered so members that overrun the bound do not block on send
	out := make(chan indexed, len(c.checkers))
	for i, ch := range c.checkers {
		go func() { out <- indexed{i: i, r: ch.Check(ctx)} }()
	}

	results := make([]Result, len(c.checkers))
	done := make([]bool, len(c.checkers))
collect:
	for n := 0; n < len(c.checkers); n++ {
		select {
		case x := <-out:
			results[x.i], done[x.i] = x.r, true
		case <-ctx.Done():
			break collect
		}
	}
	for i, ok := range done {
		if !ok {
			results[i] = unhealthy(c.checkers[i].Name(), start, "timed out: "+ctx.Err().Error())
		}
	}

	res := Result{Verdict: Healthy, Checker: c.Name(), CheckedAt: start, Results: results}
	for _, r := range results {
		if !r.Healthy() {
			res.Verdict = Unhealthy
			res.Reason = r.Checker + ": " + r.Reason
			break
		}
	}
	res.Latency = time.Since(start)
	return res
}
