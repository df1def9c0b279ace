//go:build !windows

package watchdog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/pdpwatch/internal/health"
	"github.com/loykin/pdpwatch/internal/process"
)

func sleeper(name string) process.Spec {
	return process.Spec{Name: name, Path: "/bin/sh", Args: []string{"-c", "exec sleep 60"}}
}

func fastPolicy() RestartPolicy {
	return RestartPolicy{RestartInterval: 50 * time.Millisecond, TerminationTimeout: time.Second}
}

func fastHealth() HealthCheckConfig {
	return HealthCheckConfig{
		Interval:            30 * time.Millisecond,
		FailureThreshold:    3,
		InitialStartupDelay: 10 * time.Millisecond,
		ProbeTimeout:        500 * time.Millisecond,
	}
}

// statusServer answers the health endpoint with codes from next, one per
// request; once exhausted it keeps answering with the fallback.
type statusServer struct {
	*httptest.Server
	mu       sync.Mutex
	next     []int
	fallback atomic.Int32
	hits     atomic.Int32
}

func newStatusServer(t *testing.T, fallback int, next ...int) *statusServer {
	t.Helper()
	s := &statusServer{next: next}
	s.fallback.Store(int32(fallback))
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		code := int(s.fallback.Load())
		if len(s.next) > 0 {
			code, s.next = s.next[0], s.next[1:]
		}
		s.mu.Unlock()
		w.WriteHeader(code)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *statusServer) checker() health.Checker {
	c := health.NewHTTPChecker(s.URL + "/healthy")
	c.Timeout = 200 * time.Millisecond
	return c
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) hook(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) of(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type blockingChecker struct{}

func (blockingChecker) Name() string { return "blocking" }

func (blockingChecker) Check(ctx context.Context) health.Result {
	<-ctx.Done()
	return health.Result{Verdict: health.Unhealthy, Reason: "cancelled", Checker: "blocking"}
}

type slowChecker struct{ delay time.Duration }

func (slowChecker) Name() string { return "slow" }

func (c slowChecker) Check(ctx context.Context) health.Result {
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
	}
	return health.Result{Verdict: health.Unhealthy, Reason: "late", Checker: "slow"}
}

func stopOnCleanup(t *testing.T, stop func(context.Context) error) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = stop(ctx)
	})
}
