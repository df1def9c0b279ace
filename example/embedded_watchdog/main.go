package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/loykin/pdpwatch"
)

// embedded_watchdog supervises an arbitrary command with an HTTP health check,
// without the PDP builder. The child here is a shell loop; the health endpoint
// is served by this program and flips to failing after a few seconds so the
// health-triggered restart can be watched in the log.
func main() {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	started := time.Now()
	go func() {
		_ = http.Serve(ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if time.Since(started) > 3*time.Second {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
	}()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	spec := pdpwatch.Spec{
		Name: "demo",
		Path: "/bin/sh",
		Args: []string{"-c", "while true; do sleep 1; done"},
	}
	checker := pdpwatch.NewHTTPChecker("http://" + ln.Addr().String() + "/")

	w, err := pdpwatch.StartService(spec, checker,
		pdpwatch.WithLogger(log),
		pdpwatch.WithHealthCheck(pdpwatch.HealthCheckConfig{
			Interval:            500 * time.Millisecond,
			FailureThreshold:    2,
			InitialStartupDelay: 200 * time.Millisecond,
			ProbeTimeout:        time.Second,
		}),
		pdpwatch.WithRestartPolicy(pdpwatch.RestartPolicy{
			RestartInterval:    time.Second,
			TerminationTimeout: 2 * time.Second,
		}),
		pdpwatch.WithEventHook(func(e pdpwatch.CommandEvent) {
			fmt.Printf("event: %s pid=%d\n", e.Kind, e.PID)
		}),
	)
	if err != nil {
		panic(err)
	}

	time.Sleep(6 * time.Second)
	st := w.Status(context.Background())
	fmt.Printf("state=%s pid=%d failures=%d\n", st.State, st.PID, st.ConsecutiveFailures)
	fmt.Printf("stats=%+v\n", w.Stats())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = w.Stop(ctx)
}
