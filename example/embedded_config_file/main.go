package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loykin/pdpwatch"
)

// This example loads a config file, starts the PDP through the builder and
// serves the admin API on the same process.
func main() {
	cfgPath := filepath.Join("config", "pdpwatch.toml")
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := pdpwatch.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := cfg.Builder()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	eng, err := b.WithLogger(slog.Default()).Start(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := eng.WaitUntilHealthy(ctx, 30*time.Second); err != nil {
		slog.Warn("pdp not healthy yet", "error", err)
	}

	_ = pdpwatch.RegisterMetricsDefault()
	srv := &http.Server{
		Addr:              cfg.Admin.Listen,
		Handler:           pdpwatch.NewAdminHandler(eng.Watchdog(), cfg.Admin.BasePath),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin api", "error", err)
		}
	}()
	fmt.Printf("admin api on http://%s%s/status\n", cfg.Admin.Listen, cfg.Admin.BasePath)

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Restart.TerminationTimeout+10*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	if err := eng.Stop(sctx); err != nil {
		slog.Error("stop", "error", err)
	}
	fmt.Printf("stats: %+v\n", eng.Stats())
}
