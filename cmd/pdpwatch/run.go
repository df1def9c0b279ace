package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/pdpwatch/internal/auth"
	"github.com/loykin/pdpwatch/internal/config"
	"github.com/loykin/pdpwatch/internal/cron"
	"github.com/loykin/pdpwatch/internal/engine"
	"github.com/loykin/pdpwatch/internal/history"
	"github.com/loykin/pdpwatch/internal/history/factory"
	"github.com/loykin/pdpwatch/internal/logger"
	"github.com/loykin/pdpwatch/internal/metrics"
	"github.com/loykin/pdpwatch/internal/server"
	"github.com/loykin/pdpwatch/internal/tls"
	"github.com/loykin/pdpwatch/internal/watchdog"
)

const shutdownGrace = 10 * time.Second

func runCommand(ctx context.Context, flags RunFlags, stderr io.Writer) error {
	cfg, err := loadRunConfig(flags)
	if err != nil {
		return err
	}
	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile, stderr)
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	return runService(ctx, cfg, stderr)
}

// loadRunConfig loads the config file and applies command-line overrides.
func loadRunConfig(flags RunFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if flags.Python != "" {
		cfg.Engine.Python = flags.Python
	}
	if flags.PDPDir != "" {
		cfg.Engine.PDPDir = flags.PDPDir
	}
	if flags.AdminListen != "" {
		cfg.Admin.Enabled = true
		cfg.Admin.Listen = flags.AdminListen
	}
	return cfg, nil
}

// runService supervises the PDP until ctx is cancelled or supervision
// fails, then stops the PDP.
func runService(ctx context.Context, cfg *config.Config, stderr io.Writer) error {
	log, closer, err := logger.New(cfg.Log, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	rec, err := openHistory(ctx, cfg.History, log)
	if err != nil {
		return err
	}
	if rec != nil {
		defer func() {
			cctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := rec.Close(cctx); err != nil {
				log.Warn("close history", slog.Any("error", err))
			}
		}()
	}

	b, err := cfg.Builder()
	if err != nil {
		return err
	}
	eng, err := b.WithLogger(log).WithHistory(rec).Start(ctx)
	if err != nil {
		return err
	}
	w := eng.Watchdog()

	if cfg.Schedule.Restart != "" {
		sched, err := cron.New(w, cfg.Schedule.Restart, cron.WithTimeout(cfg.Schedule.Timeout), cron.WithLogger(log))
		if err != nil {
			return errors.Join(err, stopEngine(eng, cfg.Restart.TerminationTimeout))
		}
		sched.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = sched.Stop(sctx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Admin.Enabled {
		srv, err := adminServer(cfg.Admin, w, log)
		if err != nil {
			return errors.Join(err, stopEngine(eng, cfg.Restart.TerminationTimeout))
		}
		g.Go(func() error {
			log.Info("admin api listening", slog.String("addr", cfg.Admin.Listen), slog.Bool("tls", srv.TLSConfig != nil))
			var err error
			if srv.TLSConfig != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-w.Stopped():
			if err := w.Err(); err != nil {
				return err
			}
			return watchdog.ErrStopped
		}
	})

	err = g.Wait()
	log.Info("shutting down", slog.Any("cause", context.Cause(gctx)))
	if serr := stopEngine(eng, cfg.Restart.TerminationTimeout); serr != nil {
		err = errors.Join(err, serr)
	}
	return err
}

func stopEngine(eng *engine.Engine, termination time.Duration) error {
	if termination <= 0 {
		termination = watchdog.DefaultTerminationTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), termination+shutdownGrace)
	defer cancel()
	return eng.Stop(ctx)
}

func openHistory(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*history.Recorder, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	sink, err := factory.NewSinks(ctx, cfg.Sinks)
	if err != nil {
		return nil, fmt.Errorf("open history sinks: %w", err)
	}
	return history.NewRecorder(sink, history.WithBuffer(cfg.Buffer), history.WithLogger(log)), nil
}

func adminServer(cfg config.AdminConfig, sup server.Supervisor, log *slog.Logger) (*http.Server, error) {
	opts := []server.Option{server.WithLogger(log)}
	if cfg.Metrics {
		opts = append(opts, server.WithMetrics(metrics.Handler()))
	}
	if cfg.Auth.Enabled {
		svc, err := auth.NewAuthService(cfg.Auth)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithAuth(auth.NewMiddleware(svc, true)))
	}
	tlsCfg, err := tls.Setup(cfg.TLS.ForListen(cfg.Listen))
	if err != nil {
		return nil, err
	}
	srv := server.NewServer(cfg.Listen, server.NewRouter(sup, cfg.BasePath, opts...).Handler())
	srv.TLSConfig = tlsCfg
	return srv, nil
}
