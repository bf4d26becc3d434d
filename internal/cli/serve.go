package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazerflow/lazerflow/internal/api"
	"github.com/lazerflow/lazerflow/internal/engine"
	"github.com/lazerflow/lazerflow/internal/logging"
	"github.com/lazerflow/lazerflow/internal/registry"
	"github.com/lazerflow/lazerflow/internal/scheduler"
	"github.com/lazerflow/lazerflow/internal/store"
)

// registrars seed the workflow registry at serve time. Binaries embedding
// this package add their workflow definitions here before Execute.
var registrars []func(*registry.Registry) error

// RegisterWorkflows queues a registration hook run when the server starts.
func RegisterWorkflows(fn func(*registry.Registry) error) {
	registrars = append(registrars, fn)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow engine server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServerConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg ServerConfig) error {
	logger := newLogger(cfg.LogLevel)

	var archive store.Archive
	if cfg.DBPath != "" {
		a, err := store.NewLibSQLArchive("file:" + cfg.DBPath)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Migrate(ctx); err != nil {
			return err
		}
		archive = a
		logger.Info("archive enabled", slog.String("db_path", cfg.DBPath))
	}

	engOpts := []engine.Option{engine.WithLogger(logger)}
	if archive != nil {
		engOpts = append(engOpts, engine.WithArchive(archive))
	}
	eng := engine.New(engine.Config{
		DefaultStepTimeout:     cfg.DefaultStepTimeout,
		MaxStepTimeout:         cfg.MaxStepTimeout,
		MaxConcurrentWorkflows: cfg.MaxConcurrentWorkflows,
	}, engOpts...)

	reg := registry.New()
	for _, fn := range registrars {
		if err := fn(reg); err != nil {
			return err
		}
	}
	logger.Info("workflow registry loaded", slog.Int("definitions", len(reg.List())))

	launcher := &registry.Launcher{Registry: reg, Engine: eng}

	sched := scheduler.New(launcher, logger, cfg.ScheduleInterval)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	server := api.NewServer(api.Deps{
		Engine:    eng,
		Launcher:  launcher,
		Scheduler: sched,
		Archive:   archive,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown incomplete", slog.String("error", err.Error()))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	base := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(base))
}
