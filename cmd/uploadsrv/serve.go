package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/uploadsrv/internal/config"
	"github.com/tonimelisma/uploadsrv/internal/notifier"
	"github.com/tonimelisma/uploadsrv/internal/server"
	"github.com/tonimelisma/uploadsrv/internal/session"
	"github.com/tonimelisma/uploadsrv/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the upload server daemon",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := server.ShutdownContext(cmd.Context(), logger)

	pidPath := filepath.Join(cfg.Server.DataDir, "uploadsrv.pid")

	pidFile, err := server.AcquirePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer pidFile.Release()

	metrics, registry := server.NewMetrics()

	backend, err := openBackend(ctx, cfg.Server, logger)
	if err != nil {
		return err
	}

	notifierTimeout, err := time.ParseDuration(cfg.Notifier.Timeout)
	if err != nil {
		return fmt.Errorf("parsing notifier.timeout: %w", err)
	}

	notify := notifier.New(cfg.Notifier.URL, notifierTimeout, cfg.Notifier.MaxRetries, metrics, logger)

	manager, err := session.NewManager(backend, notify, metrics, session.Config{
		StrictOffset:       cfg.Server.StrictOffset,
		StrictSingleWriter: cfg.Server.StrictSingleWriter,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing session manager: %w", err)
	}
	defer manager.Close()

	idleTimeout, err := time.ParseDuration(cfg.Server.IdleTimeout)
	if err != nil {
		return fmt.Errorf("parsing server.idle_timeout: %w", err)
	}

	storageDir := filepath.Join(cfg.Server.DataDir, "uploads")
	srv := server.New(cfg.Server.ListenAddr, storageDir, idleTimeout, manager, logger)

	ready := func() bool { return true }

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gctx)
	})

	if cfg.Server.AdminAddr != "" {
		shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("parsing server.shutdown_timeout: %w", err)
		}

		admin := server.NewAdminServer(cfg.Server.AdminAddr, registry, ready, shutdownTimeout, logger)

		g.Go(func() error {
			return admin.Run(gctx)
		})
	}

	logger.Info("uploadsrv started",
		slog.String("listen_addr", cfg.Server.ListenAddr),
		slog.String("state_backend", cfg.Server.StateBackend),
		slog.String("data_dir", cfg.Server.DataDir),
	)

	return g.Wait()
}

// openBackend selects and opens the configured Persistence Store backend.
func openBackend(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (session.Backend, error) {
	switch cfg.StateBackend {
	case "sqlite":
		path := filepath.Join(cfg.DataDir, "uploads_state.db")
		return store.NewSQLiteStore(ctx, path, logger)
	default:
		path := filepath.Join(cfg.DataDir, "uploads_state.json")
		return store.NewJSONFileStore(path, logger), nil
	}
}
