package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nikoclip/nikoclip/internal/api"
	"github.com/nikoclip/nikoclip/internal/config"
	"github.com/nikoclip/nikoclip/internal/logging"
	"github.com/nikoclip/nikoclip/internal/pipeline"
	"github.com/nikoclip/nikoclip/internal/tasks"
)

const (
	shutdownTimeout = 10 * time.Second
	purgeInterval   = 10 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	for _, dir := range []string{cfg.DataDir(), cfg.UploadsDir(), cfg.ScratchDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel(), Format: cfg.LogFormat()})
	logger.Info("starting nikoclip",
		"version", config.Version,
		"store", cfg.Store(),
		"data_dir", logging.SanitizePath(cfg.DataDir()),
	)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	eng, err := newEngine(ctx, cfg, st.repo, cfg.ScratchDir(), pipelineOptions(cfg), logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	pool := pipeline.NewPool(cfg.MaxConcurrentTasks())

	// Runs outlive request contexts; they are cancelled only after the
	// listener has stopped.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.Host(),
		Port:           cfg.Port(),
		Repository:     st.repo,
		Runner:         eng.orchestrator,
		Scheduler:      pool,
		UploadsDir:     cfg.UploadsDir(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		AllowedOrigins: cfg.AllowedOrigins(),
		StoreName:      cfg.Store(),
		Version:        config.Version,
		Logger:         logger,
		StartTime:      startTime,
		RunContext:     runCtx,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	if st.sqlite != nil {
		go purgeLoop(runCtx, st.sqlite, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			cancelRuns()
			pool.Wait()
			return err
		}
	}

	logger.Info("initiating graceful shutdown", "active_tasks", pool.Active())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	cancelRuns()
	pool.Wait()

	logger.Info("shutdown complete")
	return nil
}

// purgeLoop removes expired sqlite rows; redis expires keys on its own.
func purgeLoop(ctx context.Context, repo *tasks.SQLiteRepository, logger *slog.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("failed to purge expired tasks", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged expired tasks", "count", n)
			}
		}
	}
}
