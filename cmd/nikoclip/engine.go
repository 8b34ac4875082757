package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nikoclip/nikoclip/internal/config"
	"github.com/nikoclip/nikoclip/internal/db"
	"github.com/nikoclip/nikoclip/internal/imageresult"
	"github.com/nikoclip/nikoclip/internal/oracle"
	"github.com/nikoclip/nikoclip/internal/pipeline"
	"github.com/nikoclip/nikoclip/internal/smile"
	"github.com/nikoclip/nikoclip/internal/tasks"
	"github.com/nikoclip/nikoclip/internal/video"
)

const oracleStartTimeout = 2 * time.Minute

// engine is the process-wide analysis stack shared by every run.
type engine struct {
	oracle       *oracle.SubprocessOracle
	decoder      *video.FFmpeg
	orchestrator *pipeline.Orchestrator
}

func newEngine(ctx context.Context, cfg config.Config, repo tasks.Repository, scratchDir string, opts pipeline.Options, logger *slog.Logger) (*engine, error) {
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, oracleStartTimeout)
	defer cancel()

	ocfg := oracle.DefaultConfig(logger)
	ocfg.PythonPath = cfg.OraclePython()
	if module := cfg.OracleModule(); module != "" {
		ocfg.ModuleName = module
	}
	if device := cfg.OracleDevice(); device != "" {
		ocfg.Device = device
	}

	o, err := oracle.Start(startCtx, ocfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start detection oracle: %w", err)
	}

	decoder := video.NewFFmpeg(cfg.FFmpegPath(), cfg.FFprobePath(), logger)
	extractor := smile.NewExtractor(o, cfg.ConfidenceThreshold(), cfg.SmileThreshold(), logger)
	builder := imageresult.NewBuilder(cfg.MaxBase64ImageMB(), scratchDir, logger)

	return &engine{
		oracle:       o,
		decoder:      decoder,
		orchestrator: pipeline.NewOrchestrator(repo, decoder, extractor, builder, opts, logger),
	}, nil
}

func (e *engine) Close() error {
	return e.oracle.Close()
}

func pipelineOptions(cfg config.Config) pipeline.Options {
	return pipeline.Options{
		SampleInterval:  cfg.SampleInterval(),
		DiversityWindow: cfg.DiversityWindow(),
	}
}

// store is an open task repository plus whatever must be released with it.
type store struct {
	repo   tasks.Repository
	sqlite *tasks.SQLiteRepository
	close  func() error
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*store, error) {
	switch cfg.Store() {
	case config.StoreSQLite:
		return openSQLiteStore(cfg.DBPath(), cfg.TaskTTL(), logger)
	default:
		client, err := tasks.ConnectRedis(ctx, cfg.RedisURL())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("using redis task store", "addr", client.Options().Addr, "db", client.Options().DB)
		return &store{
			repo:  tasks.NewRedisRepository(client, cfg.TaskTTL()),
			close: client.Close,
		}, nil
	}
}

func openSQLiteStore(path string, ttl time.Duration, logger *slog.Logger) (*store, error) {
	database, err := db.New(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	repo := tasks.NewSQLiteRepository(database.Conn(), ttl)
	return &store{repo: repo, sqlite: repo, close: database.Close}, nil
}
