package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/artifacts"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/dispatch"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/journal"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/logging"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/model"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/pipeline"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/rules"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/scheduler"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/store"
	costmcp "github.com/aws-samples/sample-agentic-cost-optimizer/pkg/mcp"
)

// app wires the full dependency graph for the serve, dispatch and sweep
// commands.
type app struct {
	cfg        Config
	logger     *slog.Logger
	store      *store.LibSQLStore
	recorder   *journal.Recorder
	tracker    *journal.TaskTracker
	spawner    *pipeline.Spawner
	dispatcher *dispatch.Dispatcher
	invoker    *dispatch.Invoker
	cleaner    *dispatch.Cleaner
	sweeper    *scheduler.Sweeper
	server     *costmcp.Server
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
	// Stdout carries the MCP stdio transport; logs go to stderr.
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func envCredentials() aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		id := os.Getenv("AWS_ACCESS_KEY_ID")
		secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
		if id == "" || secret == "" {
			return aws.Credentials{}, fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
		}
		return aws.Credentials{
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "environment",
		}, nil
	})
}

func buildApp(ctx context.Context, cfg Config) (*app, error) {
	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	ttl := time.Duration(cfg.TTLDays) * 24 * time.Hour
	rec := journal.NewRecorder(st, logger, journal.WithTTL(ttl))
	tracker := journal.NewTaskTracker(st, logger, journal.WithTrackerTTL(ttl))

	fs, err := artifacts.NewFSStorage(cfg.ArtifactDir)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open artifact storage: %w", err)
	}

	runtime := bedrockruntime.New(bedrockruntime.Options{
		Region:           cfg.Region,
		Credentials:      aws.NewCredentialsCache(envCredentials()),
		RetryMaxAttempts: cfg.RetryMaxAttempts,
		RetryMode:        aws.RetryMode(cfg.RetryMode),
	})
	mdl, err := model.NewBedrock(runtime, model.BedrockOptions{
		ModelID:     cfg.ModelID,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Logger:      logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create model client: %w", err)
	}

	eng := rules.NewEngine(rules.DefaultRules())
	stages := []pipeline.Stage{
		&pipeline.AnalysisStage{
			Source:  &pipeline.StoreMetricsSource{Store: st},
			Rules:   eng,
			Client:  mdl,
			Store:   st,
			Tracker: tracker,
			Logger:  logger,
		},
		&pipeline.ReportStage{
			Client:    mdl,
			Store:     st,
			Artifacts: fs,
			Tracker:   tracker,
			Logger:    logger,
		},
	}

	spawner := pipeline.NewSpawner(cfg.PoolSize)
	orch := pipeline.NewOrchestrator(rec, spawner, logger, stages,
		pipeline.WithTimeout(time.Duration(cfg.TimeoutMinutes)*time.Minute))

	disp, err := dispatch.NewDispatcher(rec, orch, st, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	local := dispatch.NewLocalRuntime(orch, st, ttl)
	invoker := dispatch.NewInvoker(rec, local, logger)
	cleaner := dispatch.NewCleaner(rec, local, logger)

	sweeper, err := scheduler.NewSweeper(st, cleaner, logger,
		scheduler.WithPurgeSpec(cfg.PurgeSchedule),
		scheduler.WithReconcileSpec(cfg.ReconcileSchedule),
		scheduler.WithStaleAfter(time.Duration(cfg.StaleAfterMinutes)*time.Minute))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create sweeper: %w", err)
	}

	srv := costmcp.NewServer(costmcp.ServerDeps{
		Recorder:  rec,
		Tracker:   tracker,
		Store:     st,
		Artifacts: fs,
		Logger:    logger,
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		recorder:   rec,
		tracker:    tracker,
		spawner:    spawner,
		dispatcher: disp,
		invoker:    invoker,
		cleaner:    cleaner,
		sweeper:    sweeper,
		server:     srv,
	}, nil
}

func (a *app) close() {
	a.spawner.Shutdown()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", slog.Any("error", err))
	}
}
