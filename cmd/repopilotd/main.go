// Repopilotd is the repo-pilot API server.
//
// It serves the pipeline HTTP API, launches runs on either the durable
// (Temporal) or the local execution strategy, and answers run and bead
// queries from the dual persistence stores.
//
// Usage:
//
//	# Start with defaults
//	repopilotd
//
//	# Load a config file and override via environment
//	REPOPILOT_SERVER_PORT=9090 repopilotd --config repopilot.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repopilot/internal/activities"
	"github.com/fyrsmithlabs/repopilot/internal/config"
	rphttp "github.com/fyrsmithlabs/repopilot/internal/http"
	"github.com/fyrsmithlabs/repopilot/internal/llm"
	"github.com/fyrsmithlabs/repopilot/internal/logging"
	"github.com/fyrsmithlabs/repopilot/internal/metrics"
	"github.com/fyrsmithlabs/repopilot/internal/orchestrator"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
	"github.com/fyrsmithlabs/repopilot/internal/scaffold"
	"github.com/fyrsmithlabs/repopilot/internal/scanner"
	"github.com/fyrsmithlabs/repopilot/internal/store"
	"github.com/fyrsmithlabs/repopilot/internal/vcs"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("repopilotd %s (%s)\n", version, gitCommit)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "repopilotd starting",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
	)

	db, err := store.OpenSQLite(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	files, err := store.NewFiles(cfg.Storage.RunsDir)
	if err != nil {
		return fmt.Errorf("preparing runs directory: %w", err)
	}

	reasoner, err := llm.NewOpenAI(cfg.Reasoning, logger)
	if err != nil {
		return fmt.Errorf("initializing reasoning client: %w", err)
	}

	runner := vcs.NewCommandRunner(cfg.Pipeline.CommandTimeout.Duration())
	git := vcs.NewGit(runner, logger)
	var host vcs.PRHost
	if cfg.GitHub.Token.IsSet() {
		host = vcs.NewGitHubAPI(ctx, cfg.GitHub.Token.Value(), "")
	} else {
		host = vcs.NewGHCLI(runner)
	}

	repoScanner := scanner.New(cfg.Scanner)
	acts := activities.New(activities.Deps{
		Scanner:     repoScanner,
		LLM:         reasoner,
		Git:         git,
		Host:        host,
		DB:          db,
		Files:       files,
		Logger:      logger,
		TestCommand: cfg.Pipeline.TestCommand,
		TestTimeout: cfg.Pipeline.TestTimeout.Duration(),
	})
	local := pipeline.NewLocalRunner(acts.Registry(), logger)

	// The durable strategy is optional: without a reachable Temporal
	// server the daemon still serves local runs.
	var starter orchestrator.WorkflowStarter
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		logger.Warn(ctx, "temporal unavailable, durable strategy disabled",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.Error(err),
		)
	} else {
		defer temporalClient.Close()
		starter = temporalClient
		logger.Info(ctx, "temporal client connected",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
		)
	}

	m := metrics.New()
	orch := orchestrator.New(cfg, starter, local, db, files, logger).WithMetrics(m)
	scaffolder := scaffold.New(repoScanner, reasoner, git, logger)

	srv, err := rphttp.NewServer(orch, scaffolder, m, logger, &rphttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	logger.Info(context.Background(), "shutdown complete")
	return nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	logCfg.Format = cfg.Log.Format
	if err := logCfg.Level.Set(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	return logging.NewLogger(logCfg)
}
