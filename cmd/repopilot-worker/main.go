// Repopilot-worker is the Temporal worker for the improvement pipeline.
//
// It hosts the workflow and every pipeline activity on the shared task
// queue. The API server starts workflows; this process executes them.
//
// Usage:
//
//	REPOPILOT_TEMPORAL_HOST_PORT=localhost:7233 repopilot-worker
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repopilot/internal/activities"
	"github.com/fyrsmithlabs/repopilot/internal/config"
	"github.com/fyrsmithlabs/repopilot/internal/llm"
	"github.com/fyrsmithlabs/repopilot/internal/logging"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
	"github.com/fyrsmithlabs/repopilot/internal/scanner"
	"github.com/fyrsmithlabs/repopilot/internal/store"
	"github.com/fyrsmithlabs/repopilot/internal/vcs"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

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

	logger.Info(ctx, "pipeline worker starting",
		zap.String("host_port", cfg.Temporal.HostPort),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
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

	acts := activities.New(activities.Deps{
		Scanner:     scanner.New(cfg.Scanner),
		LLM:         reasoner,
		Git:         git,
		Host:        host,
		DB:          db,
		Files:       files,
		Logger:      logger,
		TestCommand: cfg.Pipeline.TestCommand,
		TestTimeout: cfg.Pipeline.TestTimeout.Duration(),
	})

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create temporal client: %w", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	w.RegisterWorkflowWithOptions(pipeline.ImprovementPipelineWorkflow, workflow.RegisterOptions{
		Name: pipeline.WorkflowName,
	})
	register := func(name string, fn any) {
		w.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
	}
	register(pipeline.ActivityAnalyze, acts.Analyze)
	register(pipeline.ActivityInitialDocs, acts.WriteInitialDocs)
	register(pipeline.ActivitySuggest, acts.Suggest)
	register(pipeline.ActivityCreateBranch, acts.CreateBranch)
	register(pipeline.ActivityExecute, acts.ExecuteChanges)
	register(pipeline.ActivityCommit, acts.Commit)
	register(pipeline.ActivityReview, acts.Review)
	register(pipeline.ActivityGenerateTests, acts.GenerateTests)
	register(pipeline.ActivityRunTests, acts.RunTests)
	register(pipeline.ActivityPushPR, acts.PushPR)
	register(pipeline.ActivityAutoMerge, acts.AutoMerge)
	register(pipeline.ActivityUpdateDocs, acts.UpdateDocs)
	register(pipeline.ActivitySaveLog, acts.SaveLog)
	register(pipeline.ActivityPersistBead, acts.PersistBead)
	register(pipeline.ActivityPersistRun, acts.PersistRun)

	logger.Info(ctx, "worker configured", zap.String("workflow", pipeline.WorkflowName))

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	logger.Info(context.Background(), "worker stopped")
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
