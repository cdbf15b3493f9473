package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repopilot/internal/logging"
)

// LocalActivity is one activity exposed to the local strategy. Input
// arrives JSON-encoded, mirroring the durable strategy's payloads.
type LocalActivity func(ctx context.Context, input []byte) (any, error)

// LocalRunner executes the pipeline in-process with the same step
// semantics as the durable strategy: each step runs with a timeout,
// and its output passes through a JSON round-trip.
type LocalRunner struct {
	registry map[string]LocalActivity
	logger   *logging.Logger
}

// NewLocalRunner creates the local strategy over an activity registry.
func NewLocalRunner(registry map[string]LocalActivity, logger *logging.Logger) *LocalRunner {
	return &LocalRunner{registry: registry, logger: logger}
}

// Run executes one pipeline run to completion.
func (r *LocalRunner) Run(ctx context.Context, in WorkflowInput) (WorkflowResult, error) {
	timeout := in.Params.StepTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	r.logger.Info(ctx, "pipeline started",
		zap.String("run.id", in.RunID),
		zap.String("repo_path", in.RepoPath),
	)

	result, err := RunSequence(&localExecutor{
		ctx:      ctx,
		timeout:  timeout,
		registry: r.registry,
	}, in)
	if err != nil {
		r.logger.Error(ctx, "pipeline failed", zap.String("run.id", in.RunID), zap.Error(err))
		return WorkflowResult{}, err
	}
	r.logger.Info(ctx, "pipeline completed",
		zap.String("run.id", in.RunID),
		zap.Bool("merged", result.Summary.Merged),
	)
	return result, nil
}

type localExecutor struct {
	ctx      context.Context
	timeout  time.Duration
	registry map[string]LocalActivity
}

func (e *localExecutor) Now() time.Time {
	return time.Now()
}

// Execute runs the activity on its own goroutine under a step timeout,
// so a hung step fails the run instead of blocking it forever.
func (e *localExecutor) Execute(name string, input, output any) error {
	fn, ok := e.registry[name]
	if !ok {
		return fmt.Errorf("unknown activity %q", name)
	}
	encoded, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encoding %s input: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := fn(ctx, encoded)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("activity %s: %w", name, ctx.Err())
	case o := <-done:
		if o.err != nil {
			return o.err
		}
		if output == nil || o.result == nil {
			return nil
		}
		// Round-trip through JSON so both strategies see identical
		// payload conversion.
		raw, err := json.Marshal(o.result)
		if err != nil {
			return fmt.Errorf("encoding %s output: %w", name, err)
		}
		if err := json.Unmarshal(raw, output); err != nil {
			return fmt.Errorf("decoding %s output: %w", name, err)
		}
		return nil
	}
}
