package pipeline

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// WorkflowName is the registered name of the pipeline workflow.
const WorkflowName = "ImprovementPipeline"

// temporalExecutor dispatches steps as Temporal activities.
type temporalExecutor struct {
	ctx workflow.Context
}

func (e *temporalExecutor) Execute(name string, input, output any) error {
	fut := workflow.ExecuteActivity(e.ctx, name, input)
	if output == nil {
		return fut.Get(e.ctx, nil)
	}
	return fut.Get(e.ctx, output)
}

func (e *temporalExecutor) Now() time.Time {
	return workflow.Now(e.ctx)
}

// ImprovementPipelineWorkflow is the durable strategy. All
// nondeterminism (run IDs, wall-clock time, configuration) arrives in
// the input; the workflow body only sequences activities.
func ImprovementPipelineWorkflow(ctx workflow.Context, in WorkflowInput) (WorkflowResult, error) {
	timeout := in.Params.StepTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		// Retries happen inside the reasoning client, not at the
		// activity layer; a timed-out step is a failed step.
		RetryPolicy: &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	logger := workflow.GetLogger(ctx)
	logger.Info("pipeline started", "run_id", in.RunID, "repo_path", in.RepoPath)

	result, err := RunSequence(&temporalExecutor{ctx: ctx}, in)
	if err != nil {
		logger.Error("pipeline failed", "run_id", in.RunID, "error", err)
		return WorkflowResult{}, err
	}
	logger.Info("pipeline completed", "run_id", in.RunID, "merged", result.Summary.Merged)
	return result, nil
}
