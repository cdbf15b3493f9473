package pipeline

import (
	"fmt"
	"time"
)

// StepExecutor dispatches one pipeline step to an activity. The
// Temporal strategy schedules a durable activity; the local strategy
// invokes the activity in-process. Implementations carry their own
// execution context, so the sequence stays strategy-agnostic and, in
// the Temporal case, deterministic.
type StepExecutor interface {
	// Execute runs the named activity with input, decoding its result
	// into output when output is non-nil.
	Execute(name string, input, output any) error
	// Now returns the current time from the strategy's clock.
	Now() time.Time
}

// StepError identifies which pipeline step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
