package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowFailed is returned by Poller.Await for errored instances. It
	// carries no detail about the underlying failure.
	ErrWorkflowFailed = errors.New("workflow: instance errored")
	// ErrPollTimeout is returned by Poller.Await when the attempt budget is
	// exhausted. The instance may still finish later.
	ErrPollTimeout = errors.New("workflow: instance still running after poll budget")
)

// StepError reports that a step function failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
