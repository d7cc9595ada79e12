package checkpoint

import (
	"errors"
	"fmt"
)

var (
	ErrOrgNotSet      = errors.New("checkpoint: organization not set; set CHECKPOINT_ORG, the [api] org key of the config file, or disable checkpoints with CHECKPOINT_ENABLED=false")
	ErrInvalidRuntime = errors.New(`checkpoint: invalid runtime, must be "cloud" or "sdk"`)
)

// ComponentError reports a tracked step whose function failed.
type ComponentError struct {
	Component string
	Err       error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("checkpoint: component %q failed: %v", e.Component, e.Err)
}

func (e *ComponentError) Unwrap() error { return e.Err }

// WorkflowError reports a workflow whose root step failed.
type WorkflowError struct {
	Workflow string
	Err      error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("checkpoint: workflow %q failed: %v", e.Workflow, e.Err)
}

func (e *WorkflowError) Unwrap() error { return e.Err }
