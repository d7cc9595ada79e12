package checkpoint

import (
	"context"
	"fmt"
	"os"
)

// WorkflowOptions configure a top-level tracked execution.
type WorkflowOptions struct {
	Options
	// PrintURL controls printing the execution URL after the first
	// write. Nil means print unless CI is set.
	PrintURL *bool
}

// Workflow runs fn as the root of a tracked execution on m. It always
// drains outstanding writes before returning, even when fn fails.
func Workflow[T any](ctx context.Context, m *Manager, name string, props any, opts WorkflowOptions, fn func(ctx context.Context) (T, error)) (T, error) {
	printURL := os.Getenv("CI") == ""
	if opts.PrintURL != nil {
		printURL = *opts.PrintURL
	}
	m.SetWorkflowName(name)
	m.SetPrintURL(printURL)

	out, err := Step(NewContext(ctx, m), name, props, opts.Options, fn)

	// Drain ignores ctx cancellation so the final state is always sent.
	_ = m.Drain(context.WithoutCancel(ctx))

	if err != nil {
		var zero T
		return zero, &WorkflowError{Workflow: name, Err: err}
	}
	return out, nil
}

// Step tracks fn as a child of the node active in ctx. Without a
// manager in ctx it just runs fn.
func Step[T any](ctx context.Context, name string, props any, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	m := FromContext(ctx)
	if m == nil {
		return fn(ctx)
	}

	parentID, _ := CurrentNode(ctx)
	id := m.AddNode(NodeSpec{ComponentName: name, Props: props, Options: opts}, parentID)

	out, err := fn(WithNode(ctx, id))
	if err != nil {
		m.AddMetadata(id, map[string]any{"error": errorMetadata(err)})
		m.CompleteNode(id, nil)
		if opts.Name != "" {
			name = opts.Name
		}
		var zero T
		return zero, &ComponentError{Component: name, Err: err}
	}
	m.CompleteNode(id, out)
	return out, nil
}

func errorMetadata(err error) map[string]any {
	return map[string]any{
		"name":    fmt.Sprintf("%T", err),
		"message": err.Error(),
		"type":    "error",
	}
}
