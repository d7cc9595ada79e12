package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowTracksNestedSteps(t *testing.T) {
	m := newTestManager(t, enabledConfig(), WithIDGenerator(seqIDs("wf", "search", "answer")))
	printURL := false

	out, err := Workflow(context.Background(), m.Manager, "Research", map[string]any{"topic": "go"},
		WorkflowOptions{PrintURL: &printURL, Options: Options{Metadata: map[string]any{"team": "infra"}}},
		func(ctx context.Context) (string, error) {
			id, ok := CurrentNode(ctx)
			require.True(t, ok)
			assert.Equal(t, "wf", id)

			hits, err := Step(ctx, "Search", map[string]any{"q": "go"}, Options{},
				func(ctx context.Context) (int, error) {
					assert.Equal(t, []string{"wf", "search"}, activeChain(ctx))
					return 3, nil
				})
			if err != nil {
				return "", err
			}
			return Step(ctx, "Answer", nil, Options{}, func(ctx context.Context) (string, error) {
				if hits == 3 {
					return "three hits", nil
				}
				return "", errors.New("unexpected")
			})
		})

	require.NoError(t, err)
	assert.Equal(t, "three hits", out)

	// Workflow drains before returning.
	last := m.transport.request(m.transport.count() - 1)
	p, exec := decodeRequest(t, last)
	assert.Equal(t, "Research", p.WorkflowName)
	assert.Equal(t, 3, p.Steps)
	require.NotNil(t, p.CompletedAt)
	assert.Equal(t, "three hits", exec.Output.Text())
	assert.Equal(t, "infra", exec.Metadata["team"].Text())
	require.Len(t, exec.Children, 2)
	assert.Equal(t, "Search", exec.Children[0].ComponentName)
	assert.Equal(t, "3", exec.Children[0].Output.Text())
}

func TestStepFailureRecordsErrorMetadata(t *testing.T) {
	m := newTestManager(t, Config{}, WithIDGenerator(seqIDs("wf", "bad")))
	boom := errors.New("boom")

	_, err := Workflow(context.Background(), m.Manager, "Flow", nil, WorkflowOptions{},
		func(ctx context.Context) (int, error) {
			return Step(ctx, "Fails", nil, Options{}, func(ctx context.Context) (int, error) {
				return 0, boom
			})
		})

	var wfErr *WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, "Flow", wfErr.Workflow)
	var compErr *ComponentError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, "Fails", compErr.Component)
	assert.ErrorIs(t, err, boom)

	view, ok := m.Node("bad")
	require.True(t, ok)
	assert.True(t, view.Completed())
	assert.True(t, view.Output.IsNull())
	errMeta := view.Metadata["error"]
	msg, _ := errMeta.Get("message")
	typ, _ := errMeta.Get("type")
	name, _ := errMeta.Get("name")
	assert.Equal(t, "boom", msg.Text())
	assert.Equal(t, "error", typ.Text())
	assert.Equal(t, "*errors.errorString", name.Text())

	root, _ := m.Node("wf")
	assert.Contains(t, root.Metadata, "error")
}

func TestStepWithoutManagerJustRuns(t *testing.T) {
	out, err := Step(context.Background(), "Plain", nil, Options{}, func(ctx context.Context) (string, error) {
		_, ok := CurrentNode(ctx)
		assert.False(t, ok)
		return "ran", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ran", out)
}

func TestStepSecretsScopedToContext(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := NewContext(context.Background(), m.Manager)

	_, err := Step(ctx, "Login", map[string]any{"password": "correct-horse-battery"},
		Options{SecretProps: []string{"password"}},
		func(ctx context.Context) (string, error) {
			assert.Equal(t, "pw: [secret]", m.Scrub(ctx, "pw: correct-horse-battery").Text())
			return "ok", nil
		})
	require.NoError(t, err)

	assert.Equal(t, "pw: correct-horse-battery", m.Scrub(ctx, "pw: correct-horse-battery").Text())
}

func TestConcurrentStepsKeepSeparateChains(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := NewContext(context.Background(), m.Manager)

	_, err := Step(ctx, "Root", nil, Options{}, func(ctx context.Context) (int, error) {
		results := make(chan []string, 2)
		for _, name := range []string{"A", "B"} {
			go func(name string) {
				_, _ = Step(ctx, name, nil, Options{}, func(ctx context.Context) (int, error) {
					results <- activeChain(ctx)
					return 0, nil
				})
			}(name)
		}
		a, b := <-results, <-results
		assert.Len(t, a, 2)
		assert.Len(t, b, 2)
		assert.Equal(t, a[0], b[0])
		assert.NotEqual(t, a[1], b[1])
		return 0, nil
	})
	require.NoError(t, err)
}
