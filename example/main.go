package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"

	"github.com/meikuraledutech/checkpoint"
)

type searchProps struct {
	Query  string `json:"query"`
	APIKey string `json:"apiKey"`
}

func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	// Without CHECKPOINT_API_KEY the tree is still tracked in memory;
	// nothing is sent.
	m, err := checkpoint.NewFromEnv(checkpoint.Config{LogFormat: "console"})
	if err != nil {
		log.Fatalf("checkpoint: %v", err)
	}
	defer m.Shutdown(ctx)

	// ── Workflow ──────────────────────────────────────────────────────
	answer, err := checkpoint.Workflow(ctx, m, "ResearchAgent", map[string]any{"topic": "go concurrency"}, checkpoint.WorkflowOptions{},
		func(ctx context.Context) (string, error) {
			results, err := checkpoint.Step(ctx, "WebSearch",
				searchProps{Query: "go concurrency patterns", APIKey: "sk-live-0123456789abcdef"},
				checkpoint.Options{SecretProps: []string{"apiKey"}},
				func(ctx context.Context) ([]string, error) {
					return []string{"pipelines", "fan-out", "worker pools"}, nil
				})
			if err != nil {
				return "", err
			}

			token, err := checkpoint.Step(ctx, "IssueToken", nil,
				checkpoint.Options{SecretOutputs: true},
				func(ctx context.Context) (string, error) {
					return "tok_9f8e7d6c5b4a3210", nil
				})
			if err != nil {
				return "", err
			}

			// Anything logged or returned inside this step is scrubbed
			// against the secrets of every active node.
			return checkpoint.Step(ctx, "Summarize", map[string]any{"count": len(results)}, checkpoint.Options{},
				func(ctx context.Context) (string, error) {
					text := fmt.Sprintf("called with %s: %s", token, strings.Join(results, ", "))
					fmt.Println("scrubbed:", m.Scrub(ctx, text).Text())
					return strings.Join(results, ", "), nil
				})
		})
	if err != nil {
		log.Fatalf("workflow: %v", err)
	}
	fmt.Println("answer:", answer)

	// ── Snapshot ──────────────────────────────────────────────────────
	fmt.Println("\nredacted execution tree:")
	printJSON(m.Snapshot())

	// ── Failing step ──────────────────────────────────────────────────
	_, err = checkpoint.Step(checkpoint.WithNode(checkpoint.NewContext(ctx, m), m.RootID()), "Flaky", nil, checkpoint.Options{},
		func(ctx context.Context) (int, error) {
			return 0, errors.New("upstream timed out")
		})
	var compErr *checkpoint.ComponentError
	if errors.As(err, &compErr) {
		fmt.Printf("\nstep %s failed: %v\n", compErr.Component, compErr.Err)
	}

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.Drain(drainCtx); err != nil {
		log.Printf("drain: %v", err)
	}
}

func printJSON(v any) {
	out, _ := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
