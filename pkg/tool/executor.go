package tool

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/convoloop/convoloop/pkg/memory"
)

// Executor runs a batch of actions emitted in one LLM response. Actions run
// concurrently but their resulting steps keep the emission order; the
// executor is stateless across turns.
type Executor struct {
	log *slog.Logger
}

func NewExecutor() *Executor {
	return &Executor{log: slog.Default().With("component", "executor")}
}

// Execute turns each action into an assistant step. A tool failure is
// recorded in the step, never surfaced as an error; the loop upstream
// decides how to proceed.
func (e *Executor) Execute(ctx context.Context, actions []memory.Action, registry *Registry) []memory.Step {
	steps := make([]memory.Step, len(actions))

	g, ctx := errgroup.WithContext(ctx)
	for i := range actions {
		g.Go(func() error {
			steps[i] = e.runOne(ctx, actions[i], registry)
			return nil
		})
	}
	_ = g.Wait()

	return steps
}

func (e *Executor) runOne(ctx context.Context, action memory.Action, registry *Registry) memory.Step {
	step := memory.Step{
		Role:   "assistant",
		Action: &action,
		Result: &memory.Result{ExecState: memory.ExecRunning},
	}

	t, ok := registry.Lookup(action.Name)
	if !ok {
		e.log.Warn("skipping unknown tool", "tool", action.Name)
		step.Result.ExecState = memory.ExecSkipped
		step.Result.Error = "unknown tool"
		return step
	}

	content, err := t.Execute(ctx, action.Arguments)
	step.Result.Content = content
	if err != nil {
		e.log.Warn("tool execution failed", "tool", action.Name, "error", err)
		step.Result.ExecState = memory.ExecFailed
		step.Result.Error = err.Error()
		return step
	}

	step.Result.ExecState = memory.ExecSuccess
	return step
}
