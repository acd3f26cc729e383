package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/convoloop/convoloop/pkg/config"
	"github.com/convoloop/convoloop/pkg/feedback"
	"github.com/convoloop/convoloop/pkg/fsm"
	"github.com/convoloop/convoloop/pkg/llm"
	"github.com/convoloop/convoloop/pkg/memory"
	"github.com/convoloop/convoloop/pkg/tokens"
	"github.com/convoloop/convoloop/pkg/tool"
)

// LLM is the slice of the gateway the agents use. *llm.Client satisfies it.
type LLM interface {
	Ask(ctx context.Context, system, user string, history []llm.Message) (string, error)
	AskWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.AssistantMessage, error)
	AskStructured(ctx context.Context, messages []llm.Message, schemaName string, schema map[string]any, out any) error
}

// renderHistory renders the prompt-window history honoring the configured
// unit. For the token unit the window shrinks from the front until the
// rendered text fits; the newest step is always kept.
func renderHistory(setting *config.Setting, mem *memory.Memory) string {
	if setting.MaxHistoryUnit != config.HistoryUnitTokens {
		return mem.RenderHistory(setting.MaxHistoryLen)
	}

	counter, err := tokens.NewCounter(setting.ChatModel)
	if err != nil {
		counter = nil
	}
	for n := len(mem.Steps); n > 1; n-- {
		out := mem.RenderHistory(n)
		if counter.Count(out) <= setting.MaxHistoryLen {
			return out
		}
	}
	return mem.RenderHistory(1)
}

// stateSelector picks the next state among the reachable candidates.
type stateSelector struct {
	llm LLM
	log *slog.Logger
}

// selectState returns nil when no candidates are reachable, letting the
// caller fall through to state synthesis. An out-of-candidates answer gets
// one corrective re-ask; if the model still misses, the first candidate wins.
func (a *stateSelector) selectState(ctx context.Context, setting *config.Setting, mem *memory.Memory, feedbacks []feedback.Feedback) (*fsm.State, error) {
	candidates := setting.StateMachine.NextCandidates(mem.LastStateName())
	if len(candidates) == 0 {
		return nil, nil
	}

	history := renderHistory(setting, mem)
	examples := renderStateExamples(lastActionOf(mem), feedbacks)
	messages := []llm.Message{
		{Role: "system", Content: stateSelectSystemPrompt},
		{Role: "user", Content: stateSelectUserPrompt(history, renderCandidates(candidates), examples)},
	}

	var choice stateChoice
	if err := a.llm.AskStructured(ctx, messages, "state_choice", stateChoiceSchema, &choice); err != nil {
		return nil, err
	}
	if s := stateByName(candidates, choice.StateName); s != nil {
		return s, nil
	}

	names := candidateNames(candidates)
	a.log.Warn("state selection out of candidates, re-asking",
		"selected", choice.StateName, "candidates", names)

	answer, _ := json.Marshal(choice)
	retry := append(messages,
		llm.Message{Role: "assistant", Content: string(answer)},
		llm.Message{Role: "user", Content: fmt.Sprintf(
			"Invalid state_name %q: it must be one of %s. Respond again with a valid JSON object.",
			choice.StateName, strings.Join(names, ", "))},
	)
	if err := a.llm.AskStructured(ctx, retry, "state_choice", stateChoiceSchema, &choice); err != nil {
		return nil, err
	}
	if s := stateByName(candidates, choice.StateName); s != nil {
		return s, nil
	}

	a.log.Warn("state selection failed twice, falling back to first candidate",
		"selected", choice.StateName, "fallback", candidates[0].Name)
	return &candidates[0], nil
}

func stateByName(candidates []fsm.State, name string) *fsm.State {
	for i := range candidates {
		if candidates[i].Name == name {
			return &candidates[i]
		}
	}
	return nil
}

func candidateNames(candidates []fsm.State) []string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	return names
}

// stateCreator synthesizes a transient state when no machine is configured
// or no transition is reachable.
type stateCreator struct {
	llm LLM
	log *slog.Logger
}

func (a *stateCreator) createState(ctx context.Context, setting *config.Setting, mem *memory.Memory) (*fsm.State, error) {
	messages := []llm.Message{
		{Role: "system", Content: newStateSystemPrompt},
		{Role: "user", Content: newStateUserPrompt(renderHistory(setting, mem))},
	}

	var out newState
	if err := a.llm.AskStructured(ctx, messages, "new_state", newStateSchema, &out); err != nil {
		return nil, err
	}
	if out.Name == "" {
		out.Name = "dynamic"
	}
	return &fsm.State{Name: out.Name, Scenario: out.Scenario, Instruction: out.Instruction}, nil
}

// actionSelector turns the current state's instruction into tool calls.
type actionSelector struct {
	llm LLM
	log *slog.Logger
}

// selectActions asks for tool calls under the state's instruction. A purely
// textual answer becomes a single send_message_to_user action carrying that
// text; an empty answer becomes a passively-waiting empty reply.
func (a *actionSelector) selectActions(ctx context.Context, setting *config.Setting, mem *memory.Memory, state *fsm.State, registry *tool.Registry, feedbacks []feedback.Feedback) ([]memory.Action, error) {
	system := fmt.Sprintf(actionsSystemTemplate, setting.GlobalPrompt, renderHistory(setting, mem))
	user := actionsUserPrompt(renderActionExamples(lastActionOf(mem), feedbacks), state.Instruction)

	msg, err := a.llm.AskWithTools(ctx,
		[]llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		toolDefinitions(registry),
	)
	if err != nil {
		return nil, err
	}

	actions := make([]memory.Action, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		actions = append(actions, memory.Action{
			Name:       tc.Name,
			Arguments:  tc.Args,
			ToolCallID: tc.ID,
		})
	}
	if len(actions) == 0 {
		content := strings.TrimSpace(msg.Content)
		if content != "" {
			a.log.Debug("no tool calls, promoting textual content to a reply", "state", state.Name)
		}
		actions = append(actions, memory.Action{
			Name:       memory.SendMessageActionName,
			Arguments:  map[string]any{"agent_message": content},
			ToolCallID: "synth_" + uuid.NewString(),
		})
	}
	return actions, nil
}

func toolDefinitions(registry *tool.Registry) []llm.ToolDefinition {
	descriptors := registry.Descriptors()
	defs := make([]llm.ToolDefinition, len(descriptors))
	for i, d := range descriptors {
		defs[i] = llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		}
	}
	return defs
}
