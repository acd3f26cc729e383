// Package chat runs the per-turn loop: select or synthesize a state, select
// actions, execute them, and stop on the first user-visible reply or when the
// LLM call budget runs out.
package chat

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/convoloop/convoloop/pkg/config"
	"github.com/convoloop/convoloop/pkg/feedback"
	"github.com/convoloop/convoloop/pkg/fsm"
	"github.com/convoloop/convoloop/pkg/llm"
	"github.com/convoloop/convoloop/pkg/memory"
	"github.com/convoloop/convoloop/pkg/tokens"
	"github.com/convoloop/convoloop/pkg/tool"
)

// Turn outcomes.
const (
	ResultSuccess        = "success"
	ResultBudgetExceeded = "budget_exceeded"
	ResultError          = "error"
)

const (
	apologyMessage = "I'm sorry, I wasn't able to finish handling your request. Could you try rephrasing or asking again?"
	failureMessage = "I'm sorry, something went wrong while handling your request."
)

// LLMFactory builds a per-turn gateway bound to sessionID.
type LLMFactory func(setting *config.Setting, sessionID string) LLM

// Retriever is the slice of the feedback service the loop reads from.
// *feedback.Service satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, agentName, queryText string, topK int, tags []string) ([]feedback.Feedback, error)
}

// RetrieverFactory builds the per-turn feedback retriever. A nil retriever
// disables few-shot examples for the turn.
type RetrieverFactory func(setting *config.Setting) Retriever

// Orchestrator drives chat turns. It is safe for concurrent use; all
// per-turn state lives in the request's memory and a fresh session id.
type Orchestrator struct {
	registry     *tokens.Registry
	newLLM       LLMFactory
	newRetriever RetrieverFactory
	executor     *tool.Executor
	log          *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLLMFactory replaces the gateway constructor.
func WithLLMFactory(f LLMFactory) Option {
	return func(o *Orchestrator) { o.newLLM = f }
}

// WithRetrieverFactory replaces the feedback retriever constructor.
func WithRetrieverFactory(f RetrieverFactory) Option {
	return func(o *Orchestrator) { o.newRetriever = f }
}

func New(registry *tokens.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		executor: tool.NewExecutor(),
		log:      slog.Default().With("component", "chat"),
	}
	o.newLLM = func(setting *config.Setting, sessionID string) LLM {
		return llm.New(llm.Config{
			BaseURL:     setting.BaseURL,
			APIKey:      setting.APIKey,
			Model:       setting.ChatModel,
			Temperature: *setting.Temperature,
			TopP:        *setting.TopP,
		}, sessionID, o.registry)
	}
	o.newRetriever = func(setting *config.Setting) Retriever {
		svc := BuildFeedback(setting)
		if svc == nil {
			return nil
		}
		return svc
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TurnRequest carries everything one turn needs. Memory is mutated in place.
type TurnRequest struct {
	Setting *config.Setting
	Memory  *memory.Memory

	UserMessage memory.UserMessage

	// RecallLastUserMessage drops the previous user step and its replies
	// before the new message is appended.
	RecallLastUserMessage bool

	// EditedLastResponse, when non-empty, overwrites the last reply before
	// the turn runs.
	EditedLastResponse string

	RequestTools []*tool.RequestTool
}

// TurnResult is what a finished turn reports back.
type TurnResult struct {
	Memory          *memory.Memory
	NewSteps        []memory.Step
	Response        string
	ResultType      string
	LLMCallingTimes int
	InputTokens     int
	OutputTokens    int
}

// Chat runs one turn. Configuration problems surface as an error; provider
// and budget failures surface in the result with an explanatory reply step.
func (o *Orchestrator) Chat(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	setting := req.Setting
	if setting == nil {
		return nil, &config.ConfigError{Field: "setting", Reason: "must not be empty"}
	}
	setting.SetDefaults()
	if err := setting.Validate(); err != nil {
		return nil, err
	}

	registry := tool.NewRegistry(tool.NewSendMessage())
	for _, rt := range req.RequestTools {
		if err := rt.Validate(); err != nil {
			return nil, &config.ConfigError{Field: "tools", Reason: err.Error()}
		}
		registry.Register(rt)
	}

	mem := req.Memory
	if mem == nil {
		mem = &memory.Memory{}
	}

	if req.RecallLastUserMessage {
		mem.RecallLastUserMessage()
	}
	if req.EditedLastResponse != "" {
		mem.EditLastResponse(req.EditedLastResponse)
	}
	if !req.UserMessage.Empty() {
		mem.Append(memory.NewUserStep(req.UserMessage.Text()))
	}
	baseline := len(mem.Steps)

	// One session id per turn, computed once. The gateway books every call
	// under it and the totals are read back at the end.
	sessionID := setting.AgentName + ":" + uuid.NewString()
	defer o.registry.Reset(sessionID)

	gateway := o.newLLM(setting, sessionID)
	selector := &stateSelector{llm: gateway, log: o.log}
	creator := &stateCreator{llm: gateway, log: o.log}
	actioner := &actionSelector{llm: gateway, log: o.log}

	var feedbacks []feedback.Feedback
	if retriever := o.newRetriever(setting); retriever != nil {
		feedbacks, _ = retriever.Retrieve(ctx, setting.AgentName, mem.LastUserContent(), setting.TopK, nil)
	}

	terminated := false
	var turnErr error
	var lastState string

	for o.registry.Get(sessionID).CallCount < setting.MaxLLMCalls && !terminated {
		var state *fsm.State
		var err error

		if !setting.StateMachine.Empty() {
			state, err = selector.selectState(ctx, setting, mem, feedbacks)
			if err != nil {
				turnErr = err
				break
			}
		}
		if state == nil {
			state, err = creator.createState(ctx, setting, mem)
			if err != nil {
				turnErr = err
				break
			}
		}
		lastState = state.Name

		actions, err := actioner.selectActions(ctx, setting, mem, state, registry, feedbacks)
		if err != nil {
			turnErr = err
			break
		}

		// Actions after the first reply would run past the end of the
		// turn; they are cut, not executed.
		if idx := firstReplyAction(actions); idx >= 0 {
			actions = actions[:idx+1]
		}

		for _, step := range o.executor.Execute(ctx, actions, registry) {
			step.StateName = state.Name
			mem.Append(step)
			if step.IsReply() {
				terminated = true
			}
		}
	}

	resultType := ResultSuccess
	switch {
	case terminated:
	case turnErr != nil:
		o.log.Error("turn failed", "agent", setting.AgentName, "error", turnErr)
		mem.Append(memory.Step{
			Role:      "assistant",
			Action:    &memory.Action{Name: memory.SendMessageActionName, Arguments: map[string]any{"agent_message": failureMessage}},
			Result:    &memory.Result{Content: failureMessage, Error: turnErr.Error(), ExecState: memory.ExecFailed},
			StateName: lastState,
		})
		resultType = ResultError
	default:
		o.log.Warn("call budget exhausted", "agent", setting.AgentName, "budget", setting.MaxLLMCalls)
		apology := memory.Action{
			Name:       memory.SendMessageActionName,
			Arguments:  map[string]any{"agent_message": apologyMessage},
			ToolCallID: "synth_" + uuid.NewString(),
		}
		for _, step := range o.executor.Execute(ctx, []memory.Action{apology}, registry) {
			step.StateName = lastState
			mem.Append(step)
		}
		resultType = ResultBudgetExceeded
	}

	mem.Dedup()

	usage := o.registry.Get(sessionID)
	if baseline > len(mem.Steps) {
		baseline = len(mem.Steps)
	}
	return &TurnResult{
		Memory:          mem,
		NewSteps:        mem.Steps[baseline:],
		Response:        lastReplyContent(mem),
		ResultType:      resultType,
		LLMCallingTimes: usage.CallCount,
		InputTokens:     usage.TotalInputTokens,
		OutputTokens:    usage.TotalOutputTokens,
	}, nil
}

func firstReplyAction(actions []memory.Action) int {
	for i, a := range actions {
		if a.Name == memory.SendMessageActionName {
			return i
		}
	}
	return -1
}

func lastReplyContent(mem *memory.Memory) string {
	for i := len(mem.Steps) - 1; i >= 0; i-- {
		s := mem.Steps[i]
		if s.Role == "assistant" && s.Action != nil && s.Action.Name == memory.SendMessageActionName && s.Result != nil {
			return s.Result.Content
		}
	}
	return ""
}
