package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoloop/convoloop/pkg/config"
	"github.com/convoloop/convoloop/pkg/feedback"
	"github.com/convoloop/convoloop/pkg/fsm"
	"github.com/convoloop/convoloop/pkg/llm"
	"github.com/convoloop/convoloop/pkg/memory"
	"github.com/convoloop/convoloop/pkg/tokens"
	"github.com/convoloop/convoloop/pkg/tool"
)

type capture struct {
	schemaName string
	messages   []llm.Message
}

type structuredReply struct {
	value any
	err   error
}

type toolsReply struct {
	msg *llm.AssistantMessage
	err error
}

// stubLLM replays scripted replies and books one usage record per successful
// call, the same way the real gateway does. When a script runs out its last
// entry repeats.
type stubLLM struct {
	reg *tokens.Registry
	sid string

	structured []structuredReply
	tools      []toolsReply
	si, ti     int

	structuredSeen []capture
	toolsSeen      []capture
}

func (s *stubLLM) record() { s.reg.Add(s.sid, 10, 5) }

func (s *stubLLM) Ask(_ context.Context, _, _ string, _ []llm.Message) (string, error) {
	s.record()
	return "", nil
}

func (s *stubLLM) AskStructured(_ context.Context, messages []llm.Message, schemaName string, _ map[string]any, out any) error {
	s.structuredSeen = append(s.structuredSeen, capture{schemaName: schemaName, messages: messages})

	reply := s.structured[min(s.si, len(s.structured)-1)]
	s.si++
	if reply.err != nil {
		return reply.err
	}
	s.record()
	data, _ := json.Marshal(reply.value)
	return json.Unmarshal(data, out)
}

func (s *stubLLM) AskWithTools(_ context.Context, messages []llm.Message, _ []llm.ToolDefinition) (*llm.AssistantMessage, error) {
	s.toolsSeen = append(s.toolsSeen, capture{messages: messages})

	reply := s.tools[min(s.ti, len(s.tools)-1)]
	s.ti++
	if reply.err != nil {
		return nil, reply.err
	}
	s.record()
	return reply.msg, nil
}

func replyCall(message string) toolsReply {
	return toolsReply{msg: &llm.AssistantMessage{ToolCalls: []llm.ToolCall{
		{ID: "call_1", Name: memory.SendMessageActionName, Args: map[string]any{"agent_message": message}},
	}}}
}

func newTestOrchestrator(stub *stubLLM, feedbacks []feedback.Feedback) *Orchestrator {
	registry := tokens.NewRegistry()
	return New(registry,
		WithLLMFactory(func(_ *config.Setting, sessionID string) LLM {
			stub.reg = registry
			stub.sid = sessionID
			return stub
		}),
		WithRetrieverFactory(func(_ *config.Setting) Retriever {
			if feedbacks == nil {
				return nil
			}
			return stubRetriever(feedbacks)
		}),
	)
}

type stubRetriever []feedback.Feedback

func (r stubRetriever) Retrieve(_ context.Context, _, _ string, _ int, _ []string) ([]feedback.Feedback, error) {
	return r, nil
}

func testSetting() *config.Setting {
	return &config.Setting{AgentName: "support", APIKey: "sk-test"}
}

func userSays(text string) memory.UserMessage {
	return memory.UserMessage{Messages: []memory.ChatMessage{{Role: "user", Content: text}}}
}

func orderMachine() fsm.StateMachine {
	return fsm.StateMachine{
		States: []fsm.State{
			{Name: "greeting", Scenario: "the conversation starts", Instruction: "greet the user", NextStates: []string{"order"}},
			{Name: "order", Scenario: "the user wants to order", Instruction: "take the order", NextStates: []string{"payment"}},
			{Name: "payment", Scenario: "the order is placed", Instruction: "collect payment"},
		},
	}
}

func TestChat_GreetingWithoutStateMachine(t *testing.T) {
	stub := &stubLLM{
		structured: []structuredReply{{value: newState{Name: "greet", Scenario: "opening", Instruction: "say hello"}}},
		tools:      []toolsReply{replyCall("Hello! How can I help?")},
	}
	o := newTestOrchestrator(stub, nil)

	result, err := o.Chat(context.Background(), &TurnRequest{
		Setting:     testSetting(),
		Memory:      &memory.Memory{},
		UserMessage: userSays("Hello"),
	})
	require.NoError(t, err)

	assert.Equal(t, ResultSuccess, result.ResultType)
	assert.Equal(t, "Hello! How can I help?", result.Response)
	assert.Equal(t, 2, result.LLMCallingTimes)
	assert.Equal(t, 20, result.InputTokens)
	assert.Equal(t, 10, result.OutputTokens)

	require.Len(t, result.Memory.Steps, 2)
	last := result.Memory.Steps[1]
	assert.True(t, last.IsReply())
	assert.Equal(t, "greet", last.StateName)
	require.Len(t, result.NewSteps, 1)
}

func TestChat_StateMachineTransition(t *testing.T) {
	stub := &stubLLM{
		structured: []structuredReply{{value: stateChoice{StateName: "order", Reason: "the user wants to buy"}}},
		tools:      []toolsReply{replyCall("What would you like to order?")},
	}
	o := newTestOrchestrator(stub, nil)

	mem := &memory.Memory{}
	mem.Append(memory.NewUserStep("Hi"))
	mem.Append(memory.Step{
		Role:      "assistant",
		Action:    &memory.Action{Name: memory.SendMessageActionName, Arguments: map[string]any{"agent_message": "Welcome!"}},
		Result:    &memory.Result{Content: "Welcome!", ExecState: memory.ExecSuccess},
		StateName: "greeting",
	})

	setting := testSetting()
	setting.StateMachine = orderMachine()

	result, err := o.Chat(context.Background(), &TurnRequest{
		Setting:     setting,
		Memory:      mem,
		UserMessage: userSays("I want to order a pizza"),
	})
	require.NoError(t, err)

	assert.Equal(t, ResultSuccess, result.ResultType)
	assert.Equal(t, 2, result.LLMCallingTimes)
	last := result.Memory.Steps[len(result.Memory.Steps)-1]
	assert.True(t, last.IsReply())
	assert.Equal(t, "order", last.StateName)

	// The candidate list offered to the model comes from the transition
	// table of the current state.
	require.Len(t, stub.structuredSeen, 1)
	prompt := stub.structuredSeen[0].messages[1].Content
	assert.Contains(t, prompt, "name: order")
	assert.NotContains(t, prompt, "name: payment")
}

func TestChat_ToolCallThenReply(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Paris", r.URL.Query().Get("city"))
		w.Write([]byte(`{"weather": "sunny"}`))
	}))
	defer api.Close()

	// One LLM response carries the tool call and the reply together.
	stub := &stubLLM{
		structured: []structuredReply{{value: newState{Name: "lookup", Instruction: "fetch and report the weather"}}},
		tools: []toolsReply{
			{msg: &llm.AssistantMessage{ToolCalls: []llm.ToolCall{
				{ID: "call_w", Name: "get_weather", Args: map[string]any{"city": "Paris"}},
				{ID: "call_r", Name: memory.SendMessageActionName, Args: map[string]any{"agent_message": "It is sunny in Paris."}},
			}}},
		},
	}
	o := newTestOrchestrator(stub, nil)

	result, err := o.Chat(context.Background(), &TurnRequest{
		Setting:     testSetting(),
		Memory:      &memory.Memory{},
		UserMessage: userSays("What's the weather in Paris?"),
		RequestTools: []*tool.RequestTool{{
			ToolName: "get_weather",
			Method:   http.MethodGet,
			URL:      api.URL,
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, ResultSuccess, result.ResultType)
	assert.Equal(t, 2, result.LLMCallingTimes)

	steps := result.Memory.Steps
	require.Len(t, steps, 3)
	toolStep := steps[1]
	assert.Equal(t, "get_weather", toolStep.Action.Name)
	assert.Equal(t, memory.ExecSuccess, toolStep.Result.ExecState)
	assert.Contains(t, toolStep.Result.Content, "sunny")
	assert.True(t, steps[2].IsReply())
	assert.Greater(t, steps[2].CreatedAt, toolStep.CreatedAt)
}

func TestChat_BudgetExceededAppendsApology(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer api.Close()

	// The model keeps calling the tool and never replies.
	stub := &stubLLM{
		structured: []structuredReply{{value: newState{Name: "loop", Instruction: "keep going"}}},
		tools: []toolsReply{{msg: &llm.AssistantMessage{ToolCalls: []llm.ToolCall{
			{ID: "call_x", Name: "poll", Args: map[string]any{}},
		}}}},
	}
	o := newTestOrchestrator(stub, nil)

	setting := testSetting()
	setting.MaxLLMCalls = 3

	result, err := o.Chat(context.Background(), &TurnRequest{
		Setting:      setting,
		Memory:       &memory.Memory{},
		UserMessage:  userSays("Do the thing"),
		RequestTools: []*tool.RequestTool{{ToolName: "poll", Method: http.MethodGet, URL: api.URL}},
	})
	require.NoError(t, err)

	assert.Equal(t, ResultBudgetExceeded, result.ResultType)
	assert.Equal(t, apologyMessage, result.Response)
	last := result.Memory.Steps[len(result.Memory.Steps)-1]
	assert.True(t, last.IsReply())
	assert.Equal(t, apologyMessage, last.Result.Content)
	assert.GreaterOrEqual(t, result.LLMCallingTimes, setting.MaxLLMCalls)
}

func TestChat_FeedbackExamplesReachThePrompt(t *testing.T) {
	stub := &stubLLM{
		structured: []structuredReply{{value: newState{Name: "greet", Instruction: "say hello"}}},
		tools:      []toolsReply{replyCall("Hello!")},
	}
	feedbacks := []feedback.Feedback{{
		Observation: feedback.Part{Name: "user_message", Content: "Hi there"},
		Action:      feedback.Part{Name: memory.SendMessageActionName, Content: `{"agent_message": "Hello!"}`},
	}}
	o := newTestOrchestrator(stub, feedbacks)

	_, err := o.Chat(context.Background(), &TurnRequest{
		Setting:     testSetting(),
		Memory:      &memory.Memory{},
		UserMessage: userSays("Hi"),
	})
	require.NoError(t, err)

	require.Len(t, stub.toolsSeen, 1)
	prompt := stub.toolsSeen[0].messages[1].Content
	assert.Contains(t, prompt, "**MUST** follow examples")
	assert.Contains(t, prompt, "Hi there")
	assert.Contains(t, prompt, memory.SendMessageActionName)
}

func TestChat_InvalidStateRecoversWithOneReAsk(t *testing.T) {
	stub := &stubLLM{
		structured: []structuredReply{
			{value: stateChoice{StateName: "ghost", Reason: "n/a"}},
			{value: stateChoice{StateName: "still-ghost", Reason: "n/a"}},
		},
		tools: []toolsReply{replyCall("Hello!")},
	}
	o := newTestOrchestrator(stub, nil)

	setting := testSetting()
	setting.StateMachine = orderMachine()

	mem := &memory.Memory{}
	mem.Append(memory.Step{
		Role:      "assistant",
		Action:    &memory.Action{Name: memory.SendMessageActionName},
		Result:    &memory.Result{ExecState: memory.ExecSuccess},
		StateName: "greeting",
	})

	result, err := o.Chat(context.Background(), &TurnRequest{
		Setting:     setting,
		Memory:      mem,
		UserMessage: userSays("hm"),
	})
	require.NoError(t, err)

	// Exactly one corrective re-ask, then the first candidate wins.
	require.Len(t, stub.structuredSeen, 2)
	retry := stub.structuredSeen[1].messages
	assert.Contains(t, retry[len(retry)-1].Content, "must be one of")

	last := result.Memory.Steps[len(result.Memory.Steps)-1]
	assert.True(t, last.IsReply())
	assert.Equal(t, "order", last.StateName)
}

func TestChat_ProviderErrorYieldsErrorResult(t *testing.T) {
	stub := &stubLLM{
		structured: []structuredReply{{err: &llm.AuthError{Message: "bad key"}}},
	}
	o := newTestOrchestrator(stub, nil)

	result, err := o.Chat(context.Background(), &TurnRequest{
		Setting:     testSetting(),
		Memory:      &memory.Memory{},
		UserMessage: userSays("Hello"),
	})
	require.NoError(t, err)

	assert.Equal(t, ResultError, result.ResultType)
	last := result.Memory.Steps[len(result.Memory.Steps)-1]
	assert.Equal(t, memory.SendMessageActionName, last.Action.Name)
	assert.Equal(t, memory.ExecFailed, last.Result.ExecState)
	assert.Contains(t, last.Result.Error, "bad key")
}

func TestChat_InvalidSettingIsAConfigError(t *testing.T) {
	o := newTestOrchestrator(&stubLLM{}, nil)

	_, err := o.Chat(context.Background(), &TurnRequest{
		Setting:     &config.Setting{},
		Memory:      &memory.Memory{},
		UserMessage: userSays("Hello"),
	})
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "agent_name", cfgErr.Field)
}

func TestChat_InvalidRequestToolIsAConfigError(t *testing.T) {
	o := newTestOrchestrator(&stubLLM{}, nil)

	_, err := o.Chat(context.Background(), &TurnRequest{
		Setting:      testSetting(),
		Memory:       &memory.Memory{},
		UserMessage:  userSays("Hello"),
		RequestTools: []*tool.RequestTool{{ToolName: "broken", Method: "TRACE", URL: "http://x"}},
	})
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "tools", cfgErr.Field)
}

func TestChat_RecallAndEditPreconditions(t *testing.T) {
	stub := &stubLLM{
		structured: []structuredReply{{value: newState{Name: "greet", Instruction: "say hello"}}},
		tools:      []toolsReply{replyCall("Fresh answer")},
	}
	o := newTestOrchestrator(stub, nil)

	mem := &memory.Memory{}
	mem.Append(memory.NewUserStep("first question"))
	mem.Append(memory.Step{
		Role:   "assistant",
		Action: &memory.Action{Name: memory.SendMessageActionName, Arguments: map[string]any{"agent_message": "old answer"}},
		Result: &memory.Result{Content: "old answer", ExecState: memory.ExecSuccess},
	})
	mem.Append(memory.NewUserStep("retracted question"))
	mem.Append(memory.Step{
		Role:   "assistant",
		Action: &memory.Action{Name: memory.SendMessageActionName, Arguments: map[string]any{"agent_message": "stale reply"}},
		Result: &memory.Result{Content: "stale reply", ExecState: memory.ExecSuccess},
	})

	result, err := o.Chat(context.Background(), &TurnRequest{
		Setting:               testSetting(),
		Memory:                mem,
		UserMessage:           userSays("second question"),
		RecallLastUserMessage: true,
		EditedLastResponse:    "edited answer",
	})
	require.NoError(t, err)

	steps := result.Memory.Steps
	require.Len(t, steps, 4)
	assert.Equal(t, "first question", steps[0].Result.Content)
	assert.Equal(t, "edited answer", steps[1].Result.Content)
	assert.Equal(t, "second question", steps[2].Result.Content)
	assert.Equal(t, "Fresh answer", steps[3].Result.Content)
}

func TestChat_ActionsAfterFirstReplyAreCut(t *testing.T) {
	stub := &stubLLM{
		structured: []structuredReply{{value: newState{Name: "greet", Instruction: "say hello"}}},
		tools: []toolsReply{{msg: &llm.AssistantMessage{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: memory.SendMessageActionName, Args: map[string]any{"agent_message": "Done"}},
			{ID: "c2", Name: "never_runs", Args: map[string]any{}},
		}}}},
	}
	o := newTestOrchestrator(stub, nil)

	result, err := o.Chat(context.Background(), &TurnRequest{
		Setting:     testSetting(),
		Memory:      &memory.Memory{},
		UserMessage: userSays("Hello"),
	})
	require.NoError(t, err)

	require.Len(t, result.Memory.Steps, 2)
	assert.True(t, result.Memory.Steps[1].IsReply())
}

func TestChat_TextualContentBecomesReply(t *testing.T) {
	stub := &stubLLM{
		structured: []structuredReply{{value: newState{Name: "greet", Instruction: "say hello"}}},
		tools:      []toolsReply{{msg: &llm.AssistantMessage{Content: "Plain text answer"}}},
	}
	o := newTestOrchestrator(stub, nil)

	result, err := o.Chat(context.Background(), &TurnRequest{
		Setting:     testSetting(),
		Memory:      &memory.Memory{},
		UserMessage: userSays("Hello"),
	})
	require.NoError(t, err)

	assert.Equal(t, ResultSuccess, result.ResultType)
	assert.Equal(t, "Plain text answer", result.Response)
	last := result.Memory.Steps[len(result.Memory.Steps)-1]
	assert.True(t, last.IsReply())
	assert.Equal(t, "Plain text answer", last.Action.Arguments["agent_message"])
}

func TestChat_DuplicateRepliesAreDeduped(t *testing.T) {
	stub := &stubLLM{
		structured: []structuredReply{{value: newState{Name: "greet", Instruction: "say hello"}}},
		tools:      []toolsReply{replyCall("same thing")},
	}
	o := newTestOrchestrator(stub, nil)

	mem := &memory.Memory{}
	mem.Append(memory.Step{
		Role:   "assistant",
		Action: &memory.Action{Name: memory.SendMessageActionName, Arguments: map[string]any{"agent_message": "same thing"}},
		Result: &memory.Result{Content: "same thing", ExecState: memory.ExecSuccess},
	})

	result, err := o.Chat(context.Background(), &TurnRequest{
		Setting:     testSetting(),
		Memory:      mem,
		UserMessage: userSays(""),
	})
	require.NoError(t, err)

	// The empty user message is dropped and the two identical replies
	// collapse into one.
	require.Len(t, result.Memory.Steps, 1)
	assert.True(t, result.Memory.Steps[0].IsReply())
}

func TestChat_ConcurrentTurnsKeepSeparateTokenTotals(t *testing.T) {
	registry := tokens.NewRegistry()
	o := New(registry,
		WithLLMFactory(func(_ *config.Setting, sessionID string) LLM {
			return &stubLLM{
				reg:        registry,
				sid:        sessionID,
				structured: []structuredReply{{value: newState{Name: "greet", Instruction: "say hello"}}},
				tools:      []toolsReply{replyCall("ok")},
			}
		}),
		WithRetrieverFactory(func(_ *config.Setting) Retriever { return nil }),
	)

	var wg sync.WaitGroup
	results := make([]*TurnResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := o.Chat(context.Background(), &TurnRequest{
				Setting:     testSetting(),
				Memory:      &memory.Memory{},
				UserMessage: userSays("Hello"),
			})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, 2, res.LLMCallingTimes)
		assert.Equal(t, 20, res.InputTokens)
		assert.Equal(t, 10, res.OutputTokens)
	}
	// Every turn's session entry is released when the turn ends.
	assert.Equal(t, 0, registry.Len())
}
