package llm

import "encoding/json"

// Message is one entry in a chat-completions conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolDefinition describes a callable function exposed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a parsed function call emitted by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// AssistantMessage is the raw assistant turn returned by AskWithTools:
// any textual content plus the ordered tool-call list.
type AssistantMessage struct {
	Content   string
	ToolCalls []ToolCall
}

type request struct {
	Model               string          `json:"model"`
	Messages            []Message       `json:"messages"`
	MaxCompletionTokens int             `json:"max_completion_tokens"`
	Temperature         float64         `json:"temperature"`
	TopP                float64         `json:"top_p,omitempty"`
	Tools               []tool          `json:"tools,omitempty"`
	ToolChoice          string          `json:"tool_choice,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *jsonSchemaSpec `json:"json_schema,omitempty"`
}

type jsonSchemaSpec struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

type response struct {
	Choices []choice  `json:"choices"`
	Usage   usage     `json:"usage"`
	Error   *apiError `json:"error,omitempty"`
}

type choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func convertTools(defs []ToolDefinition) []tool {
	result := make([]tool, len(defs))
	for i, d := range defs {
		result[i] = tool{
			Type: "function",
			Function: toolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		}
	}
	return result
}

func parseToolCalls(calls []toolCall) ([]ToolCall, error) {
	result := make([]ToolCall, 0, len(calls))
	for _, tc := range calls {
		args := map[string]any{}
		raw := tc.Function.Arguments
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				// Some models double-encode arguments as a JSON string.
				var nested string
				if err2 := json.Unmarshal([]byte(raw), &nested); err2 == nil {
					if err3 := json.Unmarshal([]byte(nested), &args); err3 != nil {
						args = map[string]any{}
					}
				} else {
					args = map[string]any{}
				}
			}
		}
		result = append(result, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return result, nil
}
