// Package llm is a thin gateway over an OpenAI-compatible chat-completions
// endpoint. It exposes a plain ask, a tool-calling ask, and a
// structured-output ask, and records token usage for every call under the
// session id the gateway was constructed with.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/convoloop/convoloop/pkg/httpclient"
	"github.com/convoloop/convoloop/pkg/tokens"
)

const (
	defaultTimeout             = 60 * time.Second
	defaultMaxCompletionTokens = 1024
	rateLimitMaxRetries        = 2
)

// Config holds the chat-model coordinates for one turn.
type Config struct {
	BaseURL             string
	APIKey              string
	Model               string
	Temperature         float64
	TopP                float64
	MaxCompletionTokens int
	Timeout             time.Duration
}

// Client is a per-turn LLM gateway. Construct one per turn so that model
// coordinates never leak across concurrent turns.
type Client struct {
	config     Config
	sessionID  string
	registry   *tokens.Registry
	httpClient *httpclient.Client
}

// New builds a gateway bound to sessionID. Every call records usage in
// registry under that id.
func New(cfg Config, sessionID string, registry *tokens.Registry) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxCompletionTokens <= 0 {
		cfg.MaxCompletionTokens = defaultMaxCompletionTokens
	}

	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(rateLimitMaxRetries),
		httpclient.WithBaseDelay(time.Second),
	)

	return &Client{
		config:     cfg,
		sessionID:  sessionID,
		registry:   registry,
		httpClient: hc,
	}
}

// SessionID returns the session id bound at construction.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Ask performs a plain completion: system prompt, optional history, then the
// user prompt.
func (c *Client) Ask(ctx context.Context, system, user string, history []Message) (string, error) {
	messages := make([]Message, 0, len(history)+2)
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: user})

	resp, err := c.complete(ctx, request{
		Model:               c.config.Model,
		Messages:            messages,
		MaxCompletionTokens: c.config.MaxCompletionTokens,
		Temperature:         c.config.Temperature,
		TopP:                c.config.TopP,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", &BadResponseError{Message: "no choices returned"}
	}
	return resp.Choices[0].Message.Content, nil
}

// AskWithTools requests the model to emit tool calls. The returned message
// carries the raw textual content and the parsed tool-call list in emission
// order.
func (c *Client) AskWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (*AssistantMessage, error) {
	resp, err := c.complete(ctx, request{
		Model:               c.config.Model,
		Messages:            messages,
		MaxCompletionTokens: c.config.MaxCompletionTokens,
		Temperature:         c.config.Temperature,
		TopP:                c.config.TopP,
		Tools:               convertTools(tools),
		ToolChoice:          "auto",
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, &BadResponseError{Message: "no choices returned"}
	}

	msg := resp.Choices[0].Message
	calls, err := parseToolCalls(msg.ToolCalls)
	if err != nil {
		return nil, &BadResponseError{Message: err.Error()}
	}

	return &AssistantMessage{
		Content:   msg.Content,
		ToolCalls: calls,
	}, nil
}

// AskStructured requests JSON output conforming to schema and decodes it into
// out. A single repair round-trip is attempted before giving up with
// BadResponseError.
func (c *Client) AskStructured(ctx context.Context, messages []Message, schemaName string, schema map[string]any, out any) error {
	req := request{
		Model:               c.config.Model,
		Messages:            messages,
		MaxCompletionTokens: c.config.MaxCompletionTokens,
		Temperature:         c.config.Temperature,
		TopP:                c.config.TopP,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaSpec{
				Name:   schemaName,
				Schema: schema,
				Strict: true,
			},
		},
	}

	content, err := c.completeContent(ctx, req)
	if err != nil {
		return err
	}

	if jsonErr := json.Unmarshal([]byte(content), out); jsonErr == nil {
		return nil
	}

	slog.Warn("structured output parse failed, issuing repair request",
		"schema", schemaName, "session", c.sessionID)

	repair := req
	repair.Messages = append(append([]Message{}, messages...),
		Message{Role: "assistant", Content: content},
		Message{Role: "user", Content: "The previous reply was not valid JSON for the requested schema. Respond again with a single valid JSON object and nothing else."},
	)

	content, err = c.completeContent(ctx, repair)
	if err != nil {
		return err
	}
	if jsonErr := json.Unmarshal([]byte(content), out); jsonErr != nil {
		return &BadResponseError{Message: fmt.Sprintf("structured output is not valid JSON after repair: %v", jsonErr)}
	}
	return nil
}

func (c *Client) completeContent(ctx context.Context, req request) (string, error) {
	resp, err := c.complete(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &BadResponseError{Message: "no choices returned"}
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) complete(ctx context.Context, reqBody request) (*response, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if apiErr := parseErrorBody(body); apiErr != nil {
			msg = apiErr.Message
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, &AuthError{Message: msg}
		case http.StatusTooManyRequests:
			return nil, &RateLimitError{Message: msg}
		default:
			return nil, &BadResponseError{Message: fmt.Sprintf("status %d: %s", resp.StatusCode, msg)}
		}
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &BadResponseError{Message: fmt.Sprintf("failed to unmarshal response: %v", err)}
	}
	if parsed.Error != nil {
		return nil, &BadResponseError{Message: parsed.Error.Message}
	}

	c.registry.Add(c.sessionID, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)

	return &parsed, nil
}

func parseErrorBody(body []byte) *apiError {
	if len(body) == 0 {
		return nil
	}
	var wrapper struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		return &wrapper.Error
	}
	return nil
}
