// Package config carries the per-request Setting and the server's own
// configuration. Both follow the same pipeline: decode, SetDefaults,
// Validate.
package config

import (
	"fmt"

	"github.com/convoloop/convoloop/pkg/fsm"
)

// History window units.
const (
	HistoryUnitSteps  = "steps"
	HistoryUnitTokens = "tokens"
)

// Setting is the per-request agent configuration. It is immutable during a
// turn.
type Setting struct {
	AgentName string `json:"agent_name"`
	APIKey    string `json:"api_key"`

	ChatModel   string   `json:"chat_model,omitempty"`
	BaseURL     string   `json:"base_url,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	EmbeddingAPIKey    string `json:"embedding_api_key,omitempty"`
	EmbeddingModel     string `json:"embedding_model,omitempty"`
	EmbeddingBaseURL   string `json:"embedding_base_url,omitempty"`
	EmbeddingVectorDim int    `json:"embedding_vector_dim,omitempty"`

	TopK        int    `json:"top_k"`
	VectorDBURL string `json:"vector_db_url,omitempty"`

	GlobalPrompt   string `json:"global_prompt,omitempty"`
	MaxHistoryLen  int    `json:"max_history_len,omitempty"`
	MaxHistoryUnit string `json:"max_history_unit,omitempty"`
	MaxLLMCalls    int    `json:"max_llm_calls,omitempty"`

	StateMachine fsm.StateMachine `json:"state_machine,omitempty"`
}

// SetDefaults fills the zero-valued fields.
func (s *Setting) SetDefaults() {
	if s.ChatModel == "" {
		s.ChatModel = "gpt-4o-mini"
	}
	if s.BaseURL == "" {
		s.BaseURL = "https://api.openai.com/v1"
	}
	if s.TopP == nil {
		v := 1.0
		s.TopP = &v
	}
	if s.Temperature == nil {
		v := 1.0
		s.Temperature = &v
	}
	if s.EmbeddingModel == "" {
		s.EmbeddingModel = "text-embedding-3-large"
	}
	if s.EmbeddingBaseURL == "" {
		s.EmbeddingBaseURL = "https://api.openai.com/v1"
	}
	if s.EmbeddingVectorDim == 0 {
		s.EmbeddingVectorDim = 1024
	}
	if s.TopK == 0 {
		s.TopK = 5
	}
	if s.MaxHistoryLen == 0 {
		s.MaxHistoryLen = 128
	}
	if s.MaxHistoryUnit == "" {
		s.MaxHistoryUnit = HistoryUnitSteps
	}
	if s.MaxLLMCalls == 0 {
		s.MaxLLMCalls = 8
	}
}

// Validate rejects settings that would make the turn unrunnable.
func (s *Setting) Validate() error {
	if s.AgentName == "" {
		return errField("agent_name", "must not be empty")
	}
	if s.APIKey == "" {
		return errField("api_key", "must not be empty")
	}
	if s.EmbeddingVectorDim < 1 {
		return errField("embedding_vector_dim", "must be a positive integer")
	}
	if s.TopK < 0 {
		return errField("top_k", "must not be negative")
	}
	if s.MaxHistoryUnit != HistoryUnitSteps && s.MaxHistoryUnit != HistoryUnitTokens {
		return errField("max_history_unit", fmt.Sprintf("must be %q or %q", HistoryUnitSteps, HistoryUnitTokens))
	}
	if s.MaxLLMCalls < 1 {
		return errField("max_llm_calls", "must be at least 1")
	}
	if err := s.StateMachine.Validate(); err != nil {
		return errField("state_machine", err.Error())
	}
	return nil
}

// FeedbackEnabled reports whether a vector store was configured.
func (s *Setting) FeedbackEnabled() bool {
	return s.VectorDBURL != ""
}
