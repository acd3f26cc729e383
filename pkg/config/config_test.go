package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoloop/convoloop/pkg/fsm"
)

func validSetting() *Setting {
	s := &Setting{AgentName: "support", APIKey: "sk-test"}
	s.SetDefaults()
	return s
}

func TestSetting_Defaults(t *testing.T) {
	s := validSetting()

	assert.Equal(t, "gpt-4o-mini", s.ChatModel)
	assert.Equal(t, "https://api.openai.com/v1", s.BaseURL)
	assert.Equal(t, 1.0, *s.Temperature)
	assert.Equal(t, 1.0, *s.TopP)
	assert.Equal(t, "text-embedding-3-large", s.EmbeddingModel)
	assert.Equal(t, 1024, s.EmbeddingVectorDim)
	assert.Equal(t, 5, s.TopK)
	assert.Equal(t, 128, s.MaxHistoryLen)
	assert.Equal(t, HistoryUnitSteps, s.MaxHistoryUnit)
	assert.Equal(t, 8, s.MaxLLMCalls)
}

func TestSetting_DefaultsKeepExplicitZeroes(t *testing.T) {
	zero := 0.0
	s := &Setting{AgentName: "a", APIKey: "k", Temperature: &zero}
	s.SetDefaults()

	assert.Equal(t, 0.0, *s.Temperature)
	assert.Equal(t, 1.0, *s.TopP)
}

func TestSetting_Validate(t *testing.T) {
	require.NoError(t, validSetting().Validate())

	cases := []struct {
		name   string
		mutate func(*Setting)
		field  string
	}{
		{"empty agent name", func(s *Setting) { s.AgentName = "" }, "agent_name"},
		{"empty api key", func(s *Setting) { s.APIKey = "" }, "api_key"},
		{"bad vector dim", func(s *Setting) { s.EmbeddingVectorDim = -1 }, "embedding_vector_dim"},
		{"negative top_k", func(s *Setting) { s.TopK = -1 }, "top_k"},
		{"bad history unit", func(s *Setting) { s.MaxHistoryUnit = "bytes" }, "max_history_unit"},
		{"zero budget", func(s *Setting) { s.MaxLLMCalls = -2 }, "max_llm_calls"},
		{"broken fsm", func(s *Setting) {
			s.StateMachine = fsm.StateMachine{States: []fsm.State{{Name: "a", NextStates: []string{"ghost"}}}}
		}, "state_machine"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := validSetting()
			tc.mutate(s)
			err := s.Validate()
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestSetting_FeedbackEnabled(t *testing.T) {
	s := validSetting()
	assert.False(t, s.FeedbackEnabled())
	s.VectorDBURL = "http://localhost:8080"
	assert.True(t, s.FeedbackEnabled())
}

func TestServerConfig_Defaults(t *testing.T) {
	cfg, err := LoadServer("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "simple", cfg.LogFormat)
	assert.Equal(t, 10000, cfg.FeedbackListCap)
}

func TestServerConfig_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: 127.0.0.1\nport: 9000\nlog_format: verbose\n"), 0o644))

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Address())
	assert.Equal(t, "verbose", cfg.LogFormat)
}

func TestServerConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 99999\n"), 0o644))

	_, err := LoadServer(path)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "port", cfgErr.Field)

	_, err = LoadServer(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
