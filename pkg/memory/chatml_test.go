package memory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserMessage_StringNormalizesToChatML(t *testing.T) {
	var u UserMessage
	require.NoError(t, json.Unmarshal([]byte(`"hello"`), &u))

	require.Len(t, u.Messages, 1)
	assert.Equal(t, "user", u.Messages[0].Role)
	assert.Equal(t, "hello", u.Messages[0].Content)
	assert.Equal(t, "hello", u.Text())
}

func TestUserMessage_ChatMLArray(t *testing.T) {
	var u UserMessage
	raw := `[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &u))

	require.Len(t, u.Messages, 2)
	assert.Equal(t, "system: be brief\nuser: hi", u.Text())
}

func TestUserMessage_RejectsUnknownRole(t *testing.T) {
	var u UserMessage
	err := json.Unmarshal([]byte(`[{"role":"tool","content":"x"}]`), &u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported ChatML role "tool"`)
}

func TestUserMessage_Empty(t *testing.T) {
	var u UserMessage
	require.NoError(t, json.Unmarshal([]byte(`""`), &u))
	assert.True(t, u.Empty())

	require.NoError(t, json.Unmarshal([]byte(`"x"`), &u))
	assert.False(t, u.Empty())
}
