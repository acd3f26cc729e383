package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OrderAndLookup(t *testing.T) {
	weather := &RequestTool{ToolName: "weather", Method: "GET", URL: "http://example.com"}
	r := NewRegistry(NewSendMessage(), weather)

	got, ok := r.Lookup("weather")
	require.True(t, ok)
	assert.Equal(t, weather, got)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	descriptors := r.Descriptors()
	require.Len(t, descriptors, 2)
	assert.Equal(t, "send_message_to_user", descriptors[0].Name)
	assert.Equal(t, "weather", descriptors[1].Name)
}

func TestSendMessage_Descriptor(t *testing.T) {
	d := NewSendMessage().Descriptor()

	assert.Equal(t, "send_message_to_user", d.Name)
	assert.Equal(t, "Send a message to the user.", d.Description)

	properties := d.Parameters["properties"].(map[string]any)
	agentMessage := properties["agent_message"].(map[string]any)
	assert.Equal(t, "string", agentMessage["type"])
	assert.Contains(t, agentMessage["description"], "passively waiting")

	required, ok := d.Parameters["required"].([]any)
	require.True(t, ok)
	assert.Contains(t, required, "agent_message")
}

func TestSendMessage_Execute(t *testing.T) {
	s := NewSendMessage()

	content, err := s.Execute(context.Background(), map[string]any{"agent_message": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", content)

	// Passive wait: missing or empty argument yields an empty message.
	content, err = s.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, content)
}
