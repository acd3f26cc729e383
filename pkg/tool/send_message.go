package tool

import (
	"context"
	"fmt"

	"github.com/convoloop/convoloop/pkg/memory"
)

type sendMessageArgs struct {
	AgentMessage string `json:"agent_message" jsonschema:"required,description=The message to send to the user. Can be an empty string if you are passively waiting."`
}

// SendMessage is the built-in action that emits a user-visible reply and
// ends the turn.
type SendMessage struct {
	parameters map[string]any
}

func NewSendMessage() *SendMessage {
	parameters, err := generateSchema[sendMessageArgs]()
	if err != nil {
		// The schema is derived from a fixed struct; failure is a programming error.
		panic(fmt.Sprintf("send_message_to_user schema: %v", err))
	}
	return &SendMessage{parameters: parameters}
}

func (s *SendMessage) Name() string {
	return memory.SendMessageActionName
}

func (s *SendMessage) Descriptor() Descriptor {
	return Descriptor{
		Name:        memory.SendMessageActionName,
		Description: "Send a message to the user.",
		Parameters:  s.parameters,
	}
}

func (s *SendMessage) Execute(_ context.Context, args map[string]any) (string, error) {
	msg, _ := args["agent_message"].(string)
	return msg, nil
}
