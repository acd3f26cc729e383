package memory

import (
	"encoding/json"
	"fmt"
)

// ChatMessage is one ChatML element of an incoming user message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
}

// UserMessage accepts either a bare string or a ChatML array on the wire.
// A bare string normalizes to a single user-role element, so downstream
// code only ever sees one shape.
type UserMessage struct {
	Messages []ChatMessage
}

func (u *UserMessage) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		u.Messages = []ChatMessage{{Role: "user", Content: s}}
		return nil
	}

	var messages []ChatMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return fmt.Errorf("user_message must be a string or a ChatML array: %w", err)
	}
	for _, msg := range messages {
		if !validRoles[msg.Role] {
			return fmt.Errorf("unsupported ChatML role %q", msg.Role)
		}
	}
	u.Messages = messages
	return nil
}

func (u UserMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Messages)
}

// Text flattens the message sequence into a single prompt text. A single
// user element returns its content unchanged; mixed-role sequences are
// prefixed per line.
func (u UserMessage) Text() string {
	if len(u.Messages) == 1 && u.Messages[0].Role == "user" {
		return u.Messages[0].Content
	}
	var out string
	for i, msg := range u.Messages {
		if i > 0 {
			out += "\n"
		}
		out += msg.Role + ": " + msg.Content
	}
	return out
}

// Empty reports whether there is no content at all.
func (u UserMessage) Empty() bool {
	for _, msg := range u.Messages {
		if msg.Content != "" {
			return false
		}
	}
	return true
}
