// Package memory holds the conversation state: an ordered sequence of Steps,
// each a user observation or an assistant action plus its execution result.
package memory

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// SendMessageActionName is the built-in action that emits a user-visible
// reply. Memory needs the name for deduplication and last-response edits.
const SendMessageActionName = "send_message_to_user"

// ExecState is the lifecycle of one action's execution.
type ExecState string

const (
	ExecPending ExecState = "pending"
	ExecRunning ExecState = "running"
	ExecSuccess ExecState = "success"
	ExecFailed  ExecState = "failed"
	ExecSkipped ExecState = "skipped"
)

// Action is the selected action of an assistant step.
type Action struct {
	Name       string         `json:"name" yaml:"name"`
	Arguments  map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty" yaml:"tool_call_id,omitempty"`
}

// Result is the outcome of an action, or the content of a user observation.
type Result struct {
	Content   string    `json:"content,omitempty" yaml:"content,omitempty"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	ExecState ExecState `json:"exec_state" yaml:"exec_state"`
}

// Step is one element of conversation memory.
type Step struct {
	Role      string  `json:"role" yaml:"role"`
	Action    *Action `json:"action,omitempty" yaml:"action,omitempty"`
	Result    *Result `json:"result,omitempty" yaml:"result,omitempty"`
	StateName string  `json:"state_name,omitempty" yaml:"state_name,omitempty"`
	CreatedAt int64   `json:"created_at" yaml:"created_at"`
	Timestamp string  `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// IsReply reports whether the step is a successful user-visible reply.
func (s *Step) IsReply() bool {
	return s.Role == "assistant" &&
		s.Action != nil && s.Action.Name == SendMessageActionName &&
		s.Result != nil && s.Result.ExecState == ExecSuccess
}

// Memory is the ordered conversation history. It is created by the caller
// and mutated only by the orchestrator within a single turn.
type Memory struct {
	Steps []Step `json:"steps" yaml:"steps"`
}

// NewUserStep builds a user observation step. The content rides in the
// result so every step carries its text the same way.
func NewUserStep(content string) Step {
	return Step{
		Role:   "user",
		Result: &Result{Content: content, ExecState: ExecSuccess},
	}
}

// Append adds a step, stamping the next monotonic ordinal and the wall-clock
// timestamp.
func (m *Memory) Append(step Step) {
	step.CreatedAt = m.nextOrdinal()
	if step.Timestamp == "" {
		step.Timestamp = time.Now().Format(time.RFC3339)
	}
	m.Steps = append(m.Steps, step)
}

func (m *Memory) nextOrdinal() int64 {
	var max int64
	for i := range m.Steps {
		if m.Steps[i].CreatedAt > max {
			max = m.Steps[i].CreatedAt
		}
	}
	return max + 1
}

// LastStateName returns the state of the most recent assistant step, or "".
func (m *Memory) LastStateName() string {
	for i := len(m.Steps) - 1; i >= 0; i-- {
		if m.Steps[i].Role == "assistant" {
			return m.Steps[i].StateName
		}
	}
	return ""
}

// LastUserContent returns the content of the most recent user step, or "".
func (m *Memory) LastUserContent() string {
	for i := len(m.Steps) - 1; i >= 0; i-- {
		if m.Steps[i].Role == "user" && m.Steps[i].Result != nil {
			return m.Steps[i].Result.Content
		}
	}
	return ""
}

// RecallLastUserMessage drops the trailing user step and every assistant
// step that followed it. No-op when no user step exists.
func (m *Memory) RecallLastUserMessage() {
	for i := len(m.Steps) - 1; i >= 0; i-- {
		if m.Steps[i].Role == "user" {
			m.Steps = m.Steps[:i]
			return
		}
	}
}

// EditLastResponse overwrites the content of the most recent user-visible
// reply. Returns false when no such step exists.
func (m *Memory) EditLastResponse(content string) bool {
	for i := len(m.Steps) - 1; i >= 0; i-- {
		s := &m.Steps[i]
		if s.Role == "assistant" && s.Action != nil && s.Action.Name == SendMessageActionName {
			if s.Result == nil {
				s.Result = &Result{ExecState: ExecSuccess}
			}
			s.Result.Content = content
			if s.Action.Arguments == nil {
				s.Action.Arguments = map[string]any{}
			}
			s.Action.Arguments["agent_message"] = content
			return true
		}
	}
	return false
}

// Dedup collapses each run of consecutive user-visible replies with
// identical content down to its last occurrence.
func (m *Memory) Dedup() {
	if len(m.Steps) < 2 {
		return
	}

	kept := make([]Step, 0, len(m.Steps))
	for _, step := range m.Steps {
		if len(kept) > 0 {
			prev := &kept[len(kept)-1]
			if step.IsReply() && prev.IsReply() && prev.Result.Content == step.Result.Content {
				kept[len(kept)-1] = step
				continue
			}
		}
		kept = append(kept, step)
	}
	m.Steps = kept
}

// Window returns the last maxLen steps. maxLen <= 0 means no truncation.
func (m *Memory) Window(maxLen int) []Step {
	if maxLen <= 0 || len(m.Steps) <= maxLen {
		return m.Steps
	}
	return m.Steps[len(m.Steps)-maxLen:]
}

// RenderHistory renders the last maxLen steps as YAML for prompt inclusion.
// Timestamps carry a relative age so the model can reason about pacing.
func (m *Memory) RenderHistory(maxLen int) string {
	steps := m.Window(maxLen)
	if len(steps) == 0 {
		return ""
	}

	type renderedStep struct {
		Step      int     `yaml:"step"`
		Role      string  `yaml:"role"`
		StateName string  `yaml:"state_name,omitempty"`
		Action    *Action `yaml:"action,omitempty"`
		Content   string  `yaml:"content,omitempty"`
		Error     string  `yaml:"error,omitempty"`
		Timestamp string  `yaml:"timestamp,omitempty"`
	}

	rendered := make([]renderedStep, 0, len(steps))
	for i, step := range steps {
		r := renderedStep{
			Step:      i,
			Role:      step.Role,
			StateName: step.StateName,
			Action:    step.Action,
			Timestamp: relativeTime(step.Timestamp),
		}
		if step.Result != nil {
			r.Content = step.Result.Content
			r.Error = step.Result.Error
		}
		rendered = append(rendered, r)
	}

	out, err := yaml.Marshal(rendered)
	if err != nil {
		return ""
	}
	return string(out)
}

// relativeTime formats an RFC3339 timestamp as absolute time plus a
// human-readable age.
func relativeTime(ts string) string {
	if ts == "" {
		return ""
	}
	past, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}

	delta := time.Since(past)
	var rel string
	switch {
	case delta < time.Minute:
		rel = fmt.Sprintf("%d seconds ago", int(delta.Seconds()))
	case delta < 2*time.Minute:
		rel = "a minute ago"
	case delta < time.Hour:
		rel = fmt.Sprintf("%d minutes ago", int(delta.Minutes()))
	case delta < 2*time.Hour:
		rel = "an hour ago"
	case delta < 24*time.Hour:
		rel = fmt.Sprintf("%d hours ago", int(delta.Hours()))
	case delta < 48*time.Hour:
		rel = "yesterday"
	default:
		rel = fmt.Sprintf("%d days ago", int(delta.Hours()/24))
	}
	return fmt.Sprintf("%s (%s)", past.Format("2006-01-02 15:04:05 -0700"), rel)
}
