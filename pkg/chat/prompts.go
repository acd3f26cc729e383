package chat

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/convoloop/convoloop/pkg/feedback"
	"github.com/convoloop/convoloop/pkg/fsm"
	"github.com/convoloop/convoloop/pkg/memory"
)

const stateSelectSystemPrompt = `You are a professional state selection agent.
Your task is to analyze the conversation history, the current context, and the available examples to select the most appropriate next state.
Each step includes a timestamp and may contain a user message.
To make the best decision, consider how recently each user message was made.
The recent actions are more important than previous actions.`

const newStateSystemPrompt = `You are a professional state creation agent.
Your task is to analyze the conversation history and create the state that best describes what the assistant should do next.
Each step includes a timestamp and may contain a user message.
The recent actions are more important than previous actions.`

// actionsSystemTemplate mirrors the action-selection instruction frame: the
// caller's global prompt followed by the rendered step history.
const actionsSystemTemplate = `You are a professional agent follow the instruction as following:
%s
Now, consider the history of steps and select the next action; you **MUST** select at least one action.
Each step includes a timestamp and may contain a user message.
To make the best decision, consider how recently each user message was made.
History of steps:
%s
`

// lastAction summarizes the most recent observable step for few-shot
// matching: the latest assistant action, or the latest user message when the
// conversation has no assistant step yet.
type lastAction struct {
	Name   string `yaml:"name"`
	Result string `yaml:"result"`
}

func lastActionOf(mem *memory.Memory) lastAction {
	for i := len(mem.Steps) - 1; i >= 0; i-- {
		step := mem.Steps[i]
		if step.Role == "assistant" && step.Action != nil {
			la := lastAction{Name: step.Action.Name}
			if step.Result != nil {
				la.Result = step.Result.Content
			}
			return la
		}
	}
	return lastAction{Name: "user_message", Result: mem.LastUserContent()}
}

// renderCandidates lists the selectable states as YAML so the model sees
// name, scenario and instruction side by side.
func renderCandidates(candidates []fsm.State) string {
	type entry struct {
		Name        string `yaml:"name"`
		Scenario    string `yaml:"scenario,omitempty"`
		Instruction string `yaml:"instruction,omitempty"`
	}
	entries := make([]entry, len(candidates))
	for i, c := range candidates {
		entries[i] = entry{Name: c.Name, Scenario: c.Scenario, Instruction: c.Instruction}
	}
	out, err := yaml.Marshal(entries)
	if err != nil {
		return ""
	}
	return string(out)
}

// renderStateExamples renders retrieved feedbacks as state-selection
// exemplars keyed by the last action.
func renderStateExamples(last lastAction, feedbacks []feedback.Feedback) string {
	if len(feedbacks) == 0 {
		return ""
	}
	type example struct {
		LastAction    lastAction `yaml:"Last Action"`
		SelectedState string     `yaml:"Selected State"`
	}
	examples := make([]example, 0, len(feedbacks))
	for _, fb := range feedbacks {
		if fb.StateName == "" {
			continue
		}
		examples = append(examples, example{
			LastAction:    lastAction{Name: fb.Observation.Name, Result: fb.Observation.Content},
			SelectedState: fb.StateName,
		})
	}
	if len(examples) == 0 {
		return ""
	}

	block := struct {
		LastAction lastAction `yaml:"Last Action"`
		Examples   []example  `yaml:"Examples"`
	}{LastAction: last, Examples: examples}

	out, err := yaml.Marshal(block)
	if err != nil {
		return ""
	}
	return string(out)
}

// renderActionExamples renders retrieved feedbacks as next-action exemplars.
func renderActionExamples(last lastAction, feedbacks []feedback.Feedback) string {
	if len(feedbacks) == 0 {
		return ""
	}
	type nextAction struct {
		Name      string `yaml:"name"`
		Arguments string `yaml:"arguments,omitempty"`
	}
	type example struct {
		LastAction lastAction `yaml:"Last Action"`
		NextAction nextAction `yaml:"Next Action"`
	}
	examples := make([]example, 0, len(feedbacks))
	for _, fb := range feedbacks {
		examples = append(examples, example{
			LastAction: lastAction{Name: fb.Observation.Name, Result: fb.Observation.Content},
			NextAction: nextAction{Name: fb.Action.Name, Arguments: fb.Action.Content},
		})
	}

	block := struct {
		LastAction lastAction `yaml:"Last Action"`
		Examples   []example  `yaml:"Examples"`
	}{LastAction: last, Examples: examples}

	out, err := yaml.Marshal(block)
	if err != nil {
		return ""
	}
	return string(out)
}

func stateSelectUserPrompt(history, candidates, examples string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here is the history of steps:\n%s\n", history)
	fmt.Fprintf(&b, "Here is the list of candidate states:\n%s\n", candidates)
	if examples != "" {
		fmt.Fprintf(&b, "You **MUST** follow examples to select the state based on the **SIMILAR** \"name\" and \"result\" of the last action:\n%s\n", examples)
	}
	b.WriteString("Now, select the proper state for the next action based on the scenario.\n")
	b.WriteString("The state_name **MUST** be one of the candidate names.\n")
	return b.String()
}

func newStateUserPrompt(history string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here is the history of steps:\n%s\n", history)
	b.WriteString("Now, create the state for the next action: give it a short name, the scenario it covers, and the instruction the assistant should follow.\n")
	return b.String()
}

func actionsUserPrompt(examples, instruction string) string {
	var b strings.Builder
	if examples != "" {
		fmt.Fprintf(&b, "You **MUST** follow examples to select next actions and give **SIMILAR** arguments:\n%s\n", examples)
	}
	fmt.Fprintf(&b, "And the instruction for the next action is:\n%s\n", instruction)
	return b.String()
}
