// Package feedback stores (observation, action) exemplars per agent in the
// vector store and retrieves them by semantic similarity for few-shot
// prompting.
package feedback

import (
	"strings"
	"unicode"
)

const (
	tagPrefixObservation = "observation_name:"
	tagPrefixState       = "state_name:"
)

// Part is one half of an exemplar: a named piece of text.
type Part struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Feedback is a stored exemplar. The id is generated at insert time when
// absent.
type Feedback struct {
	ID          string `json:"id,omitempty"`
	AgentName   string `json:"agent_name,omitempty"`
	Observation Part   `json:"observation"`
	Action      Part   `json:"action"`
	StateName   string `json:"state_name,omitempty"`
}

// CanonicalText is the rendering that gets embedded and shown in prompts.
func (f *Feedback) CanonicalText() string {
	return f.Observation.Name + ": " + f.Observation.Content + "\n" +
		f.Action.Name + ": " + f.Action.Content
}

// Tags derives the filterable labels for this exemplar.
func (f *Feedback) Tags() []string {
	tags := []string{}
	if f.Observation.Name != "" {
		tags = append(tags, tagPrefixObservation+f.Observation.Name)
	}
	if f.StateName != "" {
		tags = append(tags, tagPrefixState+f.StateName)
	}
	return tags
}

// StateTag builds the filter tag for a state name.
func StateTag(stateName string) string {
	return tagPrefixState + stateName
}

// ObservationTag builds the filter tag for an observation name.
func ObservationTag(name string) string {
	return tagPrefixObservation + name
}

// CollectionName sanitizes an agent name into a PascalCase collection
// identifier. Names already in PascalCase pass through unchanged.
func CollectionName(agentName string) string {
	if agentName == "" {
		return ""
	}

	hasSeparator := strings.ContainsAny(agentName, " _-")
	if !hasSeparator && unicode.IsUpper(rune(agentName[0])) {
		return agentName
	}

	var b strings.Builder
	for _, chunk := range strings.FieldsFunc(agentName, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	}) {
		lower := strings.ToLower(chunk)
		b.WriteString(strings.ToUpper(lower[:1]) + lower[1:])
	}
	return b.String()
}
