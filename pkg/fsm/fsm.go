// Package fsm models the dialogue policy skeleton: named states, a
// transition table, and unconditional "free" states reachable from anywhere.
package fsm

import "fmt"

// State is one node of the dialogue policy.
type State struct {
	Name        string   `json:"name" yaml:"name"`
	Scenario    string   `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	Instruction string   `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	NextStates  []string `json:"next_states,omitempty" yaml:"next_states,omitempty"`
}

// StateMachine is an ordered set of states plus the free-state list. It is
// read-only during a turn.
type StateMachine struct {
	States     []State  `json:"states,omitempty" yaml:"states,omitempty"`
	FreeStates []string `json:"free_states,omitempty" yaml:"free_states,omitempty"`
	EntryState string   `json:"entry_state,omitempty" yaml:"entry_state,omitempty"`
}

// Empty reports whether no states are configured. An empty machine switches
// the runtime to dynamic state synthesis.
func (m *StateMachine) Empty() bool {
	return m == nil || len(m.States) == 0
}

// Validate checks name uniqueness and referential integrity of next_states,
// free_states and entry_state.
func (m *StateMachine) Validate() error {
	if m.Empty() {
		return nil
	}

	names := make(map[string]bool, len(m.States))
	for _, s := range m.States {
		if s.Name == "" {
			return fmt.Errorf("state name must not be empty")
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate state name %q", s.Name)
		}
		names[s.Name] = true
	}

	for _, s := range m.States {
		for _, next := range s.NextStates {
			if !names[next] {
				return fmt.Errorf("state %q references unknown next state %q", s.Name, next)
			}
		}
	}
	for _, free := range m.FreeStates {
		if !names[free] {
			return fmt.Errorf("unknown free state %q", free)
		}
	}
	if m.EntryState != "" && !names[m.EntryState] {
		return fmt.Errorf("unknown entry state %q", m.EntryState)
	}
	return nil
}

// Get returns the state by name, or nil.
func (m *StateMachine) Get(name string) *State {
	if m == nil {
		return nil
	}
	for i := range m.States {
		if m.States[i].Name == name {
			return &m.States[i]
		}
	}
	return nil
}

// Entry returns the configured entry state, defaulting to the first state.
func (m *StateMachine) Entry() *State {
	if m.Empty() {
		return nil
	}
	if m.EntryState != "" {
		if s := m.Get(m.EntryState); s != nil {
			return s
		}
	}
	return &m.States[0]
}

// NextCandidates enumerates the states reachable from currentName, in
// declaration order and de-duplicated.
//
// With an empty or unknown current state, every state is a candidate: free
// states first, then the rest. Otherwise the candidates are the current
// state's next_states plus all free states.
func (m *StateMachine) NextCandidates(currentName string) []State {
	if m.Empty() {
		return nil
	}

	free := make(map[string]bool, len(m.FreeStates))
	for _, name := range m.FreeStates {
		free[name] = true
	}

	current := m.Get(currentName)
	if currentName == "" || current == nil {
		candidates := make([]State, 0, len(m.States))
		for _, s := range m.States {
			if free[s.Name] {
				candidates = append(candidates, s)
			}
		}
		for _, s := range m.States {
			if !free[s.Name] {
				candidates = append(candidates, s)
			}
		}
		return candidates
	}

	allowed := make(map[string]bool, len(current.NextStates)+len(m.FreeStates))
	for _, name := range current.NextStates {
		allowed[name] = true
	}
	for _, name := range m.FreeStates {
		allowed[name] = true
	}

	candidates := make([]State, 0, len(allowed))
	for _, s := range m.States {
		if allowed[s.Name] {
			candidates = append(candidates, s)
		}
	}
	return candidates
}
