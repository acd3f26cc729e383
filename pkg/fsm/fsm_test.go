package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func machine() *StateMachine {
	return &StateMachine{
		States: []State{
			{Name: "greeting", NextStates: []string{"order"}},
			{Name: "order", NextStates: []string{"payment"}},
			{Name: "payment", NextStates: []string{}},
			{Name: "fallback"},
		},
		FreeStates: []string{"fallback"},
		EntryState: "greeting",
	}
}

func names(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.Name
	}
	return out
}

func TestStateMachine_Empty(t *testing.T) {
	var nilMachine *StateMachine
	assert.True(t, nilMachine.Empty())
	assert.True(t, (&StateMachine{}).Empty())
	assert.False(t, machine().Empty())
}

func TestStateMachine_Validate(t *testing.T) {
	require.NoError(t, machine().Validate())

	dup := &StateMachine{States: []State{{Name: "a"}, {Name: "a"}}}
	assert.ErrorContains(t, dup.Validate(), "duplicate state name")

	unnamed := &StateMachine{States: []State{{Name: ""}}}
	assert.ErrorContains(t, unnamed.Validate(), "must not be empty")

	badNext := &StateMachine{States: []State{{Name: "a", NextStates: []string{"ghost"}}}}
	assert.ErrorContains(t, badNext.Validate(), "unknown next state")

	badFree := &StateMachine{States: []State{{Name: "a"}}, FreeStates: []string{"ghost"}}
	assert.ErrorContains(t, badFree.Validate(), "unknown free state")

	badEntry := &StateMachine{States: []State{{Name: "a"}}, EntryState: "ghost"}
	assert.ErrorContains(t, badEntry.Validate(), "unknown entry state")
}

func TestGet(t *testing.T) {
	m := machine()
	require.NotNil(t, m.Get("order"))
	assert.Equal(t, "order", m.Get("order").Name)
	assert.Nil(t, m.Get("missing"))
}

func TestEntry(t *testing.T) {
	m := machine()
	assert.Equal(t, "greeting", m.Entry().Name)

	noEntry := &StateMachine{States: []State{{Name: "first"}, {Name: "second"}}}
	assert.Equal(t, "first", noEntry.Entry().Name)
}

func TestNextCandidates_EmptyCurrent(t *testing.T) {
	m := machine()

	// Free states lead, then the rest in declaration order.
	assert.Equal(t, []string{"fallback", "greeting", "order", "payment"}, names(m.NextCandidates("")))
}

func TestNextCandidates_UnknownCurrent(t *testing.T) {
	m := machine()
	assert.Equal(t, []string{"fallback", "greeting", "order", "payment"}, names(m.NextCandidates("nope")))
}

func TestNextCandidates_FromState(t *testing.T) {
	m := machine()

	assert.Equal(t, []string{"order", "fallback"}, names(m.NextCandidates("greeting")))
	assert.Equal(t, []string{"payment", "fallback"}, names(m.NextCandidates("order")))

	// Terminal state still reaches the free states.
	assert.Equal(t, []string{"fallback"}, names(m.NextCandidates("payment")))
}

func TestNextCandidates_DeduplicatesFreeOverlap(t *testing.T) {
	m := &StateMachine{
		States: []State{
			{Name: "a", NextStates: []string{"b"}},
			{Name: "b"},
		},
		FreeStates: []string{"b"},
	}

	assert.Equal(t, []string{"b"}, names(m.NextCandidates("a")))
}
