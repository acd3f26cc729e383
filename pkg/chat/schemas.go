package chat

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// stateChoice is the structured reply of the state-select agent.
type stateChoice struct {
	StateName string `json:"state_name" jsonschema:"required,description=The name of the selected state. Must be one of the candidate names."`
	Reason    string `json:"reason" jsonschema:"required,description=Why this state fits the conversation."`
}

// newState is the structured reply of the new-state agent.
type newState struct {
	Name        string `json:"name" jsonschema:"required,description=A short label for the synthesized state."`
	Scenario    string `json:"scenario" jsonschema:"required,description=When this state applies."`
	Instruction string `json:"instruction" jsonschema:"required,description=What the assistant should do next."`
}

// reflectSchema derives an inline JSON schema from a struct's tags.
func reflectSchema[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("schema reflection: %v", err))
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		panic(fmt.Sprintf("schema reflection: %v", err))
	}
	delete(result, "$schema")
	delete(result, "$id")
	return result
}

var (
	stateChoiceSchema = reflectSchema[stateChoice]()
	newStateSchema    = reflectSchema[newState]()
)
