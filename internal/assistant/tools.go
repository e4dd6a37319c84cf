package assistant

import (
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// SaveValueTool is the function the assistant calls with key life values it noticed
const SaveValueTool = "save_value"

type saveValueArgs struct {
	Values []string `json:"values"`
}

// ParseSaveValueArgs extracts the candidate values from a save_value argument payload
func ParseSaveValueArgs(arguments string) ([]string, error) {
	var args saveValueArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, fmt.Errorf("invalid save_value arguments: %w", err)
	}
	return args.Values, nil
}

// SaveValueFunction describes save_value to the assistant
func SaveValueFunction() *openai.FunctionDefinition {
	return &openai.FunctionDefinition{
		Name:        SaveValueTool,
		Description: "Validate and save the identified key life values",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"values": {
					Type:        jsonschema.Array,
					Items:       &jsonschema.Definition{Type: jsonschema.String},
					Description: "The list of key life values identified in the user's message",
				},
			},
			Required: []string{"values"},
		},
	}
}
