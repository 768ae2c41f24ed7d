package tool

import (
	"context"
	"encoding/json"
)

// FactExtract is the forced tool used by the fact-extraction pass. The agent
// never registers it for normal dispatch; it only exists so the model has a
// schema to call, and Execute simply echoes the facts back.
type FactExtract struct{}

func (FactExtract) Name() string { return "fact_extract" }

func (FactExtract) Description() string {
	return "Extract facts and store them in a long-term memory."
}

func (FactExtract) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"facts": map[string]any{
				"description": "List of facts to extract and store.",
				"type":        "array",
				"items":       map[string]any{"type": "string"},
			},
		},
		"required":             []string{"facts"},
		"additionalProperties": false,
	}
}

func (FactExtract) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	facts, exists := args["facts"]
	if !exists {
		return Error("`facts` is required"), nil
	}
	encoded, err := json.Marshal(facts)
	if err != nil {
		return Error("`facts` must be an array of strings"), nil
	}
	return Text(string(encoded)), nil
}

// Facts decodes the facts argument of a fact_extract call.
func Facts(args map[string]any) []string {
	raw, exists := args["facts"]
	if !exists {
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var facts []string
	if err := json.Unmarshal(encoded, &facts); err != nil {
		return nil
	}
	return facts
}
