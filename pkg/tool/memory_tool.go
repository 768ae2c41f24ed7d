package tool

import (
	"context"
	"encoding/json"
)

// MemoryEvent is one model-proposed mutation of the long-term memory.
type MemoryEvent struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Type      string `json:"type"`
	OldMemory string `json:"old_memory,omitempty"`
}

// Memory event types.
const (
	EventAdd    = "ADD"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventNone   = "NONE"
)

// MemoryTool is the forced tool of the memory-update pass. Like FactExtract it
// echoes its arguments; the caller inspects the events and applies them to the
// vector store.
type MemoryTool struct{}

func (MemoryTool) Name() string { return "memory" }

func (MemoryTool) Description() string {
	return "Manage and retrieve memory."
}

func (MemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"events": map[string]any{
				"description": "Array of memory events. Each event is an object with 'id', 'text', 'type', and 'old_memory' (optional) fields.",
				"type":        "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": map[string]any{
							"description": "Unique identifier for the memory item.",
							"type":        "string",
						},
						"text": map[string]any{
							"description": "Text of the memory item.",
							"type":        "string",
						},
						"type": map[string]any{
							"description": "Type of event: 'ADD', 'UPDATE', 'DELETE', or 'NONE'.",
							"type":        "string",
							"enum":        []string{EventAdd, EventUpdate, EventDelete, EventNone},
						},
						"old_memory": map[string]any{
							"description": "Old memory item. Required for update events.",
							"type":        "string",
						},
					},
				},
			},
		},
		"required": []string{"events"},
	}
}

func (MemoryTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	events, exists := args["events"]
	if !exists {
		return Error("`events` is required"), nil
	}
	encoded, err := json.Marshal(events)
	if err != nil {
		return Error("`events` must be an array of event objects"), nil
	}
	return Text(string(encoded)), nil
}

// MemoryEvents decodes the events argument of a memory call. Events with an
// unknown type are dropped.
func MemoryEvents(args map[string]any) []MemoryEvent {
	raw, exists := args["events"]
	if !exists {
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var events []MemoryEvent
	if err := json.Unmarshal(encoded, &events); err != nil {
		return nil
	}
	filtered := events[:0]
	for _, event := range events {
		switch event.Type {
		case EventAdd, EventUpdate, EventDelete, EventNone:
			filtered = append(filtered, event)
		}
	}
	return filtered
}
