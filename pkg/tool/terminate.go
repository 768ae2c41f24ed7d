package tool

import "context"

// Terminate ends the interaction. The agent treats it as a special tool and
// transitions to the finished state after a successful call.
type Terminate struct{}

func (Terminate) Name() string { return "terminate" }

func (Terminate) Description() string {
	return "Terminate the interaction when the request is met OR if the assistant cannot proceed further with the task."
}

func (Terminate) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type":        "string",
				"description": "The finish status of the interaction.",
				"enum":        []string{"success", "failure"},
			},
		},
		"required": []string{"status"},
	}
}

func (Terminate) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	status := stringArg(args, "status")
	return Text("The interaction has been completed with status: " + status), nil
}
