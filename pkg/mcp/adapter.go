package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/reagent-dev/reagent/pkg/schema"
	"github.com/reagent-dev/reagent/pkg/tool"
)

// RemoteTool adapts one MCP server tool to the local tool interface. Image
// parts in results are rewritten as data URLs so downstream consumers handle
// local and remote tools uniformly.
type RemoteTool struct {
	client     *Client
	definition ToolDefinition
	parameters map[string]any
}

// Tools lists the server's tools and wraps each one. The returned tools share
// the client; closing it invalidates them all.
func Tools(ctx context.Context, client *Client) ([]tool.Tool, error) {
	definitions, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	tools := make([]tool.Tool, 0, len(definitions))
	for _, def := range definitions {
		tools = append(tools, NewRemoteTool(client, def))
	}
	return tools, nil
}

// NewRemoteTool wraps a single tool definition.
func NewRemoteTool(client *Client, definition ToolDefinition) *RemoteTool {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	if len(definition.InputSchema) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal(definition.InputSchema, &decoded); err == nil && decoded != nil {
			params = decoded
		}
	}
	return &RemoteTool{client: client, definition: definition, parameters: params}
}

func (t *RemoteTool) Name() string { return t.definition.Name }

func (t *RemoteTool) Description() string { return t.definition.Description }

func (t *RemoteTool) Parameters() map[string]any { return t.parameters }

func (t *RemoteTool) Execute(ctx context.Context, args map[string]any) (tool.ToolResult, error) {
	result, err := t.client.CallTool(ctx, t.definition.Name, args)
	if err != nil {
		if result.IsError {
			return tool.Error(err.Error()), nil
		}
		return tool.ToolResult{}, err
	}
	return tool.ToolResult{Output: resultContent(result)}, nil
}

func resultContent(result CallResult) schema.Content {
	var parts []schema.Part
	hasImage := false
	for _, part := range result.Content {
		switch part.Type {
		case "text":
			parts = append(parts, schema.TextPart(part.Text))
		case "image":
			parts = append(parts, schema.ImagePart(dataURL(part.MimeType, part.Data)))
			hasImage = true
		}
	}
	if !hasImage {
		return schema.TextContent(result.Text())
	}
	return schema.Content{Parts: parts}
}

func dataURL(mimeType, data string) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, data)
}
