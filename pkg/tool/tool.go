// Package tool defines the in-process tool interface, the result shape shared
// with remote tools, and the registry the agent dispatches through.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/reagent-dev/reagent/pkg/schema"
)

// Tool is a callable capability exposed to the model. Parameters returns an
// OpenAI-style JSON schema describing the accepted arguments.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ToolResult carries a tool's observation back to the agent. Output and Error
// are mutually exclusive in practice; System carries out-of-band notes that
// never reach the model verbatim.
type ToolResult struct {
	Output schema.Content
	Error  string
	System string
}

// Error builds a failed result.
func Error(message string) ToolResult {
	return ToolResult{Error: message}
}

// Errorf builds a failed result from a format string.
func Errorf(format string, args ...any) ToolResult {
	return ToolResult{Error: fmt.Sprintf(format, args...)}
}

// Text builds a successful text result.
func Text(output string) ToolResult {
	return ToolResult{Output: schema.TextContent(output)}
}

// Empty reports whether the result carries nothing at all.
func (r ToolResult) Empty() bool {
	return r.Output.Empty() && r.Error == "" && r.System == ""
}

// Failed reports whether the result is an error.
func (r ToolResult) Failed() bool { return r.Error != "" }

// Combine concatenates two results field by field.
func (r ToolResult) Combine(other ToolResult) ToolResult {
	combined := ToolResult{Output: schema.Concat(r.Output, other.Output)}
	switch {
	case r.Error == "":
		combined.Error = other.Error
	case other.Error == "":
		combined.Error = r.Error
	default:
		combined.Error = r.Error + "\n" + other.Error
	}
	switch {
	case r.System == "":
		combined.System = other.System
	case other.System == "":
		combined.System = r.System
	default:
		combined.System = r.System + "\n" + other.System
	}
	return combined
}

// String flattens the result for logging. A positive maxLength truncates the
// rendering with an ellipsis.
func (r ToolResult) String(maxLength ...int) string {
	var s string
	if r.Error != "" {
		s = "Error: " + r.Error
	} else {
		s = r.Output.Plain()
	}
	if len(maxLength) > 0 && maxLength[0] > 0 && len(s) > maxLength[0] {
		s = s[:maxLength[0]] + "..."
	}
	return s
}

// Content returns the part of the result that becomes the tool message body.
func (r ToolResult) Content() schema.Content {
	if r.Error != "" {
		return schema.TextContent(r.Error)
	}
	return r.Output
}

// ----------------------------------------------------------------------------
// Collection

// Collection is an ordered tool registry with unique names.
type Collection struct {
	order  []Tool
	byName map[string]Tool
}

// NewCollection builds a registry from the given tools. Duplicate names are
// rejected.
func NewCollection(tools ...Tool) (*Collection, error) {
	c := &Collection{byName: make(map[string]Tool)}
	for _, t := range tools {
		if err := c.Add(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustCollection is NewCollection for static tool sets known to be distinct.
func MustCollection(tools ...Tool) *Collection {
	c, err := NewCollection(tools...)
	if err != nil {
		panic(err)
	}
	return c
}

// Add registers a tool. Adding a name twice is an error.
func (c *Collection) Add(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool: name is required")
	}
	if _, exists := c.byName[name]; exists {
		return fmt.Errorf("tool: duplicate tool %q", name)
	}
	c.byName[name] = t
	c.order = append(c.order, t)
	return nil
}

// Get looks up a tool by name.
func (c *Collection) Get(name string) (Tool, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// Names returns the registered names in sorted order.
func (c *Collection) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools returns the tools in registration order.
func (c *Collection) Tools() []Tool {
	return append([]Tool(nil), c.order...)
}

// ToParams emits the OpenAI function-tool schema list for the LLM request.
func (c *Collection) ToParams() []map[string]any {
	params := make([]map[string]any, 0, len(c.order))
	for _, t := range c.order {
		params = append(params, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name(),
				"description": t.Description(),
				"parameters":  t.Parameters(),
			},
		})
	}
	return params
}

// Execute dispatches a call by name, converting unknown tools and execution
// failures into error results.
func (c *Collection) Execute(ctx context.Context, name string, args map[string]any) ToolResult {
	t, ok := c.byName[name]
	if !ok {
		return Errorf("Unknown tool `%s`. Please use one of the following tools: %s",
			name, strings.Join(c.Names(), ", "))
	}
	result, err := t.Execute(ctx, args)
	if err != nil {
		return Error(err.Error())
	}
	return result
}

// ParseArguments decodes tool-call arguments, unwrapping a doubly-encoded
// JSON string when the model emits one.
func ParseArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "\"") {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		trimmed = inner
	}
	if strings.TrimSpace(trimmed) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
