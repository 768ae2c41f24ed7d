package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/reagent-dev/reagent/pkg/prompt"
	"github.com/reagent-dev/reagent/pkg/schema"
)

// ToolParser emulates tool calling for providers without native support. Calls
// are fenced in configurable delimiters inside plain assistant content.
type ToolParser struct {
	Start        string
	End          string
	HintTemplate string
}

// NewToolParser returns a parser with the default fence and hint template.
func NewToolParser() ToolParser {
	return ToolParser{
		Start:        "<tool_call>",
		End:          "</tool_call>",
		HintTemplate: prompt.ToolHintTemplate,
	}
}

func (p ToolParser) normalized() ToolParser {
	if p.Start == "" {
		p.Start = "<tool_call>"
	}
	if p.End == "" {
		p.End = "</tool_call>"
	}
	if p.HintTemplate == "" {
		p.HintTemplate = prompt.ToolHintTemplate
	}
	return p
}

// Hint renders the instruction block describing the fence protocol.
func (p ToolParser) Hint(toolList string) string {
	hint := strings.ReplaceAll(p.HintTemplate, "{tool_start}", p.Start)
	hint = strings.ReplaceAll(hint, "{tool_end}", p.End)
	return strings.ReplaceAll(hint, "{tool_list}", toolList)
}

// Parse extracts fenced tool calls from content, returning the content with
// the fences cut out and the parsed calls with fresh ids. A fence opened but
// never closed extends to the end of the content.
func (p ToolParser) Parse(content string) (string, []schema.ToolCall, error) {
	var calls []schema.ToolCall
	remaining := content

	for {
		posStart := strings.Index(remaining, p.Start)
		if posStart < 0 {
			break
		}
		rest := remaining[posStart+len(p.Start):]
		posEnd := strings.Index(rest, p.End)
		body := rest
		after := ""
		if posEnd >= 0 {
			body = rest[:posEnd]
			after = rest[posEnd+len(p.End):]
		}

		if strings.TrimSpace(body) != "" {
			var fn schema.Function
			if err := json.Unmarshal([]byte(body), &fn); err != nil {
				return "", nil, fmt.Errorf("llm: invalid tool call: %s", body)
			}
			calls = append(calls, schema.ToolCall{
				ID:       fmt.Sprintf("call_%d", time.Now().UnixNano()+int64(len(calls))),
				Type:     "function",
				Function: fn,
			})
		}

		remaining = strings.TrimSpace(remaining[:posStart]) + strings.TrimSpace(after)
	}

	return remaining, calls, nil
}

// Dump renders tool calls back into fenced content, used when replaying an
// assistant message with tool calls to a provider without native support.
func (p ToolParser) Dump(calls []schema.ToolCall) string {
	var sb strings.Builder
	for _, call := range calls {
		encoded, err := json.MarshalIndent(call.Function, "", "  ")
		if err != nil {
			continue
		}
		sb.WriteString(p.Start)
		sb.Write(encoded)
		sb.WriteString(p.End)
	}
	return sb.String()
}
