package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/reagent-dev/reagent/pkg/prompt"
	"github.com/reagent-dev/reagent/pkg/schema"
	"github.com/reagent-dev/reagent/pkg/tool"
)

// spill thresholds: observations past these sizes move to the content
// provider and leave a pointer message in their place.
const (
	spillChars  = 12288
	spillTokens = 4096
)

const spillNotice = "This tool call has been split into multiple chunks and saved to memory. Please refer to below information to use the `content_provider` tool to read the chunks:\n"

// ToolCall is the generic ReAct agent: think selects tool calls, act executes
// them and feeds observations back into memory.
type ToolCall struct {
	*Base

	tools            *tool.Collection
	toolChoice       string
	specialToolNames map[string]struct{}
	contentProvider  *tool.ContentProvider

	toolCalls []schema.ToolCall
}

// ToolCallOptions configure a ToolCall agent on top of the base options.
type ToolCallOptions struct {
	BaseOptions
	Tools            *tool.Collection
	ToolChoice       string
	SpecialToolNames []string
}

// NewToolCall builds a tool-calling agent. The terminate and content_provider
// tools are always available; missing prompts fall back to the generic
// tool-calling prompts.
func NewToolCall(opts ToolCallOptions) (*ToolCall, error) {
	if opts.Name == "" {
		opts.Name = "toolcall"
	}
	if opts.Description == "" {
		opts.Description = "an agent that can execute tool calls."
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = prompt.ToolCallSystem
	}
	if opts.NextStepPrompt == "" {
		opts.NextStepPrompt = prompt.ToolCallNextStep
	}
	if opts.ToolChoice == "" {
		opts.ToolChoice = "auto"
	}
	if opts.Tools == nil {
		opts.Tools, _ = tool.NewCollection()
	}
	if len(opts.SpecialToolNames) == 0 {
		opts.SpecialToolNames = []string{"terminate"}
	}

	if _, ok := opts.Tools.Get("terminate"); !ok {
		if err := opts.Tools.Add(tool.Terminate{}); err != nil {
			return nil, err
		}
	}
	var provider *tool.ContentProvider
	if existing, ok := opts.Tools.Get("content_provider"); ok {
		provider, ok = existing.(*tool.ContentProvider)
		if !ok {
			return nil, errors.New("agent: content_provider tool has an unexpected type")
		}
	} else {
		provider = tool.NewContentProvider()
		if err := opts.Tools.Add(provider); err != nil {
			return nil, err
		}
	}

	special := make(map[string]struct{}, len(opts.SpecialToolNames))
	for _, name := range opts.SpecialToolNames {
		special[name] = struct{}{}
	}

	a := &ToolCall{
		Base:             NewBase(opts.BaseOptions),
		tools:            opts.Tools,
		toolChoice:       opts.ToolChoice,
		specialToolNames: special,
		contentProvider:  provider,
	}
	a.step = a.stepOnce
	return a, nil
}

// Tools exposes the agent's registry so callers can extend it before a run.
func (a *ToolCall) Tools() *tool.Collection { return a.tools }

func (a *ToolCall) stepOnce(ctx context.Context) (string, error) {
	shouldAct, err := a.think(ctx)
	if err != nil {
		return "", err
	}
	if !shouldAct {
		return "Thinking complete - no action needed", nil
	}
	if a.state != schema.StateRunning {
		return "Agent is not running", nil
	}
	return a.act(ctx)
}

// think asks the model for the next move and records its reply. The return
// value tells the step whether act should run.
func (a *ToolCall) think(ctx context.Context) (bool, error) {
	resp, err := a.llm.AskTool(ctx,
		a.memory.GetMessages(ctx, a.currentRequest),
		a.systemPrompt,
		a.nextStepPrompt,
		a.tools.ToParams(),
		a.toolChoice,
	)
	if err != nil {
		return false, err
	}
	a.toolCalls = resp.ToolCalls

	thoughts := resp.Content
	if thoughts == "" {
		thoughts = "<no content>"
	}
	a.logger.Info("agent thoughts", "agent", a.name, "content", thoughts)
	a.logger.Info("tools selected", "agent", a.name, "count", len(resp.ToolCalls), "tools", toolNames(resp.ToolCalls))

	if a.state != schema.StateRunning {
		return false, nil
	}

	if a.toolChoice == "none" {
		if len(resp.ToolCalls) > 0 {
			a.logger.Warn("model emitted tool calls with tool_choice none", "agent", a.name)
			a.toolCalls = nil
		}
		if resp.Content != "" {
			a.memory.AddMessage(ctx, schema.AssistantMessage(schema.TextContent(resp.Content)))
			return true, nil
		}
		return false, nil
	}

	a.memory.AddMessage(ctx, schema.AssistantMessage(schema.TextContent(resp.Content), resp.ToolCalls...))

	if a.toolChoice == "required" && len(resp.ToolCalls) == 0 {
		return true, nil // act reports the violation
	}
	return len(resp.ToolCalls) > 0, nil
}

// act executes the pending tool calls in order and appends one tool message
// per call. Oversized observations spill to the content provider.
func (a *ToolCall) act(ctx context.Context) (string, error) {
	if len(a.toolCalls) == 0 {
		if a.toolChoice == "required" {
			return "", errors.New("agent: required tools but none selected")
		}
		messages := a.memory.GetMessages(ctx, "")
		if len(messages) == 0 || messages[len(messages)-1].Content.Empty() {
			return "No content or commands to execute", nil
		}
		return messages[len(messages)-1].Content.Plain(), nil
	}

	var sb strings.Builder
	for _, call := range a.toolCalls {
		var result tool.ToolResult
		if a.state == schema.StateRunning {
			result = a.executeTool(ctx, call)
		} else {
			result = tool.Error("Agent is not running, so no more tool calls will be executed.")
		}

		a.logger.Info("tool completed", "agent", a.name, "tool", call.Function.Name, "result", result.String(500))

		if len(result.String()) > spillChars && !singleImage(result.Output) {
			result = a.spill(result.Content(), call.Function.Name)
		}

		toolMsg := schema.ToolMessage(result.Content(), call.ID, call.Function.Name)
		if toolMsg.NumTokens > spillTokens {
			spilled := a.spill(toolMsg.Content, call.Function.Name)
			toolMsg = schema.ToolMessage(spilled.Content(), call.ID, call.Function.Name)
		}
		a.memory.AddMessage(ctx, toolMsg)

		observation := "Observed output of tool `" + call.Function.Name + "` executed:\n" + result.String()
		if result.Empty() {
			observation = "Tool `" + call.Function.Name + "` completed with no output"
		}
		sb.WriteString(observation)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

// executeTool dispatches one call through the registry, decoding the raw
// argument payload first. Special tools flip the agent to Finished.
func (a *ToolCall) executeTool(ctx context.Context, call schema.ToolCall) tool.ToolResult {
	name := call.Function.Name
	if name == "" {
		return tool.Error("Invalid command format")
	}

	args, err := tool.ParseArguments(call.Function.Arguments)
	if err != nil {
		a.logger.Error("invalid tool arguments", "agent", a.name, "tool", name, "error", err)
		return tool.Error("Error parsing arguments for " + name + ": Invalid JSON format")
	}

	a.logger.Info("activating tool", "agent", a.name, "tool", name)
	result := a.tools.Execute(ctx, name, args)

	if _, special := a.specialToolNames[name]; special {
		a.logger.Info("special tool completed the task", "agent", a.name, "tool", name)
		a.state = schema.StateFinished
	}
	return result
}

// spill stores oversized content with the content provider and returns the
// pointer observation that replaces it.
func (a *ToolCall) spill(content schema.Content, toolName string) tool.ToolResult {
	parts := content.Parts
	if !content.Multi() {
		parts = []schema.Part{schema.TextPart(content.Text)}
	}
	written := a.contentProvider.Write(map[string]any{"content": parts})
	a.logger.Info("tool result split into chunks and saved to memory", "agent", a.name, "tool", toolName)
	return tool.Text(spillNotice + written.String())
}

func singleImage(content schema.Content) bool {
	return content.Multi() && len(content.Parts) == 1 && content.Parts[0].Type == "image_url"
}

func toolNames(calls []schema.ToolCall) string {
	names := make([]string, 0, len(calls))
	for _, call := range calls {
		names = append(names, call.Function.Name)
	}
	return strings.Join(names, " ")
}
