package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reagent-dev/reagent/pkg/llm"
	"github.com/reagent-dev/reagent/pkg/schema"
	"github.com/reagent-dev/reagent/pkg/tool"
)

// chatTurn is one scripted assistant reply of the stub completion endpoint.
type chatTurn struct {
	content   string
	toolCalls []map[string]any
}

func toolCallTurn(name, arguments string) chatTurn {
	return chatTurn{toolCalls: []map[string]any{{
		"id":   fmt.Sprintf("call_%s", name),
		"type": "function",
		"function": map[string]any{
			"name":      name,
			"arguments": arguments,
		},
	}}}
}

func newScriptedLLM(t *testing.T, turns ...chatTurn) *llm.Client {
	t.Helper()
	turn := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if turn >= len(turns) {
			t.Errorf("unexpected completion request %d", turn)
			http.Error(w, "no more turns", http.StatusInternalServerError)
			return
		}
		reply := turns[turn]
		turn++

		message := map[string]any{"role": "assistant", "content": reply.content}
		if len(reply.toolCalls) > 0 {
			message["tool_calls"] = reply.toolCalls
		}
		response := map[string]any{
			"choices": []any{map[string]any{"message": message}},
			"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 5},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(server.Close)

	client, err := llm.New(llm.Config{
		Model:      "test-model",
		APIKey:     "test-key",
		BaseURL:    server.URL + "/v1",
		EnableTool: true,
		MaxRetries: 1,
	}, testLogger())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestToolCallTerminateFinishesRun(t *testing.T) {
	client := newScriptedLLM(t, toolCallTurn("terminate", `{"status": "success"}`))
	a, err := NewToolCall(ToolCallOptions{})
	if err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}
	a.llm = client

	trace := a.Run(context.Background(), "finish immediately")

	if !strings.Contains(trace, "The interaction has been completed with status: success") {
		t.Errorf("trace missing terminate output: %q", trace)
	}
	if strings.Contains(trace, "Terminated:") {
		t.Errorf("finished run should not carry a termination note: %q", trace)
	}
	if a.State() != schema.StateIdle {
		t.Errorf("state after finished run = %v, want idle", a.State())
	}
}

func TestToolCallUnknownToolKeepsRunning(t *testing.T) {
	client := newScriptedLLM(t,
		toolCallTurn("zzz", `{}`),
		toolCallTurn("terminate", `{"status": "failure"}`),
	)
	a, err := NewToolCall(ToolCallOptions{})
	if err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}
	a.llm = client

	ctx := context.Background()
	trace := a.Run(ctx, "call something that does not exist")

	if !strings.Contains(trace, "Unknown tool `zzz`") {
		t.Errorf("trace missing unknown-tool observation: %q", trace)
	}

	var sawUnknown bool
	for _, msg := range a.Memory().GetMessages(ctx, "") {
		if msg.Role == schema.RoleTool && strings.HasPrefix(msg.Content.Plain(), "Unknown tool `zzz`") {
			sawUnknown = true
		}
	}
	if !sawUnknown {
		t.Error("unknown-tool failure was not recorded as a tool message")
	}
}

func TestToolCallChoiceNoneIgnoresStrayCalls(t *testing.T) {
	client := newScriptedLLM(t, chatTurn{
		content: "I will wrap up now.",
		toolCalls: []map[string]any{{
			"id":   "call_terminate",
			"type": "function",
			"function": map[string]any{
				"name":      "terminate",
				"arguments": `{"status": "success"}`,
			},
		}},
	})
	a, err := NewToolCall(ToolCallOptions{
		BaseOptions: BaseOptions{MaxSteps: 1},
		ToolChoice:  "none",
	})
	if err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}
	a.llm = client

	ctx := context.Background()
	trace := a.Run(ctx, "chat without tools")

	if strings.Contains(trace, "The interaction has been completed") {
		t.Errorf("stray terminate call was executed: %q", trace)
	}
	if !strings.Contains(trace, "Terminated: Reached max steps") {
		t.Errorf("run should end at the step budget, got %q", trace)
	}
	for _, msg := range a.Memory().GetMessages(ctx, "") {
		if msg.Role == schema.RoleTool {
			t.Errorf("stray tool call left a tool message: %q", msg.Content.Plain())
		}
	}
}

func TestToolCallInvalidArguments(t *testing.T) {
	client := newScriptedLLM(t,
		toolCallTurn("terminate", `{not json`),
		toolCallTurn("terminate", `{"status": "success"}`),
	)
	a, err := NewToolCall(ToolCallOptions{})
	if err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}
	a.llm = client

	trace := a.Run(context.Background(), "bad arguments first")

	if !strings.Contains(trace, "Error parsing arguments for terminate: Invalid JSON format") {
		t.Errorf("trace missing argument parse failure: %q", trace)
	}
}

func TestToolCallSpillsOversizedObservation(t *testing.T) {
	echo := &staticTool{name: "bigdump", output: strings.Repeat("y", spillChars+100)}
	client := newScriptedLLM(t,
		toolCallTurn("bigdump", `{}`),
		toolCallTurn("terminate", `{"status": "success"}`),
	)
	a, err := NewToolCall(ToolCallOptions{})
	if err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}
	if err := a.Tools().Add(echo); err != nil {
		t.Fatalf("failed to add tool: %v", err)
	}
	a.llm = client

	ctx := context.Background()
	a.Run(ctx, "dump a lot of output")

	var spilled bool
	for _, msg := range a.Memory().GetMessages(ctx, "") {
		if msg.Role == schema.RoleTool && msg.Name == "bigdump" {
			if strings.Contains(msg.Content.Plain(), "content_provider") {
				spilled = true
			}
			if len(msg.Content.Plain()) > spillChars {
				t.Errorf("tool message kept %d chars in the window", len(msg.Content.Plain()))
			}
		}
	}
	if !spilled {
		t.Error("oversized observation was not spilled to the content provider")
	}
}

// staticTool returns a fixed payload regardless of arguments.
type staticTool struct {
	name   string
	output string
}

func (s *staticTool) Name() string               { return s.name }
func (s *staticTool) Description() string        { return "returns a fixed payload" }
func (s *staticTool) Parameters() map[string]any { return map[string]any{"type": "object"} }

func (s *staticTool) Execute(ctx context.Context, args map[string]any) (tool.ToolResult, error) {
	return tool.Text(s.output), nil
}

func TestNewToolCallRegistersRequiredTools(t *testing.T) {
	a, err := NewToolCall(ToolCallOptions{})
	if err != nil {
		t.Fatalf("failed to create agent: %v", err)
	}
	for _, name := range []string{"terminate", "content_provider"} {
		if _, ok := a.Tools().Get(name); !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}
