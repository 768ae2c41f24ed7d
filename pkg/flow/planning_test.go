package flow

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reagent-dev/reagent/pkg/agent"
	"github.com/reagent-dev/reagent/pkg/llm"
	"github.com/reagent-dev/reagent/pkg/memory"
	"github.com/reagent-dev/reagent/pkg/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubAgent records the prompts it runs and immediately succeeds.
type stubAgent struct {
	name    string
	mem     memory.Memory
	prompts []string
}

func newStubAgent(name string) *stubAgent {
	return &stubAgent{name: name, mem: memory.NewFIFO(memory.Config{}, testLogger())}
}

func (s *stubAgent) Name() string        { return s.name }
func (s *stubAgent) Description() string { return "stub" }

func (s *stubAgent) Run(ctx context.Context, request string) string {
	s.prompts = append(s.prompts, request)
	return "Step 1: finished"
}

func (s *stubAgent) Reset(ctx context.Context, clearMemory bool) {
	if clearMemory {
		s.mem.Clear(ctx)
	}
}

func (s *stubAgent) State() schema.AgentState { return schema.StateIdle }
func (s *stubAgent) Memory() memory.Memory    { return s.mem }
func (s *stubAgent) LLM() *llm.Client         { return nil }

// planServer answers tool-bearing requests with a plan creation call and
// everything else with a plain summary.
func planServer(t *testing.T, steps ...string) *llm.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		message := map[string]any{"role": "assistant", "content": "Summary of the step."}
		if strings.Contains(string(body), `"tools"`) {
			arguments, _ := json.Marshal(map[string]any{
				"command": "create",
				"title":   "Test plan",
				"steps":   steps,
			})
			message["content"] = ""
			message["tool_calls"] = []any{map[string]any{
				"id":   "call_plan",
				"type": "function",
				"function": map[string]any{
					"name":      "planning",
					"arguments": string(arguments),
				},
			}}
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

func TestPlanningDispatchesByStepTag(t *testing.T) {
	code := newStubAgent("code")
	primary := newStubAgent("primary")

	f, err := NewPlanning(PlanningOptions{
		Agents:     map[string]agent.Agent{"CODE": code, "default": primary},
		PrimaryKey: "default",
		LLM:        planServer(t, "[CODE] draft outline", "finalize"),
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create flow: %v", err)
	}

	result := f.Execute(context.Background(), "Write README")

	if len(code.prompts) != 1 {
		t.Fatalf("code agent ran %d steps, want 1", len(code.prompts))
	}
	if !strings.Contains(code.prompts[0], "step 0") {
		t.Errorf("code agent prompt missing step index: %q", code.prompts[0])
	}
	if len(primary.prompts) != 1 {
		t.Fatalf("primary agent ran %d steps, want 1", len(primary.prompts))
	}
	if !strings.Contains(primary.prompts[0], "step 1") {
		t.Errorf("primary agent prompt missing step index: %q", primary.prompts[0])
	}
	if !strings.Contains(result, "##CODE:") || !strings.Contains(result, "##finalize:") {
		t.Errorf("transcript missing step sections: %q", result)
	}
	if !strings.Contains(result, "Summary of the step.") {
		t.Errorf("transcript missing summaries: %q", result)
	}
}

func TestPlanningEmptyInputRunsNothing(t *testing.T) {
	primary := newStubAgent("primary")
	f, err := NewPlanning(PlanningOptions{
		Agents: map[string]agent.Agent{"default": primary},
		LLM:    planServer(t, "unused"),
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create flow: %v", err)
	}

	result := f.Execute(context.Background(), "")

	if result != "" {
		t.Errorf("result = %q, want empty", result)
	}
	if len(primary.prompts) != 0 {
		t.Errorf("primary ran %d steps without a plan", len(primary.prompts))
	}
}

func TestNewAgentSetValidation(t *testing.T) {
	if _, err := newAgentSet(nil, ""); err == nil {
		t.Error("empty agent map should fail")
	}

	agents := map[string]agent.Agent{"a": newStubAgent("a"), "b": newStubAgent("b")}
	if _, err := newAgentSet(agents, "missing"); err == nil {
		t.Error("unknown primary key should fail")
	}

	set, err := newAgentSet(agents, "")
	if err != nil {
		t.Fatalf("agent set failed: %v", err)
	}
	if set.primaryKey != "a" {
		t.Errorf("default primary = %q, want first sorted key a", set.primaryKey)
	}
	if got := set.executor("b"); got.Name() != "b" {
		t.Errorf("executor(b) = %s", got.Name())
	}
	if got := set.executor("zzz"); got.Name() != "a" {
		t.Errorf("executor fallback = %s, want primary a", got.Name())
	}
}
