package memory

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reagent-dev/reagent/pkg/embedding"
	"github.com/reagent-dev/reagent/pkg/llm"
	"github.com/reagent-dev/reagent/pkg/schema"
	"github.com/reagent-dev/reagent/pkg/vectorstore"
)

// fixedEmbedder maps text to a deterministic vector so the store behaves
// consistently without a real embedding backend.
type fixedEmbedder struct {
	dim   int
	calls int
}

func (e *fixedEmbedder) Embed(ctx context.Context, text string, kind embedding.Kind) ([]float32, error) {
	e.calls++
	vec := make([]float32, e.dim)
	for i, r := range text {
		vec[i%e.dim] += float32(r) / 1000
	}
	return vec, nil
}

// factServer answers plain completions with a greeting, fact_extract requests
// with the given facts and memory requests with ADD events for those facts.
func factServer(t *testing.T, facts ...string) *llm.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		message := map[string]any{"role": "assistant", "content": "Hello! How can I help you?"}
		switch {
		case strings.Contains(string(body), `"fact_extract"`):
			arguments, _ := json.Marshal(map[string]any{"facts": facts})
			message["content"] = ""
			message["tool_calls"] = []any{map[string]any{
				"id":   "call_facts",
				"type": "function",
				"function": map[string]any{
					"name":      "fact_extract",
					"arguments": string(arguments),
				},
			}}
		case strings.Contains(string(body), `"name":"memory"`):
			events := make([]map[string]any, 0, len(facts))
			for _, fact := range facts {
				events = append(events, map[string]any{"id": "", "text": fact, "type": "ADD"})
			}
			arguments, _ := json.Marshal(map[string]any{"events": events})
			message["content"] = ""
			message["tool_calls"] = []any{map[string]any{
				"id":   "call_memory",
				"type": "function",
				"function": map[string]any{
					"name":      "memory",
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

func failingLLM(t *testing.T) *llm.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client, err := llm.New(llm.Config{
		Model:      "test-model",
		APIKey:     "test-key",
		BaseURL:    server.URL + "/v1",
		MaxRetries: 1,
	}, testLogger())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func newTestStore(t *testing.T, dim int) vectorstore.Store {
	t.Helper()
	store, err := vectorstore.NewHNSWStore(vectorstore.Options{Dim: dim})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHybridWarmupLeavesStoreEmpty(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 4)

	h := NewHybrid(ctx, HybridConfig{}, factServer(t), nil, &fixedEmbedder{dim: 4}, store, testLogger())

	if !h.retrieval {
		t.Fatal("successful warmup should keep retrieval enabled")
	}
	items, err := store.List(ctx, 0, nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("warmup left %d probe records in the store", len(items))
	}
}

func TestHybridWarmupFailureFallsBackToFIFO(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 4)
	embedder := &fixedEmbedder{dim: 4}

	h := NewHybrid(ctx, HybridConfig{Config: Config{MaxMessages: 2}},
		failingLLM(t), nil, embedder, store, testLogger())

	if h.retrieval {
		t.Fatal("failed warmup should disable retrieval")
	}
	embedder.calls = 0

	h.SetCurrentRequest("task")
	h.AddMessage(ctx, schema.UserMessage("u1"))
	h.AddMessage(ctx, schema.UserMessage("u2"))
	h.AddMessage(ctx, schema.UserMessage("u3"))

	got := h.GetMessages(ctx, "anything relevant")
	if len(got) != 2 {
		t.Fatalf("window has %d messages, want 2", len(got))
	}
	if embedder.calls != 0 {
		t.Errorf("degraded store made %d embedding calls", embedder.calls)
	}
	items, _ := store.List(ctx, 0, nil)
	if len(items) != 0 {
		t.Errorf("degraded store wrote %d records", len(items))
	}
}

func TestHybridGetMessagesPrependsRecalledRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 4)
	embedder := &fixedEmbedder{dim: 4}

	h := NewHybrid(ctx, HybridConfig{}, factServer(t), nil, embedder, store, testLogger())

	older := schema.MemoryItem{ID: 1, Memory: "user prefers dark mode", UpdatedAt: 100, CreatedAt: 100}
	newer := schema.MemoryItem{ID: 2, Memory: "user works in Go", UpdatedAt: 200, CreatedAt: 200}
	vec, _ := embedder.Embed(ctx, "seed", embedding.KindAdd)
	if err := store.Insert(ctx, vec, older.ID, older); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := store.Insert(ctx, vec, newer.ID, newer); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	h.AddMessage(ctx, schema.UserMessage("what language do I use?"))

	got := h.GetMessages(ctx, "programming language preference")
	if len(got) != 3 {
		t.Fatalf("context has %d messages, want 2 recalled + 1 window", len(got))
	}
	if got[0].Content.Plain() != "<memory>user works in Go</memory>" {
		t.Errorf("first recalled message = %q, want the newest record", got[0].Content.Plain())
	}
	if got[1].Content.Plain() != "<memory>user prefers dark mode</memory>" {
		t.Errorf("second recalled message = %q", got[1].Content.Plain())
	}
	if got[2].Content.Plain() != "what language do I use?" {
		t.Errorf("window message moved: %q", got[2].Content.Plain())
	}
}

func TestHybridGetMessagesEmptyQuerySkipsRetrieval(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 4)
	embedder := &fixedEmbedder{dim: 4}

	h := NewHybrid(ctx, HybridConfig{}, factServer(t), nil, embedder, store, testLogger())
	h.AddMessage(ctx, schema.UserMessage("hello"))
	embedder.calls = 0

	got := h.GetMessages(ctx, "   ")
	if len(got) != 1 {
		t.Fatalf("window has %d messages, want 1", len(got))
	}
	if embedder.calls != 0 {
		t.Errorf("blank query made %d embedding calls", embedder.calls)
	}
}

func TestHybridClearConsolidatesFacts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 4)

	h := NewHybrid(ctx, HybridConfig{},
		factServer(t, "User is writing a README", "User prefers terse prose"),
		nil, &fixedEmbedder{dim: 4}, store, testLogger())

	h.SetCurrentRequest("Write README")
	h.AddMessage(ctx, schema.UserMessage("help me write a README, keep it terse"))
	h.AddMessage(ctx, schema.AssistantMessage(schema.TextContent("Sure, here is a draft.")))
	h.Clear(ctx)

	if got := h.GetMessages(ctx, ""); len(got) != 0 {
		t.Fatalf("clear left %d messages in the window", len(got))
	}
	items, err := store.List(ctx, 0, nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("store holds %d records, want 2", len(items))
	}
	memories := map[string]bool{}
	for _, item := range items {
		memories[item.Memory] = true
	}
	for _, want := range []string{"User is writing a README", "User prefers terse prose"} {
		if !memories[want] {
			t.Errorf("store missing fact %q", want)
		}
	}
}

func TestSerializeMessages(t *testing.T) {
	msgs := []schema.Message{
		schema.UserMessage("list files"),
		schema.AssistantMessage(schema.TextContent(""), schema.ToolCall{
			ID:   "call_1",
			Type: "function",
			Function: schema.Function{
				Name:      "shell",
				Arguments: json.RawMessage(`{"command":"ls"}`),
			},
		}),
		schema.ToolMessage(schema.TextContent("main.go"), "call_1", "shell"),
	}

	got := serializeMessages(msgs)
	if !strings.Contains(got, "user: list files\n") {
		t.Errorf("serialized form missing user line: %q", got)
	}
	if !strings.Contains(got, "<tool_call>") || !strings.Contains(got, `"shell"`) {
		t.Errorf("serialized form missing tool call: %q", got)
	}
	if !strings.Contains(got, "tool: main.go\n") {
		t.Errorf("serialized form missing tool observation: %q", got)
	}
}
