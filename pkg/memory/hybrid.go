package memory

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/reagent-dev/reagent/pkg/embedding"
	"github.com/reagent-dev/reagent/pkg/llm"
	"github.com/reagent-dev/reagent/pkg/prompt"
	"github.com/reagent-dev/reagent/pkg/schema"
	"github.com/reagent-dev/reagent/pkg/tool"
	"github.com/reagent-dev/reagent/pkg/vectorstore"
)

// HybridConfig extends the window budgets with the prompts of the fact
// pipeline. Empty prompts fall back to the package defaults.
type HybridConfig struct {
	Config
	FactExtractionPrompt string
	UpdateMemoryPrompt   string
}

// Hybrid couples the FIFO window with a vector store. Messages leaving the
// window are distilled into facts and indexed; GetMessages with a query folds
// related facts back into the context inside <memory> tags.
type Hybrid struct {
	*FIFO
	cfg      HybridConfig
	chat     *llm.Client
	vision   *llm.Client
	embedder embedding.Embedder
	store    vectorstore.Store
	logger   *slog.Logger

	// retrieval turns off when the warmup probe fails, leaving plain FIFO
	// behavior.
	retrieval bool
}

// NewHybrid builds a hybrid store and probes the embedding and vector
// backends once. A failed probe degrades the store to FIFO-only and logs a
// warning instead of failing construction.
func NewHybrid(ctx context.Context, cfg HybridConfig, chat, vision *llm.Client, embedder embedding.Embedder, store vectorstore.Store, logger *slog.Logger) *Hybrid {
	cfg.Config.normalize()
	if cfg.FactExtractionPrompt == "" {
		cfg.FactExtractionPrompt = prompt.FactExtraction
	}
	if cfg.UpdateMemoryPrompt == "" {
		cfg.UpdateMemoryPrompt = prompt.UpdateMemory
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hybrid{
		FIFO:      NewFIFO(cfg.Config, logger),
		cfg:       cfg,
		chat:      chat,
		vision:    vision,
		embedder:  embedder,
		store:     store,
		logger:    logger,
		retrieval: true,
	}
	if err := h.warmup(ctx); err != nil {
		h.logger.Warn("long-term memory disabled, falling back to FIFO window", "error", err)
		h.retrieval = false
	}
	return h
}

// warmup exercises the full chat-embed-index path once so a misconfigured
// backend surfaces at construction rather than mid-conversation.
func (h *Hybrid) warmup(ctx context.Context) error {
	reply, err := h.chat.Ask(ctx, []schema.Message{schema.UserMessage("Hello")}, "", "")
	if err != nil {
		return err
	}
	vec, err := h.embedder.Embed(ctx, reply, embedding.KindAdd)
	if err != nil {
		return err
	}
	if err := h.store.Insert(ctx, vec, 0, schema.NewMemoryItem(0, reply)); err != nil {
		return err
	}
	return h.store.Remove(ctx, 0)
}

// AddMessage appends a message; whatever eviction removes is consolidated
// into the vector store.
func (h *Hybrid) AddMessage(ctx context.Context, msg schema.Message) {
	evicted := h.push(msg)
	if h.retrieval && len(evicted) > 0 {
		h.consolidate(ctx, evicted)
	}
}

// AddMessages appends messages in order.
func (h *Hybrid) AddMessages(ctx context.Context, msgs []schema.Message) {
	for _, msg := range msgs {
		h.AddMessage(ctx, msg)
	}
}

// GetMessages returns the window, prepended with long-term records related to
// the query while the combined context stays under MaxTokensContext. Records
// arrive newest first.
func (h *Hybrid) GetMessages(ctx context.Context, query string) []schema.Message {
	window := h.FIFO.GetMessages(ctx, query)
	if !h.retrieval || strings.TrimSpace(query) == "" {
		return window
	}

	vec, err := h.embedder.Embed(ctx, query, embedding.KindSearch)
	if err != nil {
		h.logger.Warn("memory retrieval skipped", "error", err)
		return window
	}
	items, err := h.store.Search(ctx, vec, h.cfg.RetrievalLimit, nil)
	if err != nil {
		h.logger.Warn("memory retrieval skipped", "error", err)
		return window
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].UpdatedAt > items[j].UpdatedAt })

	budget := h.cfg.MaxTokensContext - schema.SumTokens(window)
	var recalled []schema.Message
	for _, item := range items {
		if item.Empty() {
			continue
		}
		msg := schema.UserMessage("<memory>" + item.Memory + "</memory>")
		if msg.NumTokens > budget {
			break
		}
		budget -= msg.NumTokens
		recalled = append(recalled, msg)
	}
	if len(recalled) == 0 {
		return window
	}
	return append(recalled, window...)
}

// Clear flushes the window into the vector store and empties it.
func (h *Hybrid) Clear(ctx context.Context) {
	removed := h.drain()
	if h.retrieval && len(removed) > 0 {
		h.consolidate(ctx, removed)
	}
}

// consolidate runs the two-pass fact pipeline over outgoing messages: a
// forced fact_extract call distills durable facts, then a forced memory call
// reconciles them with the nearest existing records.
func (h *Hybrid) consolidate(ctx context.Context, msgs []schema.Message) {
	input := serializeMessages(h.describeImages(ctx, msgs))
	if strings.TrimSpace(input) == "" {
		return
	}

	facts := h.extractFacts(ctx, input)
	if len(facts) == 0 {
		return
	}

	vectors := make(map[string][]float32, len(facts))
	for _, fact := range facts {
		vec, err := h.embedder.Embed(ctx, fact, embedding.KindAdd)
		if err != nil {
			h.logger.Warn("skipping fact, embedding failed", "error", err)
			continue
		}
		vectors[fact] = vec
	}
	if len(vectors) == 0 {
		return
	}

	existing, tempIDs := h.nearestRecords(ctx, facts, vectors)
	events := h.reconcile(ctx, facts, existing)
	h.applyEvents(ctx, events, tempIDs, existing, vectors)
}

// extractFacts asks the model for facts via the forced fact_extract tool.
// Calls to any other tool are hallucinations and are dropped.
func (h *Hybrid) extractFacts(ctx context.Context, input string) []string {
	extractor := tool.FactExtract{}
	system := prompt.Render(h.cfg.FactExtractionPrompt, h.currentRequest)
	messages := []schema.Message{schema.UserMessage("<input>\n" + input + "\n</input>")}

	resp, err := h.chat.AskTool(ctx, messages, system, "", toolParams(extractor), "required")
	if err != nil {
		h.logger.Warn("fact extraction failed", "error", err)
		return nil
	}

	var facts []string
	for _, call := range resp.ToolCalls {
		if call.Function.Name != extractor.Name() {
			h.logger.Warn("ignoring unexpected tool call in fact extraction", "tool", call.Function.Name)
			continue
		}
		args, err := tool.ParseArguments(call.Function.Arguments)
		if err != nil {
			h.logger.Warn("discarding malformed fact_extract arguments", "error", err)
			continue
		}
		facts = append(facts, tool.Facts(args)...)
	}
	return facts
}

// nearestRecords unions the top neighbors of every fact and assigns each
// distinct record a small temporary id, keeping real ids out of the prompt.
func (h *Hybrid) nearestRecords(ctx context.Context, facts []string, vectors map[string][]float32) ([]schema.MemoryItem, map[string]uint64) {
	seen := make(map[uint64]schema.MemoryItem)
	for _, fact := range facts {
		vec, ok := vectors[fact]
		if !ok {
			continue
		}
		items, err := h.store.Search(ctx, vec, h.cfg.RetrievalLimit, nil)
		if err != nil {
			h.logger.Warn("neighbor search failed", "error", err)
			continue
		}
		for _, item := range items {
			seen[item.ID] = item
		}
	}

	existing := make([]schema.MemoryItem, 0, len(seen))
	for _, item := range seen {
		existing = append(existing, item)
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].ID < existing[j].ID })

	tempIDs := make(map[string]uint64, len(existing))
	for i := range existing {
		tempIDs[strconv.Itoa(i)] = existing[i].ID
	}
	return existing, tempIDs
}

// reconcile asks the model to turn facts plus existing records into
// ADD/UPDATE/DELETE/NONE events via the forced memory tool.
func (h *Hybrid) reconcile(ctx context.Context, facts []string, existing []schema.MemoryItem) []tool.MemoryEvent {
	type record struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	records := make([]record, 0, len(existing))
	for i, item := range existing {
		records = append(records, record{ID: strconv.Itoa(i), Text: item.Memory})
	}
	oldJSON, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return nil
	}
	factsJSON, err := json.Marshal(facts)
	if err != nil {
		return nil
	}

	input := "Below is the current content of my memory which I have collected till now. You have to update it in the following format only:\n\n" +
		string(oldJSON) +
		"\n\nThe new retrieved facts are mentioned below. You have to analyze the new retrieved facts and determine whether these facts should be added, updated, or deleted in the memory. Call the `memory` tool with the resulting events.\n\n" +
		string(factsJSON)

	updater := tool.MemoryTool{}
	resp, err := h.chat.AskTool(ctx, []schema.Message{schema.UserMessage(input)}, h.cfg.UpdateMemoryPrompt, "", toolParams(updater), "required")
	if err != nil {
		h.logger.Warn("memory update failed", "error", err)
		return nil
	}

	var events []tool.MemoryEvent
	for _, call := range resp.ToolCalls {
		if call.Function.Name != updater.Name() {
			h.logger.Warn("ignoring unexpected tool call in memory update", "tool", call.Function.Name)
			continue
		}
		args, err := tool.ParseArguments(call.Function.Arguments)
		if err != nil {
			h.logger.Warn("discarding malformed memory arguments", "error", err)
			continue
		}
		events = append(events, tool.MemoryEvents(args)...)
	}
	return events
}

// applyEvents writes the reconciled events to the vector store, reusing fact
// embeddings computed earlier where the text matches.
func (h *Hybrid) applyEvents(ctx context.Context, events []tool.MemoryEvent, tempIDs map[string]uint64, existing []schema.MemoryItem, vectors map[string][]float32) {
	byID := make(map[uint64]schema.MemoryItem, len(existing))
	for _, item := range existing {
		byID[item.ID] = item
	}

	for _, event := range events {
		switch event.Type {
		case tool.EventAdd:
			h.createRecord(ctx, event.Text, vectors)
		case tool.EventUpdate:
			id, ok := tempIDs[event.ID]
			if !ok {
				h.createRecord(ctx, event.Text, vectors)
				continue
			}
			item := byID[id]
			if item.Memory == event.Text {
				continue
			}
			vec, ok := vectors[event.Text]
			if !ok {
				var err error
				vec, err = h.embedder.Embed(ctx, event.Text, embedding.KindUpdate)
				if err != nil {
					h.logger.Warn("memory update skipped, embedding failed", "error", err)
					continue
				}
			}
			item.Update(event.Text)
			if err := h.store.Update(ctx, id, vec, &item); err != nil {
				h.logger.Warn("memory update failed", "id", id, "error", err)
			}
		case tool.EventDelete:
			id, ok := tempIDs[event.ID]
			if !ok {
				continue
			}
			if err := h.store.Remove(ctx, id); err != nil {
				h.logger.Warn("memory delete failed", "id", id, "error", err)
			}
		}
	}
}

func (h *Hybrid) createRecord(ctx context.Context, text string, vectors map[string][]float32) {
	if strings.TrimSpace(text) == "" {
		return
	}
	vec, ok := vectors[text]
	if !ok {
		var err error
		vec, err = h.embedder.Embed(ctx, text, embedding.KindAdd)
		if err != nil {
			h.logger.Warn("memory add skipped, embedding failed", "error", err)
			return
		}
	}
	id := newRecordID()
	if err := h.store.Insert(ctx, vec, id, schema.NewMemoryItem(id, text)); err != nil {
		h.logger.Warn("memory add failed", "id", id, "error", err)
	}
}

// describeImages rewrites messages carrying image parts into plain text. With
// a vision model configured each message is transcribed; otherwise image
// parts collapse to indexed placeholders.
func (h *Hybrid) describeImages(ctx context.Context, msgs []schema.Message) []schema.Message {
	out := make([]schema.Message, 0, len(msgs))
	for _, msg := range msgs {
		if !hasImageParts(msg) {
			out = append(out, msg)
			continue
		}
		text := msg.Content.Plain()
		if h.vision != nil {
			described, err := h.vision.Ask(ctx,
				[]schema.Message{schema.UserContentMessage(msg.Content)},
				"", "Please describe the content of the images above in plain text.")
			if err != nil {
				h.logger.Warn("vision transcription failed, keeping placeholders", "error", err)
			} else {
				text = described
			}
		}
		out = append(out, schema.NewMessage(msg.Role, schema.TextContent(text), msg.Name, msg.ToolCallID, msg.ToolCalls))
	}
	return out
}

func hasImageParts(msg schema.Message) bool {
	if !msg.Content.Multi() {
		return false
	}
	for _, part := range msg.Content.Parts {
		if part.Type == "image_url" {
			return true
		}
	}
	return false
}

// serializeMessages flattens a batch into the text form fed to fact
// extraction: one "role: content" line per message, tool calls fenced.
func serializeMessages(msgs []schema.Message) string {
	var sb strings.Builder
	for _, msg := range msgs {
		if text := msg.Content.Plain(); text != "" {
			sb.WriteString(msg.Role)
			sb.WriteString(": ")
			sb.WriteString(text)
			sb.WriteString("\n")
		}
		for _, call := range msg.ToolCalls {
			encoded, err := json.Marshal(call.Function)
			if err != nil {
				continue
			}
			sb.WriteString("<tool_call>")
			sb.Write(encoded)
			sb.WriteString("</tool_call>\n")
		}
	}
	return sb.String()
}

func toolParams(t tool.Tool) []map[string]any {
	return []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  t.Parameters(),
		},
	}}
}

func newRecordID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}
