// Package memory holds the conversation state of an agent. The base FIFO
// window keeps the recent exchange under token budgets; the hybrid store
// additionally distills evicted messages into durable facts behind a vector
// index and folds relevant ones back into the context on retrieval.
package memory

import (
	"context"
	"log/slog"

	"github.com/reagent-dev/reagent/pkg/schema"
)

// Memory is the conversation store contract consumed by agents and flows.
type Memory interface {
	// AddMessage appends one message, evicting older ones as budgets demand.
	AddMessage(ctx context.Context, msg schema.Message)
	// AddMessages appends messages in order.
	AddMessages(ctx context.Context, msgs []schema.Message)
	// GetMessages returns the context for the next model call. A non-empty
	// query lets retrieval-capable stores prepend related long-term records.
	GetMessages(ctx context.Context, query string) []schema.Message
	// SetCurrentRequest records the task the window is serving; eviction
	// notices reference it.
	SetCurrentRequest(request string)
	// Clear drops the window. Retrieval-capable stores flush the dropped
	// messages into long-term storage first.
	Clear(ctx context.Context)
}

// Config bounds the FIFO window and the retrieval context.
type Config struct {
	MaxMessages       int // window length, default 16
	MaxTokensMessage  int // per-message cap, default 1<<15
	MaxTokensMessages int // window token cap, default 1<<19
	MaxTokensContext  int // retrieval-augmented context cap, default 1<<17
	RetrievalLimit    int // neighbors fetched per query, default 5
}

func (c *Config) normalize() {
	if c.MaxMessages <= 0 {
		c.MaxMessages = 16
	}
	if c.MaxTokensMessage <= 0 {
		c.MaxTokensMessage = 1 << 15
	}
	if c.MaxTokensMessages <= 0 {
		c.MaxTokensMessages = 1 << 19
	}
	if c.MaxTokensContext <= 0 {
		c.MaxTokensContext = 1 << 17
	}
	if c.RetrievalLimit <= 0 {
		c.RetrievalLimit = 5
	}
}

// FIFO is the plain sliding-window store. Not safe for concurrent use; each
// agent owns its memory.
type FIFO struct {
	cfg            Config
	logger         *slog.Logger
	messages       []schema.Message
	currentRequest string
}

// NewFIFO builds a sliding-window store.
func NewFIFO(cfg Config, logger *slog.Logger) *FIFO {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &FIFO{cfg: cfg, logger: logger}
}

// AddMessage appends a message and trims the window to its budgets.
func (f *FIFO) AddMessage(ctx context.Context, msg schema.Message) {
	f.push(msg)
}

// AddMessages appends messages in order.
func (f *FIFO) AddMessages(ctx context.Context, msgs []schema.Message) {
	for _, msg := range msgs {
		f.AddMessage(ctx, msg)
	}
}

// GetMessages returns a copy of the current window. The query is ignored.
func (f *FIFO) GetMessages(ctx context.Context, query string) []schema.Message {
	return append([]schema.Message(nil), f.messages...)
}

// SetCurrentRequest records the task the window is serving.
func (f *FIFO) SetCurrentRequest(request string) { f.currentRequest = request }

// Clear drops every message from the window.
func (f *FIFO) Clear(ctx context.Context) {
	f.drain()
}

// push inserts one message and returns whatever eviction removed.
func (f *FIFO) push(msg schema.Message) []schema.Message {
	if msg.NumTokens > f.cfg.MaxTokensMessage {
		f.logger.Warn("dropping oversized message",
			"role", msg.Role, "tokens", msg.NumTokens, "limit", f.cfg.MaxTokensMessage)
		return nil
	}
	f.messages = append(f.messages, msg)

	var evicted []schema.Message
	for len(f.messages) > 0 &&
		(len(f.messages) > f.cfg.MaxMessages || schema.SumTokens(f.messages) > f.cfg.MaxTokensMessages) {
		evicted = append(evicted, f.messages[0])
		f.messages = f.messages[1:]
	}
	if len(evicted) > 0 {
		f.restoreHead(&evicted)
	}
	return evicted
}

// restoreHead keeps the window head a user or system message after eviction.
// A tool head answers a call that is gone and follows it out; an assistant
// head has lost its preceding user turn, so it follows too and a stand-in
// user message restates the request in its place.
func (f *FIFO) restoreHead(evicted *[]schema.Message) {
	brokeTurn := false
	for len(f.messages) > 0 &&
		(f.messages[0].Role == schema.RoleAssistant || f.messages[0].Role == schema.RoleTool) {
		if f.messages[0].Role == schema.RoleAssistant {
			brokeTurn = true
		}
		*evicted = append(*evicted, f.messages[0])
		f.messages = f.messages[1:]
	}
	if brokeTurn {
		notice := "Current request: " + f.currentRequest +
			"\n\nDue to limited memory, some previous messages are not shown."
		f.messages = append([]schema.Message{schema.UserMessage(notice)}, f.messages...)
	}
}

// drain empties the window and returns the removed messages.
func (f *FIFO) drain() []schema.Message {
	removed := f.messages
	f.messages = nil
	return removed
}
