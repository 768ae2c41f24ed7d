// Package llm provides the chat client of the runtime. One contract covers
// native and emulated tool calling: AskTool always returns {content,
// tool_calls} regardless of whether the provider speaks tool calls itself.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reagent-dev/reagent/pkg/schema"
)

// ErrUpstream wraps provider failures that persist after retries.
var ErrUpstream = errors.New("llm: upstream failure")

const (
	defaultMaxRetries = 3
	retryPause        = 500 * time.Millisecond
)

// Config selects the provider and shapes requests.
type Config struct {
	Provider      string // "oai" (default) or "claude"
	Model         string
	APIKey        string
	BaseURL       string
	Endpoint      string
	VisionDetails string
	MaxTokens     int
	Timeout       time.Duration
	Temperature   float32
	EnableVision  bool
	EnableTool    bool
	EnableThink   bool
	ToolParser    ToolParser
	MaxRetries    int
}

func (c *Config) normalize() {
	if c.Provider == "" {
		c.Provider = "oai"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	c.ToolParser = c.ToolParser.normalized()
}

// Response is the uniform reply shape of AskTool.
type Response struct {
	Content   string
	ToolCalls []schema.ToolCall
}

type backendRequest struct {
	Messages   []schema.Message
	Tools      []map[string]any
	ToolChoice string
}

type backendReply struct {
	Content          string
	ToolCalls        []schema.ToolCall
	PromptTokens     int
	CompletionTokens int
}

type backend interface {
	chat(ctx context.Context, req backendRequest) (backendReply, error)
}

// Client drives one chat model. Safe for concurrent use; token counters are
// atomic.
type Client struct {
	cfg     Config
	backend backend
	logger  *slog.Logger

	promptTokens     atomic.Int64
	completionTokens atomic.Int64
}

// New builds a client for the configured provider.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}

	var (
		b   backend
		err error
	)
	switch cfg.Provider {
	case "oai":
		b, err = newOpenAIBackend(cfg)
	case "claude":
		b, err = newAnthropicBackend(cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, backend: b, logger: logger}, nil
}

// EnableVision reports whether the configured model accepts image parts.
func (c *Client) EnableVision() bool { return c.cfg.EnableVision }

// VisionDetails returns the configured image detail level.
func (c *Client) VisionDetails() string { return c.cfg.VisionDetails }

// PromptTokens returns the accumulated prompt token count.
func (c *Client) PromptTokens() int { return int(c.promptTokens.Load()) }

// CompletionTokens returns the accumulated completion token count.
func (c *Client) CompletionTokens() int { return int(c.completionTokens.Load()) }

// ResetTokens zeroes both token counters.
func (c *Client) ResetTokens() {
	c.promptTokens.Store(0)
	c.completionTokens.Store(0)
}

// Ask sends a plain completion request and returns the assistant content.
func (c *Client) Ask(ctx context.Context, messages []schema.Message, systemPrompt, nextStepPrompt string) (string, error) {
	prepared := c.prepare(messages, systemPrompt, nextStepPrompt)

	reply, err := c.withRetries(ctx, backendRequest{Messages: prepared})
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

// AskTool sends a tool-capable request. toolChoice must be one of "auto",
// "required" or "none". When native tool calling is disabled by config, the
// tool schema is folded into the prompt and the reply content is parsed for
// fenced calls.
func (c *Client) AskTool(ctx context.Context, messages []schema.Message, systemPrompt, nextStepPrompt string, tools []map[string]any, toolChoice string) (Response, error) {
	switch toolChoice {
	case "auto", "required", "none":
	default:
		return Response{}, fmt.Errorf("llm: invalid tool_choice %q", toolChoice)
	}
	if toolChoice == "required" && len(tools) == 0 {
		return Response{}, errors.New("llm: no tool available for required tool choice")
	}

	prepared := c.prepare(messages, systemPrompt, nextStepPrompt)

	req := backendRequest{Messages: prepared}
	if c.cfg.EnableTool {
		req.Tools = tools
		req.ToolChoice = toolChoice
	} else {
		toolList, err := json.MarshalIndent(tools, "", "  ")
		if err != nil {
			return Response{}, err
		}
		hint := c.cfg.ToolParser.Hint(string(toolList))
		req.Messages = appendToLastUser(req.Messages, hint)
	}

	reply, err := c.withRetries(ctx, req)
	if err != nil {
		return Response{}, err
	}

	resp := Response{Content: reply.Content, ToolCalls: reply.ToolCalls}
	if !c.cfg.EnableTool {
		content, calls, err := c.cfg.ToolParser.Parse(reply.Content)
		if err != nil {
			return Response{}, err
		}
		resp.Content = content
		resp.ToolCalls = calls
	}
	return resp, nil
}

func (c *Client) withRetries(ctx context.Context, req backendRequest) (backendReply, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryPause):
			case <-ctx.Done():
				return backendReply{}, ctx.Err()
			}
			c.logger.Info("retrying LLM request", "attempt", attempt, "max_retries", c.cfg.MaxRetries)
		}

		reply, err := c.backend.chat(ctx, req)
		if err != nil {
			c.logger.Error("LLM request failed", "error", err)
			lastErr = err
			continue
		}
		c.promptTokens.Add(int64(reply.PromptTokens))
		c.completionTokens.Add(int64(reply.CompletionTokens))
		return reply, nil
	}
	return backendReply{}, fmt.Errorf("%w: %v", ErrUpstream, lastErr)
}

// prepare assembles the final message list: system prompt first, the
// normalized conversation, and the next-step prompt folded into the trailing
// user message.
func (c *Client) prepare(messages []schema.Message, systemPrompt, nextStepPrompt string) []schema.Message {
	var out []schema.Message
	if systemPrompt != "" {
		out = append(out, schema.SystemMessage(systemPrompt))
	}
	out = append(out, c.formatMessages(messages)...)
	if nextStepPrompt != "" {
		out = appendToLastUser(out, nextStepPrompt)
	}
	return out
}

// formatMessages normalizes the conversation for the provider: empty messages
// are dropped, tool messages become user messages when native tool calling is
// off, consecutive same-role messages merge, and image parts flatten to
// placeholders when vision is off.
func (c *Client) formatMessages(messages []schema.Message) []schema.Message {
	var formatted []schema.Message
	for _, message := range messages {
		if message.Content.Empty() && len(message.ToolCalls) == 0 {
			continue
		}
		msg := message
		if !c.cfg.EnableTool {
			if msg.Role == schema.RoleTool {
				prefix := schema.TextContent("Tool result for `" + msg.Name + "`:\n\n")
				msg = schema.Message{Role: schema.RoleUser, Content: schema.Concat(prefix, msg.Content)}
			} else if len(msg.ToolCalls) > 0 {
				dumped := c.cfg.ToolParser.Dump(msg.ToolCalls)
				msg = schema.Message{Role: msg.Role, Content: schema.Concat(msg.Content, schema.TextContent(dumped))}
			}
		}
		formatted = append(formatted, msg)
	}

	var merged []schema.Message
	for _, msg := range formatted {
		if len(merged) > 0 && merged[len(merged)-1].Role == msg.Role {
			last := &merged[len(merged)-1]
			last.Content = schema.Concat(last.Content, msg.Content)
			last.ToolCalls = append(last.ToolCalls, msg.ToolCalls...)
			continue
		}
		merged = append(merged, msg)
	}

	if !c.cfg.EnableVision {
		for i := range merged {
			if merged[i].Content.Multi() {
				merged[i].Content = schema.TextContent(merged[i].Content.Plain())
			}
		}
	}
	return merged
}

func appendToLastUser(messages []schema.Message, text string) []schema.Message {
	if len(messages) == 0 || messages[len(messages)-1].Role != schema.RoleUser {
		return append(messages, schema.UserMessage(text))
	}
	last := &messages[len(messages)-1]
	last.Content.AppendText(text)
	return messages
}

// ----------------------------------------------------------------------------
// Registry

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Client)
)

// Lookup returns a previously registered client.
func Lookup(name string) (*Client, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[name]
	return c, ok
}

// Register stores a client under a name, replacing any existing entry.
func Register(name string, c *Client) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = c
}

// GetInstance returns the named client, constructing and registering it on
// first use.
func GetInstance(name string, cfg Config, logger *slog.Logger) (*Client, error) {
	if c, ok := Lookup(name); ok {
		return c, nil
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if c, ok := registry[name]; ok {
		return c, nil
	}
	c, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	registry[name] = c
	return c, nil
}
