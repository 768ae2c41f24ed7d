// Package schema defines the chat message model shared by the agent loop,
// the memory layer and the LLM clients.
package schema

import (
	"encoding/json"

	"github.com/reagent-dev/reagent/pkg/tokenizer"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Function names the callee of a tool call together with its raw JSON
// arguments. Arguments may arrive as an encoded string and are parsed at
// dispatch time.
type Function struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Empty reports whether the function carries no information.
func (f Function) Empty() bool {
	return f.Name == "" && len(f.Arguments) == 0
}

// ToolCall is a structured request from the model to invoke a named tool.
type ToolCall struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Empty reports whether the call carries no information.
func (tc ToolCall) Empty() bool {
	return tc.ID == "" && tc.Type == "" && tc.Function.Empty()
}

// Message is one entry in a conversation. NumTokens is computed once at
// construction and never mutated afterwards.
type Message struct {
	Role       string     `json:"role"`
	Content    Content    `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	NumTokens  int        `json:"-"`
}

// NewMessage constructs a message and caches its token count.
func NewMessage(role string, content Content, name, toolCallID string, toolCalls []ToolCall) Message {
	msg := Message{
		Role:       role,
		Content:    content,
		Name:       name,
		ToolCallID: toolCallID,
		ToolCalls:  toolCalls,
	}
	msg.NumTokens = countMessageTokens(msg)
	return msg
}

// SystemMessage builds a system-role message.
func SystemMessage(text string) Message {
	return NewMessage(RoleSystem, TextContent(text), "", "", nil)
}

// UserMessage builds a user-role message from plain text.
func UserMessage(text string) Message {
	return NewMessage(RoleUser, TextContent(text), "", "", nil)
}

// UserContentMessage builds a user-role message from arbitrary content.
func UserContentMessage(content Content) Message {
	return NewMessage(RoleUser, content, "", "", nil)
}

// AssistantMessage builds an assistant-role message, optionally carrying tool
// calls.
func AssistantMessage(content Content, toolCalls ...ToolCall) Message {
	return NewMessage(RoleAssistant, content, "", "", toolCalls)
}

// ToolMessage builds a tool-role message referencing the originating call.
func ToolMessage(content Content, toolCallID, name string) Message {
	return NewMessage(RoleTool, content, name, toolCallID, nil)
}

// MarshalJSON omits empty content so that wire payloads stay minimal.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire struct {
		Role       string     `json:"role"`
		Content    *Content   `json:"content,omitempty"`
		Name       string     `json:"name,omitempty"`
		ToolCallID string     `json:"tool_call_id,omitempty"`
		ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	}
	w := wire{
		Role:       m.Role,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
		ToolCalls:  m.ToolCalls,
	}
	if !m.Content.Empty() {
		content := m.Content
		w.Content = &content
	}
	return json.Marshal(w)
}

// UnmarshalJSON restores a message and recomputes its cached token count.
func (m *Message) UnmarshalJSON(data []byte) error {
	type wire struct {
		Role       string     `json:"role"`
		Content    Content    `json:"content"`
		Name       string     `json:"name"`
		ToolCallID string     `json:"tool_call_id"`
		ToolCalls  []ToolCall `json:"tool_calls"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = NewMessage(w.Role, w.Content, w.Name, w.ToolCallID, w.ToolCalls)
	return nil
}

func countMessageTokens(m Message) int {
	counter := tokenizer.Default()
	n := tokenizer.TokensPerMessage
	n += counter.Count(m.Role)
	n += counter.Count(m.Content.Plain())
	if m.Name != "" {
		n += tokenizer.TokensPerName
		n += counter.Count(m.Name)
	}
	for _, call := range m.ToolCalls {
		n += counter.Count(call.Function.Name)
		n += counter.Count(string(call.Function.Arguments))
	}
	return n
}

// SumTokens totals the cached token counts of a message slice, including the
// reply primer overhead.
func SumTokens(messages []Message) int {
	total := tokenizer.ReplyPrimer
	for _, m := range messages {
		total += m.NumTokens
	}
	return total
}
