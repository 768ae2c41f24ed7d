// Package mcp implements a Model Context Protocol client covering the tooling
// surface the agent runtime needs: the initialize handshake, tools/list with
// cursor pagination and tools/call.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const protocolVersion = "2024-11-05"

// ClientInfo identifies the calling application during the handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo is the server metadata captured from the handshake response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Options control how the client initializes the remote server.
type Options struct {
	ClientInfo      ClientInfo
	Capabilities    map[string]any
	ProtocolVersion string
}

// ToolDefinition mirrors the subset of the MCP tool schema the runtime uses.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Content is a single part of a tool invocation result. Image parts carry the
// raw base64 payload and its mime type.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CallResult is the structured output of a tools/call invocation.
type CallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text joins the text parts of the result with newlines.
func (r CallResult) Text() string {
	var segments []string
	for _, part := range r.Content {
		if part.Type != "text" {
			continue
		}
		if trimmed := strings.TrimSpace(part.Text); trimmed != "" {
			segments = append(segments, trimmed)
		}
	}
	return strings.Join(segments, "\n")
}

// Transport is the message channel a client speaks JSON-RPC over.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Client speaks the tools subset of the Model Context Protocol over a
// Transport. Calls are serialized; a single in-flight request owns the wire.
type Client struct {
	transport    Transport
	info         ClientInfo
	capabilities map[string]any
	protoVersion string

	idCounter atomic.Uint64
	mu        sync.Mutex
	closed    atomic.Bool

	serverInfo ServerInfo
}

// NewClient performs the initialize handshake over the transport. On failure
// the transport is closed before returning.
func NewClient(ctx context.Context, transport Transport, opts Options) (*Client, error) {
	if transport == nil {
		return nil, errors.New("mcp: transport is nil")
	}

	info := opts.ClientInfo
	if strings.TrimSpace(info.Name) == "" {
		info.Name = "reagent"
	}
	if strings.TrimSpace(info.Version) == "" {
		info.Version = "dev"
	}

	caps := opts.Capabilities
	if caps == nil {
		caps = map[string]any{
			"tools": map[string]bool{
				"list": true,
				"call": true,
			},
		}
	}

	proto := opts.ProtocolVersion
	if strings.TrimSpace(proto) == "" {
		proto = protocolVersion
	}

	client := &Client{
		transport:    transport,
		info:         info,
		capabilities: caps,
		protoVersion: proto,
	}

	if err := client.initialize(ctx); err != nil {
		transport.Close()
		return nil, err
	}

	return client, nil
}

// Close releases the underlying transport. Close is idempotent.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if c.closed.Swap(true) {
		return nil
	}
	return c.transport.Close()
}

// Server returns the metadata captured during the handshake.
func (c *Client) Server() ServerInfo {
	if c == nil {
		return ServerInfo{}
	}
	return c.serverInfo
}

// ListTools retrieves the full tool list, following pagination cursors when
// the server paginates.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}

	var (
		cursor string
		tools  []ToolDefinition
	)
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}

		var resp struct {
			Tools      []ToolDefinition `json:"tools"`
			NextCursor string           `json:"nextCursor,omitempty"`
		}
		if err := c.call(ctx, "tools/list", params, &resp); err != nil {
			return nil, err
		}

		tools = append(tools, resp.Tools...)
		if strings.TrimSpace(resp.NextCursor) == "" {
			break
		}
		cursor = resp.NextCursor
	}
	return tools, nil
}

// CallTool invokes a named tool. A result flagged isError is returned along
// with an error carrying the tool's textual output.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (CallResult, error) {
	if err := c.ensureOpen(); err != nil {
		return CallResult{}, err
	}
	if strings.TrimSpace(name) == "" {
		return CallResult{}, errors.New("mcp: tool name is required")
	}

	params := map[string]any{"name": name}
	if len(arguments) > 0 {
		params["arguments"] = arguments
	}

	var result CallResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return CallResult{}, err
	}

	if result.IsError {
		message := strings.TrimSpace(result.Text())
		if message == "" {
			message = "tool reported an error"
		}
		return result, fmt.Errorf("mcp: tool %s failed: %s", name, message)
	}
	return result, nil
}

func (c *Client) ensureOpen() error {
	if c == nil {
		return errors.New("mcp: client is nil")
	}
	if c.closed.Load() {
		return errors.New("mcp: client has been closed")
	}
	return nil
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": c.protoVersion,
		"clientInfo":      c.info,
		"capabilities":    c.capabilities,
	}

	var resp struct {
		ProtocolVersion string     `json:"protocolVersion"`
		ServerInfo      ServerInfo `json:"serverInfo"`
	}
	if err := c.call(ctx, "initialize", params, &resp); err != nil {
		return err
	}
	c.serverInfo = resp.ServerInfo

	notification, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	})
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, notification)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type responseEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *string         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	id := strconv.FormatUint(c.idCounter.Add(1), 10)
	payload, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("mcp: marshal request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return errors.New("mcp: client has been closed")
	}

	if err := c.transport.Send(ctx, payload); err != nil {
		return err
	}

	for {
		msg, err := c.transport.Receive(ctx)
		if err != nil {
			return err
		}

		var env responseEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			return fmt.Errorf("mcp: decode response: %w", err)
		}

		// Server notifications and responses to other ids are skipped until
		// the matching response arrives.
		if env.Method != "" {
			continue
		}
		if env.ID == nil || *env.ID != id {
			continue
		}

		if env.Error != nil {
			return errors.New(env.Error.Message)
		}
		if out != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, out); err != nil {
				return fmt.Errorf("mcp: decode result: %w", err)
			}
		}
		return nil
	}
}
