package agent

import (
	"context"
	"fmt"

	"github.com/reagent-dev/reagent/pkg/mcp"
	"github.com/reagent-dev/reagent/pkg/prompt"
)

// MCP is a tool-calling agent whose registry is populated from one or more
// MCP servers. Remote tools are listed once at construction; the clients stay
// open for the agent's lifetime.
type MCP struct {
	*ToolCall

	clients        map[string]*mcp.Client
	promptTemplate string
}

// MCPOptions configure an MCP agent. Clients maps a server name to an
// initialized client; every server's tools are registered alongside any
// locally provided tools.
type MCPOptions struct {
	ToolCallOptions
	Clients map[string]*mcp.Client
}

// NewMCP builds the agent and registers the tools of every configured server.
// A server whose tool list cannot be fetched fails construction.
func NewMCP(ctx context.Context, opts MCPOptions) (*MCP, error) {
	if opts.Name == "" {
		opts.Name = "mcp_agent"
	}
	if opts.Description == "" {
		opts.Description = "an agent that can execute tool calls on MCP servers."
	}
	if opts.NextStepPrompt == "" {
		opts.NextStepPrompt = prompt.ToolCallNextStep
	}

	base, err := NewToolCall(opts.ToolCallOptions)
	if err != nil {
		return nil, err
	}

	a := &MCP{
		ToolCall:       base,
		clients:        opts.Clients,
		promptTemplate: opts.NextStepPrompt,
	}

	for name, client := range opts.Clients {
		tools, err := mcp.Tools(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("agent: list tools of MCP server %s: %w", name, err)
		}
		for _, t := range tools {
			if err := a.tools.Add(t); err != nil {
				return nil, fmt.Errorf("agent: register tool %s of MCP server %s: %w", t.Name(), name, err)
			}
		}
		a.logger.Info("registered MCP server", "agent", a.name, "server", name, "tools", len(tools))
	}

	return a, nil
}

// Run renders the date and request placeholders into the next-step prompt for
// the duration of the run, then restores the template.
func (a *MCP) Run(ctx context.Context, request string) string {
	a.SetNextStepPrompt(prompt.Render(a.promptTemplate, request))
	defer a.SetNextStepPrompt(a.promptTemplate)
	return a.Base.Run(ctx, request)
}

// Close shuts down every server client. The registered remote tools are
// unusable afterwards.
func (a *MCP) Close() error {
	var firstErr error
	for name, client := range a.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("agent: close MCP server %s: %w", name, err)
		}
	}
	return firstErr
}
