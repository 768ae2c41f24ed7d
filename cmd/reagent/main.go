// Command reagent runs a single request through a tool-calling agent or the
// planning flow, configured from a TOML file.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/reagent-dev/reagent/pkg/agent"
	"github.com/reagent-dev/reagent/pkg/config"
	"github.com/reagent-dev/reagent/pkg/embedding"
	"github.com/reagent-dev/reagent/pkg/flow"
	"github.com/reagent-dev/reagent/pkg/llm"
	"github.com/reagent-dev/reagent/pkg/mcp"
	"github.com/reagent-dev/reagent/pkg/memory"
	"github.com/reagent-dev/reagent/pkg/sessionlog"
	"github.com/reagent-dev/reagent/pkg/vectorstore"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to the TOML configuration file")
	llmName := flag.String("llm", "", "Named llm config entry (default entry if empty)")
	memName := flag.String("mem", "", "Named mem config entry enabling hybrid memory (FIFO only if empty)")
	servers := flag.String("mcp-servers", "", "Comma-separated mcp_server config entries to connect")
	usePlanning := flag.Bool("flow", false, "Drive the request through the planning flow")
	maxSteps := flag.Int("max-steps", 0, "Step budget per run (default 30)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := sessionlog.NewSink()
	logger := slog.New(sink.Handler(slog.NewTextHandler(os.Stderr, nil)))
	slog.SetDefault(logger)

	sessionID := uuid.NewString()
	ctx = sessionlog.WithSession(ctx, sessionID)

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	llmSection, err := cfg.LLMSection(*llmName)
	if err != nil {
		log.Fatalf("failed to resolve llm config: %v", err)
	}
	chat, err := llm.New(llmSection.ClientConfig(), logger)
	if err != nil {
		log.Fatalf("failed to create LLM client: %v", err)
	}

	mem, err := buildMemory(ctx, cfg, *memName, chat, logger)
	if err != nil {
		log.Fatalf("failed to create memory: %v", err)
	}

	clients, err := connectServers(ctx, cfg, *servers)
	if err != nil {
		log.Fatalf("failed to connect MCP servers: %v", err)
	}

	executor, err := agent.NewMCP(ctx, agent.MCPOptions{
		ToolCallOptions: agent.ToolCallOptions{
			BaseOptions: agent.BaseOptions{
				LLM:      chat,
				Memory:   mem,
				Logger:   logger,
				MaxSteps: *maxSteps,
			},
		},
		Clients: clients,
	})
	if err != nil {
		log.Fatalf("failed to create agent: %v", err)
	}
	defer executor.Close()

	request := readRequest(flag.Args())
	if request == "" {
		log.Fatal("no request given: pass it as arguments or on stdin")
	}

	var result string
	if *usePlanning {
		planner, err := flow.NewPlanning(flow.PlanningOptions{
			Agents: map[string]agent.Agent{"default": executor},
			LLM:    chat,
			Logger: logger,
		})
		if err != nil {
			log.Fatalf("failed to create planning flow: %v", err)
		}
		result = planner.Execute(ctx, request)
	} else {
		result = executor.Run(ctx, request)
	}

	fmt.Println(result)
	logger.Info("run finished",
		"session", sessionID,
		"prompt_tokens", chat.PromptTokens(),
		"completion_tokens", chat.CompletionTokens())
}

// buildMemory returns hybrid memory when a mem entry is requested and its
// referenced sections resolve, plain FIFO otherwise.
func buildMemory(ctx context.Context, cfg *config.Config, name string, chat *llm.Client, logger *slog.Logger) (memory.Memory, error) {
	if name == "" {
		return memory.NewFIFO(memory.Config{}, logger), nil
	}

	memSection, err := cfg.MemorySection(name)
	if err != nil {
		return nil, err
	}
	embdSection, err := cfg.EmbeddingSection(memSection.Embedding)
	if err != nil {
		return nil, err
	}
	vecSection, err := cfg.VectorStoreSection(memSection.VectorStore)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.New(embdSection.Options())
	if err != nil {
		return nil, err
	}
	store, err := vectorstore.New(ctx, vecSection.Options())
	if err != nil {
		return nil, err
	}

	memChat := chat
	if memSection.LLM != "" {
		section, err := cfg.LLMSection(memSection.LLM)
		if err != nil {
			return nil, err
		}
		if memChat, err = llm.New(section.ClientConfig(), logger); err != nil {
			return nil, err
		}
	}
	vision := memChat
	if memSection.LLMVision != "" {
		section, err := cfg.LLMSection(memSection.LLMVision)
		if err != nil {
			return nil, err
		}
		if vision, err = llm.New(section.ClientConfig(), logger); err != nil {
			return nil, err
		}
	}

	return memory.NewHybrid(ctx, memSection.HybridConfig(), memChat, vision, embedder, store, logger), nil
}

func connectServers(ctx context.Context, cfg *config.Config, names string) (map[string]*mcp.Client, error) {
	clients := make(map[string]*mcp.Client)
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		section, err := cfg.MCPServerSection(name)
		if err != nil {
			return nil, err
		}

		var client *mcp.Client
		switch section.Type {
		case "stdio":
			client, err = mcp.NewStdioClient(ctx, mcp.StdioConfig{
				Command: section.Command,
				Args:    section.Args,
				Env:     section.EnvList(),
			})
		case "sse":
			client, err = mcp.NewSSEClient(ctx, mcp.SSEConfig{URL: section.SSEURL()})
		default:
			err = fmt.Errorf("unknown server type %q", section.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", name, err)
		}
		clients[name] = client
	}
	return clients, nil
}

func readRequest(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return ""
	}
	var sb strings.Builder
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
