// Package config loads the runtime's TOML configuration. Five namespaces are
// recognized, each keyed by name: llm, mcp_server, mem, embd and vec. A lookup
// for a missing name falls back to the namespace's default entry.
package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/reagent-dev/reagent/pkg/embedding"
	"github.com/reagent-dev/reagent/pkg/llm"
	"github.com/reagent-dev/reagent/pkg/memory"
	"github.com/reagent-dev/reagent/pkg/vectorstore"
)

// DefaultName is the entry every namespace falls back to.
const DefaultName = "default"

// LLM configures one chat model endpoint.
type LLM struct {
	Provider         string  `mapstructure:"provider"`
	Model            string  `mapstructure:"model"`
	APIKey           string  `mapstructure:"api_key"`
	BaseURL          string  `mapstructure:"base_url"`
	Endpoint         string  `mapstructure:"endpoint"`
	VisionDetails    string  `mapstructure:"vision_details"`
	MaxTokens        int     `mapstructure:"max_tokens"`
	Timeout          int     `mapstructure:"timeout"`
	Temperature      float32 `mapstructure:"temperature"`
	EnableVision     bool    `mapstructure:"enable_vision"`
	EnableTool       bool    `mapstructure:"enable_tool"`
	EnableThinking   bool    `mapstructure:"enable_thinking"`
	ToolStart        string  `mapstructure:"tool_start"`
	ToolEnd          string  `mapstructure:"tool_end"`
	ToolHintTemplate string  `mapstructure:"tool_hint_template"`
}

// ClientConfig converts the section into the chat client's configuration.
func (s LLM) ClientConfig() llm.Config {
	return llm.Config{
		Provider:      s.Provider,
		Model:         s.Model,
		APIKey:        s.APIKey,
		BaseURL:       s.BaseURL,
		Endpoint:      s.Endpoint,
		VisionDetails: s.VisionDetails,
		MaxTokens:     s.MaxTokens,
		Timeout:       time.Duration(s.Timeout) * time.Second,
		Temperature:   s.Temperature,
		EnableVision:  s.EnableVision,
		EnableTool:    s.EnableTool,
		EnableThink:   s.EnableThinking,
		ToolParser: llm.ToolParser{
			Start:        s.ToolStart,
			End:          s.ToolEnd,
			HintTemplate: s.ToolHintTemplate,
		},
	}
}

// MCPServer configures one MCP server connection.
type MCPServer struct {
	Type    string            `mapstructure:"type"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Host    string            `mapstructure:"host"`
	Port    int               `mapstructure:"port"`
	URL     string            `mapstructure:"url"`
}

func (s MCPServer) validate() error {
	switch s.Type {
	case "stdio":
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("stdio server requires command")
		}
	case "sse":
		if strings.TrimSpace(s.URL) == "" && strings.TrimSpace(s.Host) == "" {
			return fmt.Errorf("sse server requires url or host")
		}
	default:
		return fmt.Errorf("unknown server type %q", s.Type)
	}
	return nil
}

// EnvList renders the env map as KEY=VALUE pairs in sorted order.
func (s MCPServer) EnvList() []string {
	keys := make([]string, 0, len(s.Env))
	for key := range s.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, key+"="+s.Env[key])
	}
	return env
}

// SSEURL resolves the event stream URL from the url field or host and port.
func (s MCPServer) SSEURL() string {
	if s.URL != "" {
		return s.URL
	}
	host := s.Host
	if s.Port > 0 {
		host = fmt.Sprintf("%s:%d", host, s.Port)
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return strings.TrimSuffix(host, "/") + "/sse"
}

// Memory configures the hybrid memory, referencing the embedding, vector
// store and LLM sections by name.
type Memory struct {
	MaxMessages          int    `mapstructure:"max_messages"`
	MaxTokensMessage     int    `mapstructure:"max_tokens_message"`
	MaxTokensMessages    int    `mapstructure:"max_tokens_messages"`
	MaxTokensContext     int    `mapstructure:"max_tokens_context"`
	RetrievalLimit       int    `mapstructure:"retrieval_limit"`
	FactExtractionPrompt string `mapstructure:"fact_extraction_prompt"`
	UpdateMemoryPrompt   string `mapstructure:"update_memory_prompt"`
	Embedding            string `mapstructure:"embd"`
	VectorStore          string `mapstructure:"vec"`
	LLM                  string `mapstructure:"llm"`
	LLMVision            string `mapstructure:"llm_vision"`
}

// HybridConfig converts the section into the memory layer's configuration.
func (s Memory) HybridConfig() memory.HybridConfig {
	return memory.HybridConfig{
		Config: memory.Config{
			MaxMessages:       s.MaxMessages,
			MaxTokensMessage:  s.MaxTokensMessage,
			MaxTokensMessages: s.MaxTokensMessages,
			MaxTokensContext:  s.MaxTokensContext,
			RetrievalLimit:    s.RetrievalLimit,
		},
		FactExtractionPrompt: s.FactExtractionPrompt,
		UpdateMemoryPrompt:   s.UpdateMemoryPrompt,
	}
}

// Embedding configures one embedding endpoint.
type Embedding struct {
	Provider      string `mapstructure:"provider"`
	BaseURL       string `mapstructure:"base_url"`
	Endpoint      string `mapstructure:"endpoint"`
	Model         string `mapstructure:"model"`
	APIKey        string `mapstructure:"api_key"`
	EmbeddingDims int    `mapstructure:"embedding_dims"`
	MaxRetries    int    `mapstructure:"max_retries"`
}

// Options converts the section into embedder options.
func (s Embedding) Options() embedding.Options {
	return embedding.Options{
		Provider:   s.Provider,
		BaseURL:    s.BaseURL,
		Model:      s.Model,
		APIKey:     s.APIKey,
		Dims:       s.EmbeddingDims,
		MaxRetries: s.MaxRetries,
	}
}

// VectorStore configures one vector store backend.
type VectorStore struct {
	Provider       string `mapstructure:"provider"`
	Dim            int    `mapstructure:"dim"`
	MaxElements    int    `mapstructure:"max_elements"`
	M              int    `mapstructure:"m"`
	EfConstruction int    `mapstructure:"ef_construction"`
	Metric         string `mapstructure:"metric"`
	ConnString     string `mapstructure:"conn_string"`
	Table          string `mapstructure:"table"`
	URI            string `mapstructure:"uri"`
	Database       string `mapstructure:"database"`
	Collection     string `mapstructure:"collection"`
}

// Options converts the section into vector store options.
func (s VectorStore) Options() vectorstore.Options {
	return vectorstore.Options{
		Provider:       s.Provider,
		Dim:            s.Dim,
		MaxElements:    s.MaxElements,
		M:              s.M,
		EfConstruction: s.EfConstruction,
		Metric:         vectorstore.Metric(s.Metric),
		ConnString:     s.ConnString,
		Table:          s.Table,
		URI:            s.URI,
		Database:       s.Database,
		Collection:     s.Collection,
	}
}

// Config is the merged configuration of the runtime.
type Config struct {
	LLMs         map[string]LLM         `mapstructure:"llm"`
	MCPServers   map[string]MCPServer   `mapstructure:"mcp_server"`
	Memories     map[string]Memory      `mapstructure:"mem"`
	Embeddings   map[string]Embedding   `mapstructure:"embd"`
	VectorStores map[string]VectorStore `mapstructure:"vec"`

	logger *slog.Logger
}

// Load reads and validates the TOML file at path.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.logger = logger

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every mcp_server, vec, llm and embd entry; mem entries are
// not checked.
func (c *Config) Validate() error {
	for name, server := range c.MCPServers {
		if err := server.validate(); err != nil {
			return fmt.Errorf("config: mcp_server.%s: %w", name, err)
		}
	}
	for name, vec := range c.VectorStores {
		switch vec.Metric {
		case "", string(vectorstore.MetricL2), string(vectorstore.MetricIP):
		default:
			return fmt.Errorf("config: vec.%s: unknown metric %q", name, vec.Metric)
		}
	}
	for name, section := range c.LLMs {
		if section.Model == "" {
			return fmt.Errorf("config: llm.%s: model is required", name)
		}
	}
	for name, section := range c.Embeddings {
		if section.Model == "" {
			return fmt.Errorf("config: embd.%s: model is required", name)
		}
	}
	return nil
}

// LLMSection resolves a named llm entry with default fallback.
func (c *Config) LLMSection(name string) (LLM, error) {
	return lookup(c, "llm", c.LLMs, name)
}

// MCPServerSection resolves a named mcp_server entry with default fallback.
func (c *Config) MCPServerSection(name string) (MCPServer, error) {
	return lookup(c, "mcp_server", c.MCPServers, name)
}

// MemorySection resolves a named mem entry with default fallback.
func (c *Config) MemorySection(name string) (Memory, error) {
	return lookup(c, "mem", c.Memories, name)
}

// EmbeddingSection resolves a named embd entry with default fallback.
func (c *Config) EmbeddingSection(name string) (Embedding, error) {
	return lookup(c, "embd", c.Embeddings, name)
}

// VectorStoreSection resolves a named vec entry with default fallback.
func (c *Config) VectorStoreSection(name string) (VectorStore, error) {
	return lookup(c, "vec", c.VectorStores, name)
}

func lookup[T any](c *Config, namespace string, entries map[string]T, name string) (T, error) {
	if name == "" {
		name = DefaultName
	}
	if entry, ok := entries[name]; ok {
		return entry, nil
	}
	if entry, ok := entries[DefaultName]; ok {
		if c.logger != nil {
			c.logger.Warn("config entry not found, falling back to default", "namespace", namespace, "name", name)
		}
		return entry, nil
	}
	var zero T
	return zero, fmt.Errorf("config: no %s entry named %q and no default", namespace, name)
}
