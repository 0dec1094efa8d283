// Package config defines the gateway configuration and its koanf-based
// loader. Configuration is read-only after startup; budget settings may be
// hot-reloaded through the loader's watch callback.
package config

import (
	"fmt"
	"time"

	"github.com/openresponses/gateway/pkg/observability"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server       ServerConfig                  `yaml:"server"`
	Logger       LoggerConfig                  `yaml:"logger"`
	LLM          LLMProviderConfig             `yaml:"llm"`
	Embedder     EmbedderConfig                `yaml:"embedder"`
	Orchestrator OrchestratorConfig            `yaml:"orchestrator"`
	Agentic      AgenticConfig                 `yaml:"agentic"`
	VectorStores map[string]*VectorStoreConfig `yaml:"vector_stores"`
	Tools        map[string]*ToolConfig        `yaml:"tools"`
	Store        StoreConfig                   `yaml:"store"`
	Observability observability.Config         `yaml:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggerConfig configures slog.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LLMProviderConfig configures the backend chat client.
type LLMProviderConfig struct {
	Type       string `yaml:"type"` // openai-compatible only
	Host       string `yaml:"host"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"` // default model when the request omits one
	Timeout    int    `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
	RetryDelay int    `yaml:"retry_delay"`
}

// EmbedderConfig configures the embeddings client used by vector store
// providers that need query vectors.
type EmbedderConfig struct {
	Host      string `yaml:"host"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	Timeout   int    `yaml:"timeout"`
}

// OrchestratorConfig holds the C1 budgets.
type OrchestratorConfig struct {
	MaxToolCalls int           `yaml:"max_tool_calls"`
	MaxDuration  time.Duration `yaml:"max_duration"`
}

// TuningConfig enables or disables per-parameter hyperparameter tuning.
// Per-request overrides are permitted through the agentic_search tool entry.
type TuningConfig struct {
	Temperature      *bool `yaml:"temperature"`
	TopP             *bool `yaml:"top_p"`
	PresencePenalty  *bool `yaml:"presence_penalty"`
	FrequencyPenalty *bool `yaml:"frequency_penalty"`
}

// AgenticConfig holds the C2 defaults.
type AgenticConfig struct {
	InitialSeedMultiplier int           `yaml:"initial_seed_multiplier"`
	AlphaDefault          float64       `yaml:"alpha_default"`
	MaxIterations         int           `yaml:"max_iterations"`
	MaxResults            int           `yaml:"max_results"`
	Timeout               time.Duration `yaml:"timeout"`
	Tuning                TuningConfig  `yaml:"tuning"`
}

// VectorStoreConfig configures one vector store provider instance.
type VectorStoreConfig struct {
	Type       string `yaml:"type"` // qdrant | pinecone | chromem
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"` // collection / index name
	EnableTLS  *bool  `yaml:"enable_tls"`
	// chromem
	PersistPath string `yaml:"persist_path"`
}

// ToolConfig configures one tool entry.
type ToolConfig struct {
	Type      string   `yaml:"type"` // native | remote
	Enabled   *bool    `yaml:"enabled"`
	ServerURL string   `yaml:"server_url"` // remote tools
	Aliases   []string `yaml:"aliases"`
	// think tool
	Acknowledgement string `yaml:"acknowledgement"`
}

// StoreConfig configures the optional response store.
type StoreConfig struct {
	Type string `yaml:"type"` // sqlite | memory | none
	Path string `yaml:"path"`
}

// BoolPtr is a literal helper for optional booleans.
func BoolPtr(b bool) *bool { return &b }

// SetDefaults fills unset fields with the documented defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "text"
	}
	if c.LLM.Type == "" {
		c.LLM.Type = "openai"
	}
	if c.LLM.Host == "" {
		c.LLM.Host = "https://api.openai.com/v1"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.RetryDelay == 0 {
		c.LLM.RetryDelay = 2
	}
	if c.Embedder.Host == "" {
		c.Embedder.Host = c.LLM.Host
	}
	if c.Embedder.Model == "" {
		c.Embedder.Model = "text-embedding-3-small"
	}
	if c.Embedder.Timeout == 0 {
		c.Embedder.Timeout = 30
	}
	if c.Orchestrator.MaxToolCalls == 0 {
		c.Orchestrator.MaxToolCalls = 10
	}
	if c.Orchestrator.MaxDuration == 0 {
		c.Orchestrator.MaxDuration = 60 * time.Second
	}
	if c.Agentic.InitialSeedMultiplier == 0 {
		c.Agentic.InitialSeedMultiplier = 3
	}
	if c.Agentic.AlphaDefault == 0 {
		c.Agentic.AlphaDefault = 0.5
	}
	if c.Agentic.MaxIterations == 0 {
		c.Agentic.MaxIterations = 5
	}
	if c.Agentic.MaxResults == 0 {
		c.Agentic.MaxResults = 10
	}
	if c.Agentic.Timeout == 0 {
		c.Agentic.Timeout = 120 * time.Second
	}
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
}

// Validate enforces the documented ranges.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxToolCalls < 1 || c.Orchestrator.MaxToolCalls > 100 {
		return fmt.Errorf("orchestrator.max_tool_calls must be in [1, 100], got %d", c.Orchestrator.MaxToolCalls)
	}
	if c.Orchestrator.MaxDuration < time.Second || c.Orchestrator.MaxDuration > 10*time.Minute {
		return fmt.Errorf("orchestrator.max_duration must be in [1s, 10m], got %s", c.Orchestrator.MaxDuration)
	}
	if c.Agentic.InitialSeedMultiplier < 1 || c.Agentic.InitialSeedMultiplier > 10 {
		return fmt.Errorf("agentic.initial_seed_multiplier must be in [1, 10], got %d", c.Agentic.InitialSeedMultiplier)
	}
	if c.Agentic.AlphaDefault < 0 || c.Agentic.AlphaDefault > 1 {
		return fmt.Errorf("agentic.alpha_default must be in [0, 1], got %g", c.Agentic.AlphaDefault)
	}
	for id, vs := range c.VectorStores {
		if vs == nil {
			return fmt.Errorf("vector_stores.%s: empty entry", id)
		}
		switch vs.Type {
		case "qdrant", "pinecone", "chromem":
		default:
			return fmt.Errorf("vector_stores.%s: unknown type %q", id, vs.Type)
		}
	}
	for name, tc := range c.Tools {
		if tc == nil {
			continue
		}
		if tc.Type == "remote" && tc.ServerURL == "" {
			return fmt.Errorf("tools.%s: remote tools require server_url", name)
		}
	}
	switch c.Store.Type {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite store")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("store.type must be sqlite, memory, or none, got %q", c.Store.Type)
	}
	return nil
}
