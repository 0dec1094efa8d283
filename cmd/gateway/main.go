// Command gateway serves the extended-response API over a chat-completion
// backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/openresponses/gateway/pkg/agentic"
	"github.com/openresponses/gateway/pkg/config"
	"github.com/openresponses/gateway/pkg/databases"
	"github.com/openresponses/gateway/pkg/embedders"
	"github.com/openresponses/gateway/pkg/llms"
	"github.com/openresponses/gateway/pkg/logger"
	"github.com/openresponses/gateway/pkg/observability"
	"github.com/openresponses/gateway/pkg/responses"
	"github.com/openresponses/gateway/pkg/server"
	"github.com/openresponses/gateway/pkg/store"
	"github.com/openresponses/gateway/pkg/tools"
)

type CLI struct {
	Serve    ServeCmd    `cmd:"" default:"1" help:"Start the gateway server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file and exit."`

	LogLevel  string `help:"Override the configured log level (debug|info|warn|error)." env:"GATEWAY_LOG_LEVEL"`
	LogFormat string `help:"Override the configured log format (text|json)." env:"GATEWAY_LOG_FORMAT"`
}

type ServeCmd struct {
	Config     string   `short:"c" default:"gateway.yaml" help:"Configuration source path (file path or remote key)."`
	ConfigType string   `default:"file" help:"Configuration source: file, consul, or etcd."`
	Endpoints  []string `help:"Consul/etcd endpoints when using a remote config source."`
	Watch      bool     `help:"Reload orchestration budgets when the config source changes."`
}

type ValidateCmd struct {
	Config     string   `short:"c" default:"gateway.yaml" help:"Configuration source path."`
	ConfigType string   `default:"file" help:"Configuration source: file, consul, or etcd."`
	Endpoints  []string `help:"Consul/etcd endpoints when using a remote config source."`
}

func (v *ValidateCmd) Run(cli *CLI) error {
	configType, err := config.ParseConfigType(v.ConfigType)
	if err != nil {
		return err
	}
	if _, err := config.LoadConfig(config.LoaderOptions{
		Type:      configType,
		Path:      v.Config,
		Endpoints: v.Endpoints,
	}); err != nil {
		return err
	}
	fmt.Printf("%s: configuration is valid\n", v.Config)
	return nil
}

func (s *ServeCmd) Run(cli *CLI) error {
	configType, err := config.ParseConfigType(s.ConfigType)
	if err != nil {
		return err
	}

	loader, err := config.NewLoader(config.LoaderOptions{
		Type:      configType,
		Path:      s.Config,
		Endpoints: s.Endpoints,
		Watch:     s.Watch,
	})
	if err != nil {
		return err
	}

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	defer loader.Stop()

	if cli.LogLevel != "" {
		cfg.Logger.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logger.Format = cli.LogFormat
	}
	if _, err := logger.Setup(logger.Options{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
	}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	llm, err := llms.NewOpenAIProviderFromConfig(&cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create llm provider: %w", err)
	}
	defer llm.Close()

	registry, stores, err := buildToolRegistry(ctx, cfg, llm)
	if err != nil {
		return err
	}
	if stores != nil {
		defer stores.Close()
	}

	st, err := store.New(&cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create response store: %w", err)
	}
	if st != nil {
		defer st.Close()
	}

	orchestrator := responses.NewOrchestrator(llm, registry, st, &cfg.Orchestrator)

	// Watch mode swaps the budgets in place; everything else needs a restart.
	if s.Watch {
		loader.OnChange(func(newCfg *config.Config) error {
			cfg.Orchestrator.MaxToolCalls = newCfg.Orchestrator.MaxToolCalls
			cfg.Orchestrator.MaxDuration = newCfg.Orchestrator.MaxDuration
			slog.Info("Orchestration budgets reloaded",
				"max_tool_calls", newCfg.Orchestrator.MaxToolCalls,
				"max_duration", newCfg.Orchestrator.MaxDuration)
			return nil
		})
	}

	srv := server.New(&cfg.Server, orchestrator)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildToolRegistry registers the native tools plus any configured remote
// tool servers. The store registry is nil when no vector stores are
// configured.
func buildToolRegistry(ctx context.Context, cfg *config.Config, llm llms.Provider) (*tools.Registry, *databases.StoreRegistry, error) {
	registry := tools.NewRegistry()

	var stores *databases.StoreRegistry
	if len(cfg.VectorStores) > 0 {
		var err error
		stores, err = databases.NewStoreRegistry(cfg.VectorStores)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create vector stores: %w", err)
		}

		embedder, err := embedders.NewOpenAIEmbedderFromConfig(&cfg.Embedder)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create embedder: %w", err)
		}

		if err := registry.Register(tools.NewFileSearchTool(stores, embedder)); err != nil {
			return nil, nil, err
		}

		engine := agentic.NewEngine(llm, stores, embedder, &cfg.Agentic)
		if err := registry.Register(tools.NewAgenticSearchTool(engine, &cfg.Agentic)); err != nil {
			return nil, nil, err
		}
	}

	for name, toolCfg := range cfg.Tools {
		if toolCfg == nil || (toolCfg.Enabled != nil && !*toolCfg.Enabled) {
			continue
		}
		switch toolCfg.Type {
		case "remote":
			remote, err := tools.NewRemoteToolServer(toolCfg.ServerURL)
			if err != nil {
				return nil, nil, fmt.Errorf("tool server %s: %w", name, err)
			}
			discovered, err := remote.DiscoverTools(ctx)
			if err != nil {
				return nil, nil, fmt.Errorf("tool discovery failed for %s: %w", name, err)
			}
			for _, tool := range discovered {
				if err := registry.Register(tool); err != nil {
					return nil, nil, err
				}
				slog.Info("Registered remote tool",
					"server", name,
					"tool", tool.Descriptor().Name)
			}
		case "native", "":
			if name == "think" {
				if err := registry.Register(tools.NewThinkTool(toolCfg.Acknowledgement)); err != nil {
					return nil, nil, err
				}
			}
		}
		for _, alias := range toolCfg.Aliases {
			if err := registry.RegisterAlias(alias, name); err != nil {
				slog.Warn("Skipping tool alias", "alias", alias, "error", err)
			}
		}
	}

	if registry.FindByName("think") == nil {
		if err := registry.Register(tools.NewThinkTool("")); err != nil {
			return nil, nil, err
		}
	}

	slog.Info("Tool registry ready", "tools", registry.Names())
	return registry, stores, nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("gateway"),
		kong.Description("Extended-response API gateway over a chat-completion backend"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
