package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openresponses/gateway/pkg/agentic"
	"github.com/openresponses/gateway/pkg/config"
	"github.com/openresponses/gateway/pkg/databases"
	"github.com/openresponses/gateway/pkg/protocol"
)

// AgenticSearchTool exposes the agentic search engine as a built-in tool.
// Engine parameters come from the request's agentic_search tool entry,
// falling back to configured defaults.
type AgenticSearchTool struct {
	engine *agentic.Engine
	cfg    *config.AgenticConfig
}

// NewAgenticSearchTool wires the tool to the engine and its defaults.
func NewAgenticSearchTool(engine *agentic.Engine, cfg *config.AgenticConfig) *AgenticSearchTool {
	return &AgenticSearchTool{engine: engine, cfg: cfg}
}

func (t *AgenticSearchTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        protocol.ToolTypeAgenticSearch,
		Description: "Answer an open question by iteratively searching the configured vector stores, refining the query and filters each round.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The question to research.",
				},
			},
			"required": []string{"query"},
		},
		Protocol: ProtocolNative,
		Hosting:  HostingLocal,
	}
}

func (t *AgenticSearchTool) Execute(ctx context.Context, inv Invocation) (*string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(inv.Arguments), &args); err != nil {
		return nil, protocol.WrapError(protocol.ErrBadArguments, "invalid agentic_search arguments", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, protocol.NewError(protocol.ErrBadArguments, "agentic_search requires a non-empty query")
	}

	toolConfig := inv.Request.FindTool(protocol.ToolTypeAgenticSearch)
	if toolConfig == nil || len(toolConfig.VectorStoreIDs) == 0 {
		return nil, protocol.NewError(protocol.ErrInvalidInput,
			"agentic_search requires vector_store_ids on the request's agentic_search tool")
	}

	userFilter, err := databases.ParseFilter(toolConfig.Filters)
	if err != nil {
		return nil, protocol.WrapError(protocol.ErrInvalidInput, "invalid agentic_search filters", err)
	}

	alpha := t.cfg.AlphaDefault
	if toolConfig.Alpha != nil {
		alpha = *toolConfig.Alpha
	}

	var emit func(protocol.StreamEvent)
	if inv.Emit != nil {
		emit = inv.Emit
	}

	result, err := t.engine.Search(ctx, agentic.Params{
		Query:         args.Query,
		StoreIDs:      toolConfig.VectorStoreIDs,
		UserFilter:    userFilter,
		MaxResults:    toolConfig.MaxNumResults,
		MaxIterations: toolConfig.MaxIterations,
		SeedStrategy:  toolConfig.SeedStrategy,
		Alpha:         alpha,
		Tuning:        t.resolveTuning(toolConfig.Tuning),
		Emit:          emit,
	})
	if err != nil {
		return nil, err
	}

	output, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agentic_search output: %w", err)
	}

	text := string(output)
	return &text, nil
}

// resolveTuning overlays per-request flags on the configured defaults.
// Unset defaults enable tuning.
func (t *AgenticSearchTool) resolveTuning(override *protocol.ToolTuning) agentic.TuningFlags {
	flags := agentic.TuningFlags{
		Temperature:      boolOr(t.cfg.Tuning.Temperature, true),
		TopP:             boolOr(t.cfg.Tuning.TopP, true),
		PresencePenalty:  boolOr(t.cfg.Tuning.PresencePenalty, true),
		FrequencyPenalty: boolOr(t.cfg.Tuning.FrequencyPenalty, true),
	}
	if override != nil {
		flags.Temperature = boolOr(override.Temperature, flags.Temperature)
		flags.TopP = boolOr(override.TopP, flags.TopP)
		flags.PresencePenalty = boolOr(override.PresencePenalty, flags.PresencePenalty)
		flags.FrequencyPenalty = boolOr(override.FrequencyPenalty, flags.FrequencyPenalty)
	}
	return flags
}

func boolOr(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}
