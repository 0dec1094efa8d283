package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openresponses/gateway/pkg/databases"
	"github.com/openresponses/gateway/pkg/embedders"
	"github.com/openresponses/gateway/pkg/protocol"
)

const defaultFileSearchResults = 10

// FileSearchTool runs one vector search across the request's configured
// stores and returns a ranked, deduplicated top-K.
type FileSearchTool struct {
	stores   *databases.StoreRegistry
	embedder embedders.Embedder
}

// FileSearchHit is one entry of the tool's JSON output.
type FileSearchHit struct {
	FileID   string  `json:"file_id"`
	Filename string  `json:"filename"`
	Score    float32 `json:"score"`
	Text     string  `json:"text"`
}

// NewFileSearchTool wires the tool to the store registry and embedder.
func NewFileSearchTool(stores *databases.StoreRegistry, embedder embedders.Embedder) *FileSearchTool {
	return &FileSearchTool{stores: stores, embedder: embedder}
}

func (t *FileSearchTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        protocol.ToolTypeFileSearch,
		Description: "Search the configured vector stores for passages relevant to a query.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The search query.",
				},
			},
			"required": []string{"query"},
		},
		Protocol:     ProtocolNative,
		Hosting:      HostingLocal,
		ParallelSafe: true,
	}
}

func (t *FileSearchTool) Execute(ctx context.Context, inv Invocation) (*string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(inv.Arguments), &args); err != nil {
		return nil, protocol.WrapError(protocol.ErrBadArguments, "invalid file_search arguments", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, protocol.NewError(protocol.ErrBadArguments, "file_search requires a non-empty query")
	}

	toolConfig := inv.Request.FindTool(protocol.ToolTypeFileSearch)
	if toolConfig == nil || len(toolConfig.VectorStoreIDs) == 0 {
		return nil, protocol.NewError(protocol.ErrInvalidInput,
			"file_search requires vector_store_ids on the request's file_search tool")
	}

	maxResults := toolConfig.MaxNumResults
	if maxResults <= 0 {
		maxResults = defaultFileSearchResults
	}

	filter, err := databases.ParseFilter(toolConfig.Filters)
	if err != nil {
		return nil, protocol.WrapError(protocol.ErrInvalidInput, "invalid file_search filters", err)
	}

	vector, err := t.embedder.Embed(ctx, args.Query)
	if err != nil {
		return nil, protocol.WrapError(protocol.ErrToolExecution, "failed to embed query", err)
	}

	results, err := t.stores.SearchAll(ctx, toolConfig.VectorStoreIDs, databases.SearchQuery{
		Vector: vector,
		TopK:   maxResults,
		Filter: filter,
	})
	if err != nil {
		return nil, protocol.WrapError(protocol.ErrToolExecution, "file_search failed", err)
	}

	results = databases.DedupResults(results)
	if threshold := toolConfig.Ranking; threshold != nil && threshold.ScoreThreshold > 0 {
		kept := results[:0]
		for _, r := range results {
			if float64(r.Score) >= threshold.ScoreThreshold {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	hits := make([]FileSearchHit, len(results))
	for i, r := range results {
		hits[i] = FileSearchHit{
			FileID:   r.FileID,
			Filename: r.Filename,
			Score:    r.Score,
			Text:     r.Content,
		}
	}

	output, err := json.Marshal(map[string]interface{}{"results": hits})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file_search output: %w", err)
	}

	text := string(output)
	return &text, nil
}
