package databases

import (
	"context"
	"strings"
)

// SearchQuery is one vector similarity request against a provider.
type SearchQuery struct {
	Vector []float32
	TopK   int
	Filter Filter
}

// SearchResult is one scored hit. FileID and Filename come from the stored
// attributes (file_id, filename) when present, falling back to the point ID.
type SearchResult struct {
	FileID     string                 `json:"file_id"`
	Filename   string                 `json:"filename"`
	Score      float32                `json:"score"`
	Content    string                 `json:"text"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Provider is a vector store backend capable of filtered similarity search.
type Provider interface {
	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)
	Close() error
}

// DedupKey identifies a chunk for deduplication purposes.
func (r SearchResult) DedupKey() string {
	return r.FileID + "\x00" + strings.TrimSpace(r.Content)
}

// DedupResults removes duplicate (file id, content) chunks, keeping the
// max-score copy. Input order is preserved for the survivors.
func DedupResults(results []SearchResult) []SearchResult {
	best := make(map[string]int, len(results))
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		key := r.DedupKey()
		if i, seen := best[key]; seen {
			if r.Score > out[i].Score {
				out[i] = r
			}
			continue
		}
		best[key] = len(out)
		out = append(out, r)
	}
	return out
}

// resultFromAttributes builds a SearchResult from a point's id, score and
// decoded attribute map, pulling the well-known fields out.
func resultFromAttributes(id string, score float32, attrs map[string]interface{}) SearchResult {
	result := SearchResult{
		FileID:     id,
		Score:      score,
		Attributes: attrs,
	}
	if fileID, ok := attrs["file_id"].(string); ok && fileID != "" {
		result.FileID = fileID
	}
	if filename, ok := attrs["filename"].(string); ok {
		result.Filename = filename
	}
	if content, ok := attrs["content"].(string); ok {
		result.Content = content
	}
	return result
}
