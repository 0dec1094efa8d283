package agentic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openresponses/gateway/pkg/databases"
	"github.com/openresponses/gateway/pkg/embedders"
)

// Seed strategy names. Unknown names fall back to default.
const (
	SeedDefault = "default"
	SeedHybrid  = "hybrid"
)

// SeedRequest is one initial retrieval call.
type SeedRequest struct {
	Query    string
	K        int
	Filter   databases.Filter
	StoreIDs []string

	// Alpha mixes dense and lexical scores for the hybrid strategy;
	// 1.0 means dense only.
	Alpha float64
}

// SeedStrategy produces the initial candidate set, sorted by descending
// score and truncated to K.
type SeedStrategy interface {
	Name() string
	Seed(ctx context.Context, req SeedRequest) ([]databases.SearchResult, error)
}

// SelectSeedStrategy resolves a strategy by name, falling back to default.
func SelectSeedStrategy(name string, stores *databases.StoreRegistry, embedder embedders.Embedder) SeedStrategy {
	dense := &denseSeed{stores: stores, embedder: embedder}
	switch name {
	case SeedHybrid:
		return &hybridSeed{dense: dense}
	default:
		return dense
	}
}

// denseSeed is pure dense similarity across the requested stores.
type denseSeed struct {
	stores   *databases.StoreRegistry
	embedder embedders.Embedder
}

func (s *denseSeed) Name() string { return SeedDefault }

func (s *denseSeed) Seed(ctx context.Context, req SeedRequest) ([]databases.SearchResult, error) {
	vector, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed seed query: %w", err)
	}

	results, err := s.stores.SearchAll(ctx, req.StoreIDs, databases.SearchQuery{
		Vector: vector,
		TopK:   req.K,
		Filter: req.Filter,
	})
	if err != nil {
		return nil, err
	}

	results = databases.DedupResults(results)
	if len(results) > req.K {
		results = results[:req.K]
	}
	return results, nil
}

// hybridSeed blends dense similarity with a lexical term-overlap score.
type hybridSeed struct {
	dense *denseSeed
}

func (s *hybridSeed) Name() string { return SeedHybrid }

func (s *hybridSeed) Seed(ctx context.Context, req SeedRequest) ([]databases.SearchResult, error) {
	// Over-fetch so lexical re-ranking has candidates to promote.
	denseReq := req
	denseReq.K = req.K * 2
	results, err := s.dense.Seed(ctx, denseReq)
	if err != nil {
		return nil, err
	}

	alpha := req.Alpha
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	terms := strings.Fields(strings.ToLower(req.Query))
	for i := range results {
		lexical := lexicalOverlap(terms, results[i].Content)
		results[i].Score = float32(alpha)*results[i].Score + float32(1-alpha)*lexical
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > req.K {
		results = results[:req.K]
	}
	return results, nil
}

// lexicalOverlap is the fraction of query terms present in the content.
func lexicalOverlap(terms []string, content string) float32 {
	if len(terms) == 0 {
		return 0
	}
	contentLower := strings.ToLower(content)
	matches := 0
	for _, term := range terms {
		if strings.Contains(contentLower, term) {
			matches++
		}
	}
	return float32(matches) / float32(len(terms))
}
