package databases

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openresponses/gateway/pkg/config"
	"github.com/openresponses/gateway/pkg/observability"
	"github.com/openresponses/gateway/pkg/registry"
)

// StoreRegistry holds the configured vector store providers keyed by store
// ID, the IDs requests reference in vector_store_ids.
type StoreRegistry struct {
	registry.Registry[Provider]
}

// NewStoreRegistry builds providers for every configured vector store.
func NewStoreRegistry(stores map[string]*config.VectorStoreConfig) (*StoreRegistry, error) {
	r := &StoreRegistry{Registry: registry.NewBaseRegistry[Provider]()}

	for storeID, cfg := range stores {
		provider, err := NewProviderFromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("vector store %q: %w", storeID, err)
		}
		if err := r.Register(storeID, provider); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// NewProviderFromConfig dispatches on the configured provider type.
func NewProviderFromConfig(cfg *config.VectorStoreConfig) (Provider, error) {
	switch cfg.Type {
	case "qdrant":
		return NewQdrantProviderFromConfig(cfg)
	case "pinecone":
		return NewPineconeProviderFromConfig(cfg)
	case "chromem", "":
		return NewChromemProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unknown vector store type %q (supported: qdrant, pinecone, chromem)", cfg.Type)
	}
}

// Search runs one filtered similarity search against a store by ID, wrapped
// in a span and recorded in metrics.
func (r *StoreRegistry) Search(ctx context.Context, storeID string, query SearchQuery) ([]SearchResult, error) {
	provider, exists := r.Get(storeID)
	if !exists {
		return nil, fmt.Errorf("unknown vector store %q", storeID)
	}

	tracer := observability.GetTracer("gateway.databases")
	ctx, span := tracer.Start(ctx, observability.SpanVectorSearch,
		trace.WithAttributes(
			attribute.String(observability.AttrStoreID, storeID),
			attribute.Int("top_k", query.TopK),
		),
	)
	defer span.End()

	startTime := time.Now()
	results, err := provider.Search(ctx, query)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GetGlobalMetrics().RecordVectorSearch(ctx, storeID, duration, 0, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("result_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	observability.GetGlobalMetrics().RecordVectorSearch(ctx, storeID, duration, len(results), nil)

	return results, nil
}

// SearchAll fans one query out across several stores concurrently and merges
// the hits sorted by descending score. Per-store failures are logged and
// tolerated; the call fails only when every store fails.
func (r *StoreRegistry) SearchAll(ctx context.Context, storeIDs []string, query SearchQuery) ([]SearchResult, error) {
	var mu sync.Mutex
	var merged []SearchResult
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	for _, storeID := range storeIDs {
		storeID := storeID
		g.Go(func() error {
			results, err := r.Search(gctx, storeID, query)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("Vector store search failed",
					"store_id", storeID,
					"error", err)
				failures++
				return nil
			}
			merged = append(merged, results...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(storeIDs) > 0 && failures == len(storeIDs) {
		return nil, fmt.Errorf("all %d vector store searches failed", failures)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged, nil
}

// Close closes every provider, returning the first error.
func (r *StoreRegistry) Close() error {
	var firstErr error
	for _, name := range r.Names() {
		provider, exists := r.Get(name)
		if !exists {
			continue
		}
		if err := provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
