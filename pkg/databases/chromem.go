package databases

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/openresponses/gateway/pkg/config"
)

// ChromemProvider is the embedded, zero-dependency vector store. Vectors live
// in memory with optional gob persistence. chromem only understands
// exact-match where clauses, so everything beyond top-level equality is
// post-filtered in Go.
type ChromemProvider struct {
	db         *chromem.DB
	collection string

	mu  sync.Mutex
	col *chromem.Collection
}

// NewChromemProviderFromConfig opens (or creates) the chromem database.
func NewChromemProviderFromConfig(cfg *config.VectorStoreConfig) (*ChromemProvider, error) {
	var db *chromem.DB

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		dbPath := cfg.PersistPath + "/vectors.gob"
		loaded, err := chromem.NewPersistentDB(dbPath, false)
		if err != nil {
			slog.Warn("Failed to load existing vector database, creating new",
				"path", dbPath,
				"error", err)
			db = chromem.NewDB()
		} else {
			db = loaded
		}
	} else {
		db = chromem.NewDB()
	}

	return &ChromemProvider{db: db, collection: cfg.Collection}, nil
}

// getCollection lazily creates the collection with an identity embedding
// function; query vectors are always pre-computed by the embedder.
func (db *ChromemProvider) getCollection() (*chromem.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.col != nil {
		return db.col, nil
	}

	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
	}

	col, err := db.db.GetOrCreateCollection(db.collection, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", db.collection, err)
	}

	db.col = col
	return col, nil
}

func (db *ChromemProvider) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	col, err := db.getCollection()
	if err != nil {
		return nil, err
	}

	where, residual := splitChromemFilter(query.Filter)

	// Over-fetch when part of the filter runs in Go, so post-filtering can
	// still fill topK. chromem caps the query at the collection size.
	fetchK := query.TopK
	if residual != nil {
		fetchK = query.TopK * 4
	}
	if count := col.Count(); fetchK > count {
		fetchK = count
	}
	if fetchK == 0 {
		return nil, nil
	}

	hits, err := col.QueryEmbedding(ctx, query.Vector, fetchK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		attrs := make(map[string]interface{}, len(hit.Metadata)+1)
		for k, v := range hit.Metadata {
			attrs[k] = v
		}
		if _, ok := attrs["content"]; !ok && hit.Content != "" {
			attrs["content"] = hit.Content
		}
		if residual != nil && !matchesFilter(residual, attrs) {
			continue
		}
		results = append(results, resultFromAttributes(hit.ID, hit.Similarity, attrs))
		if len(results) == query.TopK {
			break
		}
	}

	return results, nil
}

func (db *ChromemProvider) Close() error {
	return nil
}

// splitChromemFilter pulls top-level AND equality comparisons into a chromem
// where map and returns the rest for Go-side evaluation.
func splitChromemFilter(f Filter) (map[string]string, Filter) {
	if f == nil {
		return nil, nil
	}

	var eqs []Comparison
	var rest []Filter

	switch v := f.(type) {
	case Comparison:
		if v.Op == OpEq {
			eqs = append(eqs, v)
		} else {
			rest = append(rest, v)
		}
	case Compound:
		if v.Op != OpAnd {
			return nil, f
		}
		for _, sub := range v.Filters {
			if c, ok := sub.(Comparison); ok && c.Op == OpEq {
				eqs = append(eqs, c)
				continue
			}
			rest = append(rest, sub)
		}
	default:
		return nil, f
	}

	var where map[string]string
	if len(eqs) > 0 {
		where = make(map[string]string, len(eqs))
		for _, c := range eqs {
			where[c.Field] = fmt.Sprint(c.Value)
		}
	}

	return where, And(rest...)
}

// matchesFilter evaluates a filter tree against an attribute map. chromem
// stores metadata as strings, so comparisons go through string or numeric
// coercion as the operator demands.
func matchesFilter(f Filter, attrs map[string]interface{}) bool {
	switch v := f.(type) {
	case Comparison:
		return matchesComparison(v, attrs)
	case Compound:
		if v.Op == OpOr {
			for _, sub := range v.Filters {
				if matchesFilter(sub, attrs) {
					return true
				}
			}
			return false
		}
		for _, sub := range v.Filters {
			if !matchesFilter(sub, attrs) {
				return false
			}
		}
		return true
	case nil:
		return true
	default:
		return false
	}
}

func matchesComparison(c Comparison, attrs map[string]interface{}) bool {
	actual, exists := attrs[c.Field]

	switch c.Op {
	case OpEq:
		return exists && fmt.Sprint(actual) == fmt.Sprint(c.Value)
	case OpNe:
		// Absent attributes satisfy ne, matching exclusion semantics.
		return !exists || fmt.Sprint(actual) != fmt.Sprint(c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		if !exists {
			return false
		}
		left, okLeft := coerceFloat(actual)
		right, okRight := coerceFloat(c.Value)
		if !okLeft || !okRight {
			return false
		}
		switch c.Op {
		case OpGt:
			return left > right
		case OpGte:
			return left >= right
		case OpLt:
			return left < right
		default:
			return left <= right
		}
	default:
		return false
	}
}

func coerceFloat(value interface{}) (float64, bool) {
	if n, ok := toFloat64(value); ok {
		return n, true
	}
	if s, ok := value.(string); ok {
		var n float64
		if _, err := fmt.Sscanf(s, "%g", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}
