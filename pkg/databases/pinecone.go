package databases

import (
	"context"
	"fmt"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/openresponses/gateway/pkg/config"
)

// PineconeProvider searches a Pinecone index. The index connection is
// resolved lazily on first search and cached.
type PineconeProvider struct {
	client    *pinecone.Client
	indexName string

	indexMu sync.Mutex
	index   *pinecone.IndexConnection
}

// NewPineconeProviderFromConfig creates a Pinecone client. Collection names
// the index; Host optionally overrides the control-plane endpoint.
func NewPineconeProviderFromConfig(cfg *config.VectorStoreConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection (index name) is required for Pinecone")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
		Host:   cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	return &PineconeProvider{client: client, indexName: cfg.Collection}, nil
}

// getIndexConnection resolves the index host once and reuses the connection.
func (db *PineconeProvider) getIndexConnection(ctx context.Context) (*pinecone.IndexConnection, error) {
	db.indexMu.Lock()
	defer db.indexMu.Unlock()

	if db.index != nil {
		return db.index, nil
	}

	index, err := db.client.DescribeIndex(ctx, db.indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index %s: %w", db.indexName, err)
	}

	indexConn, err := db.client.Index(pinecone.NewIndexConnParams{
		Host:      index.Host,
		Namespace: "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}

	db.index = indexConn
	return indexConn, nil
}

func (db *PineconeProvider) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	indexConn, err := db.getIndexConnection(ctx)
	if err != nil {
		return nil, err
	}

	var metadataFilter *pinecone.MetadataFilter
	if query.Filter != nil {
		filterMap, err := buildPineconeFilter(query.Filter)
		if err != nil {
			return nil, err
		}
		metadataFilter, err = structpb.NewStruct(filterMap)
		if err != nil {
			return nil, fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	queryResponse, err := indexConn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          query.Vector,
		TopK:            uint32(query.TopK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query Pinecone: %w", err)
	}

	return convertPineconeResults(queryResponse.Matches), nil
}

func (db *PineconeProvider) Close() error {
	db.indexMu.Lock()
	defer db.indexMu.Unlock()
	if db.index != nil {
		err := db.index.Close()
		db.index = nil
		return err
	}
	return nil
}

// buildPineconeFilter maps the filter tree onto Pinecone's mongo-style
// operator document ($eq/$ne/$gt/$gte/$lt/$lte, $and/$or).
func buildPineconeFilter(f Filter) (map[string]interface{}, error) {
	switch v := f.(type) {
	case Comparison:
		op, ok := pineconeOps[v.Op]
		if !ok {
			return nil, fmt.Errorf("unknown filter operator %q on field %q", v.Op, v.Field)
		}
		return map[string]interface{}{
			v.Field: map[string]interface{}{op: v.Value},
		}, nil

	case Compound:
		subs := make([]interface{}, 0, len(v.Filters))
		for _, sub := range v.Filters {
			subMap, err := buildPineconeFilter(sub)
			if err != nil {
				return nil, err
			}
			subs = append(subs, subMap)
		}
		key := "$and"
		if v.Op == OpOr {
			key = "$or"
		}
		return map[string]interface{}{key: subs}, nil

	default:
		return nil, fmt.Errorf("unsupported filter node %T", f)
	}
}

var pineconeOps = map[FilterOp]string{
	OpEq:  "$eq",
	OpNe:  "$ne",
	OpGt:  "$gt",
	OpGte: "$gte",
	OpLt:  "$lt",
	OpLte: "$lte",
}

func convertPineconeResults(matches []*pinecone.ScoredVector) []SearchResult {
	results := make([]SearchResult, 0, len(matches))
	for _, scored := range matches {
		if scored.Vector == nil {
			continue
		}

		attrs := make(map[string]interface{})
		if scored.Vector.Metadata != nil {
			attrs = scored.Vector.Metadata.AsMap()
		}

		results = append(results, resultFromAttributes(scored.Vector.Id, scored.Score, attrs))
	}
	return results
}
