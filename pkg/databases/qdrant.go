package databases

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/openresponses/gateway/pkg/config"
)

// QdrantProvider searches a Qdrant collection over gRPC.
type QdrantProvider struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantProviderFromConfig connects to Qdrant with the configured host,
// port and TLS settings.
func NewQdrantProviderFromConfig(cfg *config.VectorStoreConfig) (*QdrantProvider, error) {
	useTLS := false
	if cfg.EnableTLS != nil {
		useTLS = *cfg.EnableTLS
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantProvider{client: client, collection: cfg.Collection}, nil
}

func (db *QdrantProvider) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	request := &qdrant.SearchPoints{
		CollectionName: db.collection,
		Vector:         query.Vector,
		Limit:          uint64(query.TopK),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if query.Filter != nil {
		filter, err := buildQdrantFilter(query.Filter)
		if err != nil {
			return nil, err
		}
		request.Filter = filter
	}

	pointsClient := db.client.GetPointsClient()
	searchResult, err := pointsClient.Search(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	return convertQdrantResults(searchResult.Result), nil
}

func (db *QdrantProvider) Close() error {
	return db.client.Close()
}

// buildQdrantFilter maps the filter tree onto Qdrant's Must/Should/MustNot
// clause structure. Nested compounds become nested filter conditions.
func buildQdrantFilter(f Filter) (*qdrant.Filter, error) {
	switch v := f.(type) {
	case Comparison:
		condition, negate, err := qdrantCondition(v)
		if err != nil {
			return nil, err
		}
		if negate {
			return &qdrant.Filter{MustNot: []*qdrant.Condition{condition}}, nil
		}
		return &qdrant.Filter{Must: []*qdrant.Condition{condition}}, nil

	case Compound:
		conditions := make([]*qdrant.Condition, 0, len(v.Filters))
		for _, sub := range v.Filters {
			subFilter, err := buildQdrantFilter(sub)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Filter{Filter: subFilter},
			})
		}
		if v.Op == OpOr {
			return &qdrant.Filter{Should: conditions}, nil
		}
		return &qdrant.Filter{Must: conditions}, nil

	default:
		return nil, fmt.Errorf("unsupported filter node %T", f)
	}
}

// qdrantCondition builds a single field condition. ne is expressed by the
// caller wrapping the eq condition in MustNot.
func qdrantCondition(c Comparison) (*qdrant.Condition, bool, error) {
	switch c.Op {
	case OpEq, OpNe:
		match, err := qdrantMatch(c.Value)
		if err != nil {
			return nil, false, fmt.Errorf("field %q: %w", c.Field, err)
		}
		condition := &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{Key: c.Field, Match: match},
			},
		}
		return condition, c.Op == OpNe, nil

	case OpGt, OpGte, OpLt, OpLte:
		number, ok := toFloat64(c.Value)
		if !ok {
			return nil, false, fmt.Errorf("field %q: range operator %s requires a numeric value", c.Field, c.Op)
		}
		r := &qdrant.Range{}
		switch c.Op {
		case OpGt:
			r.Gt = &number
		case OpGte:
			r.Gte = &number
		case OpLt:
			r.Lt = &number
		case OpLte:
			r.Lte = &number
		}
		condition := &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{Key: c.Field, Range: r},
			},
		}
		return condition, false, nil

	default:
		return nil, false, fmt.Errorf("unknown filter operator %q on field %q", c.Op, c.Field)
	}
}

func qdrantMatch(value interface{}) (*qdrant.Match, error) {
	switch v := value.(type) {
	case string:
		return &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}}, nil
	case bool:
		return &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}}, nil
	case int:
		return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}, nil
	case int64:
		return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}}, nil
	case float64:
		// JSON numbers decode as float64; whole values match integer payloads.
		if v == float64(int64(v)) {
			return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}, nil
		}
		return nil, fmt.Errorf("fractional match value %v is not supported, use a range operator", v)
	default:
		return nil, fmt.Errorf("unsupported match value type %T", value)
	}
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func convertQdrantResults(points []*qdrant.ScoredPoint) []SearchResult {
	results := make([]SearchResult, 0, len(points))
	for _, point := range points {
		var id string
		if point.Id != nil && point.Id.PointIdOptions != nil {
			switch idType := point.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				id = idType.Uuid
			case *qdrant.PointId_Num:
				id = fmt.Sprintf("%d", idType.Num)
			}
		}

		attrs := make(map[string]interface{}, len(point.Payload))
		for key, value := range point.Payload {
			attrs[key] = decodeQdrantValue(value)
		}

		results = append(results, resultFromAttributes(id, point.Score, attrs))
	}
	return results
}

func decodeQdrantValue(value *qdrant.Value) interface{} {
	if value == nil {
		return nil
	}
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]interface{}, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = decodeQdrantValue(item)
		}
		return list
	default:
		return value
	}
}
