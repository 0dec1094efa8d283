// Package databases provides vector store providers (qdrant, pinecone,
// chromem) behind a common search interface, plus the attribute filter model
// shared with the agentic search engine.
package databases

import "fmt"

// Comparison operators.
type FilterOp string

const (
	OpEq  FilterOp = "eq"
	OpNe  FilterOp = "ne"
	OpGt  FilterOp = "gt"
	OpGte FilterOp = "gte"
	OpLt  FilterOp = "lt"
	OpLte FilterOp = "lte"
)

// Compound operators.
type CompoundOp string

const (
	OpAnd CompoundOp = "and"
	OpOr  CompoundOp = "or"
)

// Filter is either a Comparison or a Compound.
type Filter interface {
	isFilter()
}

// Comparison is a single attribute condition.
type Comparison struct {
	Field string      `json:"key"`
	Op    FilterOp    `json:"type"`
	Value interface{} `json:"value"`
}

func (Comparison) isFilter() {}

// Compound combines sub-filters with and/or.
type Compound struct {
	Op      CompoundOp `json:"type"`
	Filters []Filter   `json:"filters"`
}

func (Compound) isFilter() {}

// And combines filters, flattening nils. Returns nil when empty and the bare
// filter when only one remains.
func And(filters ...Filter) Filter {
	return combine(OpAnd, filters)
}

// Or combines filters, flattening nils.
func Or(filters ...Filter) Filter {
	return combine(OpOr, filters)
}

func combine(op CompoundOp, filters []Filter) Filter {
	kept := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return Compound{Op: op, Filters: kept}
	}
}

// ParseFilter decodes the request-level JSON filter shape: either a
// comparison {"type":"eq","key":...,"value":...} or a compound
// {"type":"and","filters":[...]}. The short range spellings ge/le are
// accepted as aliases for gte/lte.
func ParseFilter(raw map[string]interface{}) (Filter, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	filterType, _ := raw["type"].(string)
	switch filterType {
	case string(OpAnd), string(OpOr):
		subsRaw, ok := raw["filters"].([]interface{})
		if !ok || len(subsRaw) == 0 {
			return nil, fmt.Errorf("compound filter %q requires a non-empty filters array", filterType)
		}
		subs := make([]Filter, 0, len(subsRaw))
		for _, subRaw := range subsRaw {
			subMap, ok := subRaw.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("compound filter operands must be objects")
			}
			sub, err := ParseFilter(subMap)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
		return Compound{Op: CompoundOp(filterType), Filters: subs}, nil

	case "ge":
		filterType = string(OpGte)
	case "le":
		filterType = string(OpLte)
	}

	switch FilterOp(filterType) {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		field, _ := raw["key"].(string)
		if field == "" {
			return nil, fmt.Errorf("comparison filter requires a key")
		}
		value, exists := raw["value"]
		if !exists {
			return nil, fmt.Errorf("comparison filter on %q requires a value", field)
		}
		return Comparison{Field: field, Op: FilterOp(filterType), Value: value}, nil
	}

	return nil, fmt.Errorf("unknown filter type %q", filterType)
}

// Walk visits every comparison in the filter tree.
func Walk(f Filter, visit func(Comparison)) {
	switch v := f.(type) {
	case Comparison:
		visit(v)
	case Compound:
		for _, sub := range v.Filters {
			Walk(sub, visit)
		}
	case nil:
	}
}

// HasField reports whether any comparison in the tree targets the field.
func HasField(f Filter, field string) bool {
	found := false
	Walk(f, func(c Comparison) {
		if c.Field == field {
			found = true
		}
	})
	return found
}

// Validate rejects unknown operators.
func Validate(f Filter) error {
	var err error
	Walk(f, func(c Comparison) {
		switch c.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		default:
			err = fmt.Errorf("unknown filter operator %q on field %q", c.Op, c.Field)
		}
	})
	if compound, ok := f.(Compound); ok {
		if compound.Op != OpAnd && compound.Op != OpOr {
			return fmt.Errorf("unknown compound operator %q", compound.Op)
		}
	}
	return err
}
