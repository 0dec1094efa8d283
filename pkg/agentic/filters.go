package agentic

import (
	"fmt"
	"sort"

	"github.com/openresponses/gateway/pkg/databases"
)

// ComposeLLMFilter turns the LLM's filter map into a filter tree. Scalars
// become eq comparisons, lists become OR of eqs, and nested maps become
// dotted paths composed with AND.
func ComposeLLMFilter(filters map[string]interface{}) databases.Filter {
	return composeMap("", filters)
}

func composeMap(prefix string, filters map[string]interface{}) databases.Filter {
	if len(filters) == 0 {
		return nil
	}

	// Deterministic clause order for repetition detection and tests.
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clauses := make([]databases.Filter, 0, len(keys))
	for _, key := range keys {
		field := key
		if prefix != "" {
			field = prefix + "." + key
		}

		switch value := filters[key].(type) {
		case map[string]interface{}:
			clauses = append(clauses, composeMap(field, value))
		case []interface{}:
			options := make([]databases.Filter, 0, len(value))
			for _, option := range value {
				options = append(options, databases.Comparison{
					Field: field,
					Op:    databases.OpEq,
					Value: option,
				})
			}
			clauses = append(clauses, databases.Or(options...))
		default:
			clauses = append(clauses, databases.Comparison{
				Field: field,
				Op:    databases.OpEq,
				Value: value,
			})
		}
	}

	return databases.And(clauses...)
}

// ComposeSearchFilter combines the user's base filter, the LLM's filter, and
// the exclusion clauses for already-seen chunks into one AND compound.
func ComposeSearchFilter(userFilter, llmFilter databases.Filter, exclusions []databases.Filter) databases.Filter {
	parts := make([]databases.Filter, 0, 2+len(exclusions))
	parts = append(parts, userFilter, llmFilter)
	parts = append(parts, exclusions...)
	return databases.And(parts...)
}

// ExclusionClauses builds per-id ne clauses for every chunk id already seen.
// IDs are emitted in sorted order.
func ExclusionClauses(seenChunkIDs map[string]struct{}) []databases.Filter {
	if len(seenChunkIDs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(seenChunkIDs))
	for id := range seenChunkIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	clauses := make([]databases.Filter, len(ids))
	for i, id := range ids {
		clauses[i] = databases.Comparison{
			Field: "chunk_id",
			Op:    databases.OpNe,
			Value: id,
		}
	}
	return clauses
}

// ValidateLLMFilter rejects filters that address a chunk_index without
// pinning the filename.
func ValidateLLMFilter(f databases.Filter) error {
	if f == nil {
		return nil
	}
	if databases.HasField(f, "chunk_index") && !databases.HasField(f, "filename") {
		return fmt.Errorf("a chunk_index filter requires a filename filter")
	}
	return databases.Validate(f)
}
