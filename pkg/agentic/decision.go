package agentic

import (
	"encoding/json"
	"fmt"
	"strings"
)

// memoryMarker separates the decision body from the memory payload the LLM
// wants carried forward.
const memoryMarker = "##MEMORY##"

// Decision is a parsed LLM reply: either a termination with an optional
// conclusion, or the next query with optional filters and memory.
type Decision struct {
	Terminate  bool
	Conclusion string

	Query   string                 // cleaned query text
	RawLine string                 // the full NEXT_QUERY line, memory marker intact
	Filters map[string]interface{} // nil when the decision carries none
	Memory  string
}

// ParseDecision scans the reply for a TERMINATE or NEXT_QUERY line. The
// NEXT_QUERY grammar is `NEXT_QUERY:<prefix>{<json-object>}<suffix>`: the
// braces hold the filters, remaining text joins the query, and anything after
// ##MEMORY## is captured as memory.
func ParseDecision(reply string) (*Decision, error) {
	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "TERMINATE") {
			conclusion := strings.TrimPrefix(trimmed, "TERMINATE")
			conclusion = strings.TrimPrefix(conclusion, ":")
			return &Decision{
				Terminate:  true,
				Conclusion: strings.TrimSpace(conclusion),
			}, nil
		}

		if strings.HasPrefix(trimmed, "NEXT_QUERY:") {
			return parseNextQuery(trimmed)
		}
	}

	return nil, fmt.Errorf("reply contains neither TERMINATE nor NEXT_QUERY")
}

func parseNextQuery(line string) (*Decision, error) {
	decision := &Decision{RawLine: line}
	body := strings.TrimPrefix(line, "NEXT_QUERY:")

	// Peel the memory suffix off first so filter JSON is not confused by it.
	if idx := strings.Index(body, memoryMarker); idx >= 0 {
		decision.Memory = strings.TrimSpace(body[idx+len(memoryMarker):])
		body = body[:idx]
	}

	open := strings.Index(body, "{")
	if open >= 0 {
		closeIdx := matchingBrace(body, open)
		if closeIdx < 0 {
			return nil, fmt.Errorf("unbalanced braces in NEXT_QUERY filters")
		}

		var filters map[string]interface{}
		if err := json.Unmarshal([]byte(body[open:closeIdx+1]), &filters); err != nil {
			return nil, fmt.Errorf("invalid filter JSON in NEXT_QUERY: %w", err)
		}
		if len(filters) > 0 {
			decision.Filters = filters
		}

		body = body[:open] + " " + body[closeIdx+1:]
	}

	decision.Query = strings.TrimSpace(strings.Join(strings.Fields(body), " "))
	if decision.Query == "" {
		return nil, fmt.Errorf("NEXT_QUERY carries no query text")
	}

	return decision, nil
}

// matchingBrace returns the index of the brace closing the one at open,
// honoring nesting and JSON string literals. -1 when unbalanced.
func matchingBrace(s string, open int) int {
	depth := 0
	inString := false
	escaped := false

	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ExtractMemory pulls the memory payload out of a stored query string.
// Iterations store the raw decision line so the marker survives verbatim.
func ExtractMemory(storedQuery string) string {
	if idx := strings.Index(storedQuery, memoryMarker); idx >= 0 {
		return strings.TrimSpace(storedQuery[idx+len(memoryMarker):])
	}
	return ""
}
