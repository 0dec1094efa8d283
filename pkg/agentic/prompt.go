package agentic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openresponses/gateway/pkg/databases"
)

const snippetLimit = 400

// PromptBuilder assembles the decision prompt and reconstructs the knowledge
// memory from iteration history.
type PromptBuilder struct{}

// BuildDecisionPrompt renders the full prompt for the next LLM decision.
func (PromptBuilder) BuildDecisionPrompt(
	question string,
	buffer []databases.SearchResult,
	attributeKeys []string,
	iterations []Iteration,
	maxIterations int,
) string {
	var b strings.Builder

	b.WriteString("You are guiding an iterative vector database search.\n\n")
	fmt.Fprintf(&b, "QUESTION: %s\n\n", question)

	b.WriteString("RESULTS COLLECTED SO FAR:\n")
	if len(buffer) == 0 {
		b.WriteString("(none)\n")
	}
	for i, result := range buffer {
		fmt.Fprintf(&b, "%d. [%s] (score %.3f) %s\n", i+1, result.Filename, result.Score, snippet(result.Content))
		if attrs := renderAttributes(result.Attributes); attrs != "" {
			fmt.Fprintf(&b, "   attributes: %s\n", attrs)
		}
	}
	b.WriteString("\n")

	if len(attributeKeys) > 0 {
		fmt.Fprintf(&b, "ATTRIBUTES AVAILABLE FOR FILTERING: %s\n\n", strings.Join(attributeKeys, ", "))
	}

	if len(iterations) > 0 {
		b.WriteString("PREVIOUS SEARCH ATTEMPTS:\n")
		seen := make(map[string]bool, len(iterations))
		for i, iteration := range iterations {
			line := fmt.Sprintf("%d. %s", i+1, iteration.Query)
			if seen[iteration.Query] {
				line += "  [DUPLICATE - do not repeat]"
			}
			seen[iteration.Query] = true
			b.WriteString(line + "\n")
			fmt.Fprintf(&b, "   returned %d results\n", len(iteration.Results))
		}
		b.WriteString("\n")
	}

	if memory := (PromptBuilder{}).AssembleMemory(iterations); memory != "" {
		b.WriteString("KNOWLEDGE ACQUIRED SO FAR:\n")
		b.WriteString(memory)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Search attempts used: %d of %d.\n\n", len(iterations), maxIterations)

	b.WriteString(`Decide the next step. Reply with exactly one of:

TERMINATE: <your conclusion, when the collected results answer the question>

NEXT_QUERY:<search query> {<json filters>} ##MEMORY## <one-line summary of what you learned this round>

Rules for NEXT_QUERY:
- Filters are a single JSON object with double-quoted keys and values, e.g. {"filename": "report.pdf"}.
- A "chunk_index" filter is only valid together with a "filename" filter.
- List values mean any-of, e.g. {"chunk_index": [2, 3]} with a filename.
- Omit the JSON object entirely if no filter helps.
- Phrase a genuinely NEW query: different terms, a different angle, or a
  narrower filter. Do not rephrase a previous attempt.
- Vector search matches meaning, not keywords; describe the information you
  want, not the words you expect.
`)

	return b.String()
}

// AssembleMemory rebuilds the knowledge memory from the ##MEMORY## payloads
// embedded in stored iteration queries, one bullet per round.
func (PromptBuilder) AssembleMemory(iterations []Iteration) string {
	var bullets []string
	for i, iteration := range iterations {
		if memory := ExtractMemory(iteration.Query); memory != "" {
			bullets = append(bullets, fmt.Sprintf("- (round %d) %s", i+1, memory))
		}
	}
	return strings.Join(bullets, "\n")
}

// AttributeKeys collects the distinct attribute names seen on results,
// sorted for stable prompts.
func AttributeKeys(results []databases.SearchResult) []string {
	set := make(map[string]struct{})
	for _, result := range results {
		for key := range result.Attributes {
			if key == "content" {
				continue
			}
			set[key] = struct{}{}
		}
	}

	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func snippet(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if len(content) > snippetLimit {
		return content[:snippetLimit] + "..."
	}
	return content
}

func renderAttributes(attrs map[string]interface{}) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		if key == "content" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, attrs[key]))
	}
	return strings.Join(parts, ", ")
}
