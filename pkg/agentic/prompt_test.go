package agentic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openresponses/gateway/pkg/databases"
)

func TestBuildDecisionPrompt_MarksDuplicates(t *testing.T) {
	iterations := []Iteration{
		{Query: "NEXT_QUERY: whale anatomy"},
		{Query: "NEXT_QUERY: harpoons"},
		{Query: "NEXT_QUERY: whale anatomy"},
	}

	prompt := PromptBuilder{}.BuildDecisionPrompt("what do whales eat?", nil, nil, iterations, 5)

	assert.Contains(t, prompt, "QUESTION: what do whales eat?")
	assert.Contains(t, prompt, "Search attempts used: 3 of 5.")
	assert.Equal(t, 1, strings.Count(prompt, "[DUPLICATE - do not repeat]"))
}

func TestBuildDecisionPrompt_RendersBufferAndAttributes(t *testing.T) {
	buffer := []databases.SearchResult{
		{
			Filename: "moby.txt",
			Score:    0.91,
			Content:  "Call me Ishmael.",
			Attributes: map[string]interface{}{
				"chapter": 1,
				"content": "hidden",
			},
		},
	}

	prompt := PromptBuilder{}.BuildDecisionPrompt("q", buffer, []string{"chapter"}, nil, 5)

	assert.Contains(t, prompt, "[moby.txt]")
	assert.Contains(t, prompt, "Call me Ishmael.")
	assert.Contains(t, prompt, "ATTRIBUTES AVAILABLE FOR FILTERING: chapter")
	assert.Contains(t, prompt, "attributes: chapter=1")
	assert.NotContains(t, prompt, "hidden")
}

func TestBuildDecisionPrompt_TruncatesLongSnippets(t *testing.T) {
	buffer := []databases.SearchResult{{
		Filename: "long.txt",
		Content:  strings.Repeat("whale ", 200),
	}}

	prompt := PromptBuilder{}.BuildDecisionPrompt("q", buffer, nil, nil, 5)
	assert.Contains(t, prompt, "...")
}

func TestAssembleMemory(t *testing.T) {
	iterations := []Iteration{
		{Query: "NEXT_QUERY: a ##MEMORY## whales are mammals"},
		{Query: "NEXT_QUERY: b"},
		{Query: "NEXT_QUERY: c ##MEMORY## ambergris is valuable"},
	}

	memory := PromptBuilder{}.AssembleMemory(iterations)
	assert.Equal(t,
		"- (round 1) whales are mammals\n- (round 3) ambergris is valuable",
		memory)

	assert.Empty(t, PromptBuilder{}.AssembleMemory(nil))
}

func TestAttributeKeys(t *testing.T) {
	results := []databases.SearchResult{
		{Attributes: map[string]interface{}{"chapter": 1, "content": "x"}},
		{Attributes: map[string]interface{}{"author": "melville", "chapter": 2}},
	}

	keys := AttributeKeys(results)
	assert.Equal(t, []string{"author", "chapter"}, keys)
}
