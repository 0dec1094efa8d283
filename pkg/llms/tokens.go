package llms

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// countTokens approximates the token count of a string with cl100k_base,
// falling back to a character heuristic when the encoding is unavailable.
func countTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// EstimateUsage fills in usage for backends that omit it.
func EstimateUsage(req ChatRequest, completion *ChatCompletion) *Usage {
	prompt := 0
	for _, msg := range req.Messages {
		if text, ok := msg.Content.(string); ok {
			prompt += countTokens(text)
		}
		for _, tc := range msg.ToolCalls {
			prompt += countTokens(tc.Function.Name) + countTokens(tc.Function.Arguments)
		}
	}

	out := 0
	for _, choice := range completion.Choices {
		if text, ok := choice.Message.Content.(string); ok {
			out += countTokens(text)
		}
		for _, tc := range choice.Message.ToolCalls {
			out += countTokens(tc.Function.Name) + countTokens(tc.Function.Arguments)
		}
	}

	return &Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
	}
}
