package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openresponses/gateway/pkg/config"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	provider, err := NewOpenAIProviderFromConfig(&config.LLMProviderConfig{
		Type:    "openai",
		Host:    ts.URL,
		APIKey:  "sk-test",
		Model:   "gpt-test",
		Timeout: 5,
	})
	require.NoError(t, err)
	return provider
}

func TestCompleteRoundTrip(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.False(t, req.Stream)

		json.NewEncoder(w).Encode(ChatCompletion{
			Choices: []Choice{{
				Message:      ChatMessage{Role: "assistant", Content: "hello"},
				FinishReason: FinishStop,
			}},
			Usage: &Usage{PromptTokens: 4, CompletionTokens: 1, TotalTokens: 5},
		})
	})

	completion, err := provider.Complete(context.Background(), ChatRequest{
		Model:    "gpt-test",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Len(t, completion.Choices, 1)
	assert.Equal(t, "hello", completion.Choices[0].Message.Content)
	assert.Equal(t, 5, completion.Usage.TotalTokens)
}

func TestCompleteStatusError(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "invalid api key", "type": "auth_error"}}`))
	})

	_, err := provider.Complete(context.Background(), ChatRequest{Model: "gpt-test"})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "invalid api key", statusErr.Message)
}

func TestCompleteEstimatesMissingUsage(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChatCompletion{
			Choices: []Choice{{
				Message:      ChatMessage{Role: "assistant", Content: "a short answer"},
				FinishReason: FinishStop,
			}},
		})
	})

	completion, err := provider.Complete(context.Background(), ChatRequest{
		Model:    "gpt-test",
		Messages: []ChatMessage{{Role: "user", Content: "a question"}},
	})
	require.NoError(t, err)
	require.NotNil(t, completion.Usage)
	assert.Greater(t, completion.Usage.TotalTokens, 0)
}

func TestCompleteNoChoices(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChatCompletion{})
	})

	_, err := provider.Complete(context.Background(), ChatRequest{Model: "gpt-test"})
	assert.Error(t, err)
}

func TestStreamComplete(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			`data: {"choices":[{"delta":{"content":"hel"}}]}` + "\n\n" +
				": keep-alive comment\n\n" +
				`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n" +
				`data: {"choices":[{"finish_reason":"stop"}]}` + "\n\n" +
				"data: [DONE]\n\n"))
	})

	chunks, err := provider.StreamComplete(context.Background(), ChatRequest{
		Model:    "gpt-test",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	var text string
	var finishReason string
	for result := range chunks {
		require.NoError(t, result.Err)
		for _, choice := range result.Chunk.Choices {
			text += choice.Delta.Content
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
		}
	}
	assert.Equal(t, "hello", text)
	assert.Equal(t, FinishStop, finishReason)
}

func TestStreamCompleteSurfacesStatusError(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
	})

	chunks, err := provider.StreamComplete(context.Background(), ChatRequest{Model: "gpt-test"})
	require.NoError(t, err)

	result, open := <-chunks
	require.True(t, open)
	require.Error(t, result.Err)

	var statusErr *StatusError
	require.ErrorAs(t, result.Err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}
