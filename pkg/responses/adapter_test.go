package responses

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openresponses/gateway/pkg/llms"
	"github.com/openresponses/gateway/pkg/protocol"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestBuildChatRequestBasics(t *testing.T) {
	req := &protocol.Request{
		Model:           "gpt-test",
		Instructions:    "Be terse.",
		Temperature:     floatPtr(0.4),
		TopP:            floatPtr(0.9),
		MaxOutputTokens: intPtr(256),
	}
	inputs := []protocol.InputItem{
		{Type: protocol.ItemTypeMessage, Role: protocol.RoleUser,
			Content: []protocol.ContentPart{{Type: protocol.ContentTypeInputText, Text: "hello"}}},
	}

	chat, err := BuildChatRequest(req, inputs)
	require.NoError(t, err)

	assert.Equal(t, "gpt-test", chat.Model)
	assert.Equal(t, 0.4, *chat.Temperature)
	assert.Equal(t, 256, *chat.MaxTokens)

	require.Len(t, chat.Messages, 2)
	assert.Equal(t, "system", chat.Messages[0].Role)
	assert.Equal(t, "Be terse.", chat.Messages[0].Content)
	assert.Equal(t, "user", chat.Messages[1].Role)
	assert.Equal(t, "hello", chat.Messages[1].Content)
}

func TestBuildChatRequestToolCallPairs(t *testing.T) {
	inputs := []protocol.InputItem{
		{Type: protocol.ItemTypeFunctionCall, CallID: "call_1", Name: "get_weather",
			Arguments: `{"city":"Nantucket"}`},
		{Type: protocol.ItemTypeFunctionCallOutput, CallID: "call_1", Output: `{"temp":12}`},
		{Type: protocol.ItemTypeReasoning,
			Summary: []protocol.ContentPart{{Type: protocol.ContentTypeOutputText, Text: "thinking"}}},
	}

	chat, err := BuildChatRequest(&protocol.Request{Model: "gpt-test"}, inputs)
	require.NoError(t, err)

	// The reasoning item never travels upstream.
	require.Len(t, chat.Messages, 2)

	assistant := chat.Messages[0]
	assert.Equal(t, "assistant", assistant.Role)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "call_1", assistant.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", assistant.ToolCalls[0].Function.Name)

	tool := chat.Messages[1]
	assert.Equal(t, "tool", tool.Role)
	assert.Equal(t, "call_1", tool.ToolCallID)
	assert.Equal(t, `{"temp":12}`, tool.Content)
}

func TestBuildChatRequestMultipartContent(t *testing.T) {
	inputs := []protocol.InputItem{
		{Type: protocol.ItemTypeMessage, Role: protocol.RoleUser,
			Content: []protocol.ContentPart{
				{Type: protocol.ContentTypeInputText, Text: "what is in this image?"},
				{Type: protocol.ContentTypeInputImage, ImageURL: "https://example.com/cat.png", Detail: "low"},
			}},
	}

	chat, err := BuildChatRequest(&protocol.Request{Model: "gpt-test"}, inputs)
	require.NoError(t, err)
	require.Len(t, chat.Messages, 1)

	parts, ok := chat.Messages[0].Content.([]llms.ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "image_url", parts[1].Type)
	require.NotNil(t, parts[1].ImageURL)
	assert.Equal(t, "https://example.com/cat.png", parts[1].ImageURL.URL)
	assert.Equal(t, "low", parts[1].ImageURL.Detail)
}

func TestBuildChatRequestContentErrors(t *testing.T) {
	cases := []protocol.ContentPart{
		{Type: protocol.ContentTypeInputImage}, // missing image_url
		{Type: protocol.ContentTypeInputFile},  // missing file_id / file_data
		{Type: "input_audio"},                  // unknown part type
	}
	for _, part := range cases {
		inputs := []protocol.InputItem{
			{Type: protocol.ItemTypeMessage, Role: protocol.RoleUser,
				Content: []protocol.ContentPart{part}},
		}
		_, err := BuildChatRequest(&protocol.Request{Model: "gpt-test"}, inputs)
		assert.Equal(t, protocol.ErrInvalidInput, protocol.KindOf(err), part.Type)
	}
}

func TestBuildChatRequestDropsUnknownRoles(t *testing.T) {
	inputs := []protocol.InputItem{
		{Type: protocol.ItemTypeMessage, Role: "narrator",
			Content: []protocol.ContentPart{{Type: protocol.ContentTypeInputText, Text: "ignored"}}},
	}
	chat, err := BuildChatRequest(&protocol.Request{Model: "gpt-test"}, inputs)
	require.NoError(t, err)
	assert.Empty(t, chat.Messages)
}

func TestBuildChatRequestResponseFormat(t *testing.T) {
	req := &protocol.Request{
		Model: "gpt-test",
		Text: &protocol.TextOptions{Format: &protocol.TextFormat{
			Type:   "json_schema",
			Name:   "weather",
			Schema: map[string]interface{}{"type": "object"},
			Strict: true,
		}},
	}
	chat, err := BuildChatRequest(req, nil)
	require.NoError(t, err)
	require.NotNil(t, chat.ResponseFormat)
	assert.Equal(t, "json_schema", chat.ResponseFormat.Type)
	require.NotNil(t, chat.ResponseFormat.JSONSchema)
	assert.Equal(t, "weather", chat.ResponseFormat.JSONSchema.Name)
	assert.True(t, chat.ResponseFormat.JSONSchema.Strict)

	// json_schema without a schema is rejected.
	req.Text.Format.Schema = nil
	_, err = BuildChatRequest(req, nil)
	assert.Equal(t, protocol.ErrInvalidInput, protocol.KindOf(err))

	// Unknown format types are rejected.
	req.Text.Format = &protocol.TextFormat{Type: "yaml"}
	_, err = BuildChatRequest(req, nil)
	assert.Equal(t, protocol.ErrInvalidInput, protocol.KindOf(err))
}

func TestBuildChatRequestToolStubs(t *testing.T) {
	req := &protocol.Request{
		Model: "gpt-test",
		Tools: []protocol.Tool{
			{Type: protocol.ToolTypeFunction, Name: "get_weather",
				Parameters: map[string]interface{}{"type": "object"}},
			{Type: protocol.ToolTypeFileSearch, VectorStoreIDs: []string{"vs_1"}},
			{Type: protocol.ToolTypeAgenticSearch, VectorStoreIDs: []string{"vs_1"}},
		},
	}

	chat, err := BuildChatRequest(req, nil)
	require.NoError(t, err)
	require.Len(t, chat.Tools, 3)

	assert.Equal(t, "get_weather", chat.Tools[0].Function.Name)

	// Built-in search tools become function stubs named after their type.
	assert.Equal(t, protocol.ToolTypeFileSearch, chat.Tools[1].Function.Name)
	assert.Equal(t, protocol.ToolTypeAgenticSearch, chat.Tools[2].Function.Name)
	assert.Contains(t, chat.Tools[1].Function.Parameters, "properties")
}

func TestExtractThink(t *testing.T) {
	think, rest := ExtractThink("<think>check the charts</think>The route is clear.")
	assert.Equal(t, "check the charts", think)
	assert.Equal(t, "The route is clear.", rest)

	think, rest = ExtractThink("no reasoning here")
	assert.Empty(t, think)
	assert.Equal(t, "no reasoning here", rest)

	// Unterminated blocks pass through untouched.
	think, rest = ExtractThink("<think>never closed")
	assert.Empty(t, think)
	assert.Equal(t, "<think>never closed", rest)
}

func TestChoiceOutputItems(t *testing.T) {
	choice := llms.Choice{
		Message: llms.ChatMessage{
			Role:    "assistant",
			Content: "<think>weigh the options</think>Here is the answer.",
		},
		FinishReason: llms.FinishStop,
	}

	items := ChoiceOutputItems(choice)
	require.Len(t, items, 2)

	assert.Equal(t, protocol.ItemTypeReasoning, items[0].Type)
	require.Len(t, items[0].Summary, 1)
	assert.Equal(t, "weigh the options", items[0].Summary[0].Text)

	assert.Equal(t, protocol.ItemTypeMessage, items[1].Type)
	assert.Equal(t, protocol.RoleAssistant, items[1].Role)
	require.Len(t, items[1].Content, 1)
	assert.Equal(t, "Here is the answer.", items[1].Content[0].Text)
	assert.Equal(t, protocol.StatusCompleted, items[1].Status)
}

func TestChoiceOutputItemsWithToolCalls(t *testing.T) {
	choice := llms.Choice{
		Message: llms.ChatMessage{
			Role: "assistant",
			ToolCalls: []llms.ToolCall{{
				ID:       "call_1",
				Type:     "function",
				Function: llms.FunctionCall{Name: "get_weather", Arguments: "{}"},
			}},
		},
		FinishReason: llms.FinishToolCalls,
	}

	items := ChoiceOutputItems(choice)
	// No empty message item alongside the call.
	require.Len(t, items, 1)
	assert.Equal(t, protocol.ItemTypeFunctionCall, items[0].Type)
	assert.Equal(t, "call_1", items[0].CallID)
	assert.Equal(t, "get_weather", items[0].Name)
}

func TestChoiceOutputItemsAnnotations(t *testing.T) {
	choice := llms.Choice{
		Message: llms.ChatMessage{
			Role:    "assistant",
			Content: "See the report.",
			Annotations: []llms.Annotation{{
				Type: "url_citation",
				URLCitation: &llms.URLCitation{
					URL: "https://example.com/report", Title: "Report", StartIndex: 4, EndIndex: 14,
				},
			}},
		},
	}

	items := ChoiceOutputItems(choice)
	require.Len(t, items, 1)
	require.Len(t, items[0].Content, 1)
	annotations := items[0].Content[0].Annotations
	require.Len(t, annotations, 1)
	assert.Equal(t, "url_citation", annotations[0].Type)
	assert.Equal(t, "https://example.com/report", annotations[0].URL)
}

func TestToUsage(t *testing.T) {
	assert.Nil(t, ToUsage(nil))

	usage := ToUsage(&llms.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	assert.Equal(t, 10, usage.InputTokens)
	assert.Equal(t, 5, usage.OutputTokens)
	assert.Equal(t, 15, usage.TotalTokens)
}
