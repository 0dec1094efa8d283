package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputUnmarshal_String(t *testing.T) {
	var in Input
	require.NoError(t, json.Unmarshal([]byte(`"hello world"`), &in))
	assert.Equal(t, "hello world", in.Text)
	assert.Nil(t, in.Items)

	items := in.Normalize()
	require.Len(t, items, 1)
	assert.Equal(t, ItemTypeMessage, items[0].Type)
	assert.Equal(t, RoleUser, items[0].Role)
	assert.Equal(t, "hello world", items[0].TextContent())
}

func TestInputUnmarshal_Items(t *testing.T) {
	payload := `[
		{"role": "user", "content": "first"},
		{"type": "function_call", "call_id": "call_1", "name": "get_weather", "arguments": "{}"},
		{"type": "function_call_output", "call_id": "call_1", "output": "sunny"}
	]`

	var in Input
	require.NoError(t, json.Unmarshal([]byte(payload), &in))
	require.Len(t, in.Items, 3)

	// An item with a role but no type defaults to message.
	assert.Equal(t, ItemTypeMessage, in.Items[0].Type)
	assert.Equal(t, "first", in.Items[0].TextContent())

	assert.Equal(t, ItemTypeFunctionCall, in.Items[1].Type)
	assert.Equal(t, "call_1", in.Items[1].CallID)
	assert.Equal(t, "get_weather", in.Items[1].Name)

	assert.Equal(t, ItemTypeFunctionCallOutput, in.Items[2].Type)
	assert.Equal(t, "sunny", in.Items[2].Output)
}

func TestInputUnmarshal_Invalid(t *testing.T) {
	var in Input
	assert.Error(t, json.Unmarshal([]byte(`42`), &in))
}

func TestInputItemUnmarshal_MultipartContent(t *testing.T) {
	payload := `{
		"role": "user",
		"content": [
			{"type": "input_text", "text": "what is this?"},
			{"type": "input_image", "image_url": "https://example.com/cat.png", "detail": "low"}
		]
	}`

	var item InputItem
	require.NoError(t, json.Unmarshal([]byte(payload), &item))
	require.Len(t, item.Content, 2)
	assert.Equal(t, ContentTypeInputText, item.Content[0].Type)
	assert.Equal(t, ContentTypeInputImage, item.Content[1].Type)
	assert.Equal(t, "https://example.com/cat.png", item.Content[1].ImageURL)
	assert.Equal(t, "what is this?", item.TextContent())
}

func TestInputMarshal_RoundTripShape(t *testing.T) {
	text := Input{Text: "plain"}
	data, err := json.Marshal(text)
	require.NoError(t, err)
	assert.JSONEq(t, `"plain"`, string(data))

	items := Input{Items: []InputItem{UserMessage("hi")}}
	data, err = json.Marshal(items)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
	assert.Equal(t, byte('['), data[0])
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{
			name: "valid",
			req:  Request{Model: "gpt-4o", Input: Input{Text: "hi"}},
		},
		{
			name:    "missing model",
			req:     Request{Input: Input{Text: "hi"}},
			wantErr: true,
		},
		{
			name:    "missing input",
			req:     Request{Model: "gpt-4o"},
			wantErr: true,
		},
		{
			name: "function tool without name",
			req: Request{
				Model: "gpt-4o",
				Input: Input{Text: "hi"},
				Tools: []Tool{{Type: ToolTypeFunction}},
			},
			wantErr: true,
		},
		{
			name: "builtin tool without name",
			req: Request{
				Model: "gpt-4o",
				Input: Input{Text: "hi"},
				Tools: []Tool{{Type: ToolTypeFileSearch, VectorStoreIDs: []string{"vs_1"}}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, ErrInvalidInput, KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequestFindTool(t *testing.T) {
	req := Request{
		Tools: []Tool{
			{Type: ToolTypeFunction, Name: "get_weather"},
			{Type: ToolTypeAgenticSearch, VectorStoreIDs: []string{"vs_1"}},
		},
	}

	found := req.FindTool(ToolTypeAgenticSearch)
	require.NotNil(t, found)
	assert.Equal(t, []string{"vs_1"}, found.VectorStoreIDs)

	assert.Nil(t, req.FindTool(ToolTypeWebSearch))
}

func TestListInputItemsOptionsClamp(t *testing.T) {
	clamped := ListInputItemsOptions{}.Clamp()
	assert.Equal(t, 20, clamped.Limit)
	assert.Equal(t, OrderDesc, clamped.Order)

	clamped = ListInputItemsOptions{Limit: 500, Order: "sideways"}.Clamp()
	assert.Equal(t, 100, clamped.Limit)
	assert.Equal(t, OrderDesc, clamped.Order)

	clamped = ListInputItemsOptions{Limit: 5, Order: OrderAsc}.Clamp()
	assert.Equal(t, 5, clamped.Limit)
	assert.Equal(t, OrderAsc, clamped.Order)
}
