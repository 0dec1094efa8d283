// Package protocol defines the extended-response API surface: requests,
// input items, responses, output items, streamed events, and gateway errors.
//
// The shapes follow the wire format the gateway exposes; the orchestration
// packages convert between these and the backend chat-completion shapes.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Item types within an input or output sequence.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
	ItemTypeReasoning          = "reasoning"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleDeveloper = "developer"
)

// Content part types for multipart user messages.
const (
	ContentTypeInputText  = "input_text"
	ContentTypeInputImage = "input_image"
	ContentTypeInputFile  = "input_file"
	ContentTypeOutputText = "output_text"
)

// ContentPart is one element of a multipart message.
type ContentPart struct {
	Type string `json:"type"`

	// input_text / output_text
	Text string `json:"text,omitempty"`

	// input_image
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`

	// input_file
	FileID   string `json:"file_id,omitempty"`
	FileData string `json:"file_data,omitempty"`
	Filename string `json:"filename,omitempty"`

	// output_text
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Annotation is a citation attached to output text.
type Annotation struct {
	Type       string `json:"type"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	StartIndex int    `json:"start_index,omitempty"`
	EndIndex   int    `json:"end_index,omitempty"`
}

// InputItem is one unit in the ordered conversation sequence. The Type field
// selects the variant; unused fields are zero. Items are appended across loop
// iterations and never mutated.
type InputItem struct {
	Type string `json:"type"`

	// message
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`

	// function_call
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output
	Output string `json:"output,omitempty"`

	// reasoning
	Summary []ContentPart `json:"summary,omitempty"`

	Status string `json:"status,omitempty"`
}

// inputItemWire mirrors InputItem but keeps content raw so both the string
// shorthand and the parts array are accepted.
type inputItemWire struct {
	Type      string          `json:"type"`
	Role      string          `json:"role,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	ID        string          `json:"id,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Output    string          `json:"output,omitempty"`
	Summary   []ContentPart   `json:"summary,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// UnmarshalJSON accepts both `"content": "text"` and `"content": [...]`, and
// defaults the item type to "message" when a role is present.
func (it *InputItem) UnmarshalJSON(data []byte) error {
	var wire inputItemWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	it.Type = wire.Type
	it.Role = wire.Role
	it.ID = wire.ID
	it.CallID = wire.CallID
	it.Name = wire.Name
	it.Arguments = wire.Arguments
	it.Output = wire.Output
	it.Summary = wire.Summary
	it.Status = wire.Status

	if it.Type == "" && it.Role != "" {
		it.Type = ItemTypeMessage
	}

	if len(wire.Content) == 0 {
		return nil
	}

	var text string
	if err := json.Unmarshal(wire.Content, &text); err == nil {
		it.Content = []ContentPart{{Type: ContentTypeInputText, Text: text}}
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(wire.Content, &parts); err != nil {
		return fmt.Errorf("invalid content for input item: %w", err)
	}
	it.Content = parts
	return nil
}

// TextContent concatenates the text parts of a message item.
func (it *InputItem) TextContent() string {
	var out string
	for _, part := range it.Content {
		if part.Type == ContentTypeInputText || part.Type == ContentTypeOutputText {
			out += part.Text
		}
	}
	return out
}

// UserMessage builds a single user-text input item.
func UserMessage(text string) InputItem {
	return InputItem{
		Type:    ItemTypeMessage,
		Role:    RoleUser,
		Content: []ContentPart{{Type: ContentTypeInputText, Text: text}},
	}
}

// Input is either free text or an ordered item sequence.
type Input struct {
	Text  string
	Items []InputItem
}

// UnmarshalJSON accepts a bare string or an array of items.
func (in *Input) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		in.Text = text
		in.Items = nil
		return nil
	}

	var items []InputItem
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("input must be a string or an array of items: %w", err)
	}
	in.Items = items
	return nil
}

// MarshalJSON emits the original shape.
func (in Input) MarshalJSON() ([]byte, error) {
	if in.Items != nil {
		return json.Marshal(in.Items)
	}
	return json.Marshal(in.Text)
}

// Normalize returns the item sequence, wrapping free text as a single
// user-text message.
func (in Input) Normalize() []InputItem {
	if in.Items != nil {
		return in.Items
	}
	return []InputItem{UserMessage(in.Text)}
}

// TextFormat selects the response formatting requested by the caller.
type TextFormat struct {
	Type   string                 `json:"type"` // text | json_object | json_schema
	Name   string                 `json:"name,omitempty"`
	Schema map[string]interface{} `json:"schema,omitempty"`
	Strict bool                   `json:"strict,omitempty"`
}

// TextOptions wraps the formatting selection.
type TextOptions struct {
	Format *TextFormat `json:"format,omitempty"`
}

// ReasoningOptions carries reasoning hints for models that support them.
type ReasoningOptions struct {
	Effort string `json:"effort,omitempty"` // minimal | low | medium | high
}

// Request is an incoming extended-response call. It is immutable during
// processing; the orchestrator derives per-iteration working sequences from it.
type Request struct {
	Model              string            `json:"model"`
	Input              Input             `json:"input"`
	Instructions       string            `json:"instructions,omitempty"`
	Temperature        *float64          `json:"temperature,omitempty"`
	TopP               *float64          `json:"top_p,omitempty"`
	MaxOutputTokens    *int              `json:"max_output_tokens,omitempty"`
	Tools              []Tool            `json:"tools,omitempty"`
	ToolChoice         string            `json:"tool_choice,omitempty"`
	Stream             bool              `json:"stream,omitempty"`
	Store              bool              `json:"store,omitempty"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
	Text               *TextOptions      `json:"text,omitempty"`
	Reasoning          *ReasoningOptions `json:"reasoning,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Validate rejects structurally invalid requests.
func (r *Request) Validate() error {
	if r.Model == "" {
		return NewError(ErrInvalidInput, "model is required")
	}
	if r.Input.Text == "" && r.Input.Items == nil {
		return NewError(ErrInvalidInput, "input is required")
	}
	for i, tool := range r.Tools {
		if tool.Type == "" {
			return NewError(ErrInvalidInput, fmt.Sprintf("tools[%d]: type is required", i))
		}
		if tool.Type == ToolTypeFunction && tool.Name == "" {
			return NewError(ErrInvalidInput, fmt.Sprintf("tools[%d]: function tools require a name", i))
		}
	}
	return nil
}

// FindTool returns the first request tool of the given type.
func (r *Request) FindTool(toolType string) *Tool {
	for i := range r.Tools {
		if r.Tools[i].Type == toolType {
			return &r.Tools[i]
		}
	}
	return nil
}
