package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// Response statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

// OutputItem is one element of a response's ordered output.
type OutputItem struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// message
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`

	// function_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// reasoning
	Summary []ContentPart `json:"summary,omitempty"`

	Status string `json:"status,omitempty"`
}

// Usage holds token accounting copied (or estimated) from the backend.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates usage across loop iterations.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// ResponseError is the error payload on a failed response.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the final (or snapshot) record of an extended-response call.
type Response struct {
	ID                 string            `json:"id"`
	Object             string            `json:"object"`
	CreatedAt          int64             `json:"created_at"`
	Status             string            `json:"status"`
	Model              string            `json:"model"`
	Output             []OutputItem      `json:"output"`
	Usage              *Usage            `json:"usage,omitempty"`
	Error              *ResponseError    `json:"error,omitempty"`
	Instructions       string            `json:"instructions,omitempty"`
	Temperature        *float64          `json:"temperature,omitempty"`
	TopP               *float64          `json:"top_p,omitempty"`
	MaxOutputTokens    *int              `json:"max_output_tokens,omitempty"`
	Tools              []Tool            `json:"tools,omitempty"`
	ToolChoice         string            `json:"tool_choice,omitempty"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// OutputText concatenates the text of all message output items.
func (r *Response) OutputText() string {
	var out string
	for _, item := range r.Output {
		if item.Type != ItemTypeMessage {
			continue
		}
		for _, part := range item.Content {
			if part.Type == ContentTypeOutputText {
				out += part.Text
			}
		}
	}
	return out
}

// NewResponseID mints a response id.
func NewResponseID() string {
	return fmt.Sprintf("resp_%s", uuid.NewString())
}

// NewItemID mints an output item id with the given prefix (msg, fc, rs).
func NewItemID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// ListOrder values for input item listing.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// ListInputItemsOptions are the cursor parameters for listing a stored
// response's input items.
type ListInputItemsOptions struct {
	Limit  int
	Order  string
	After  string
	Before string
}

// Clamp applies the documented bounds (limit 1..100, default 20, order
// defaults to desc).
func (o ListInputItemsOptions) Clamp() ListInputItemsOptions {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Order != OrderAsc && o.Order != OrderDesc {
		o.Order = OrderDesc
	}
	return o
}

// InputItemList is the page shape returned by ListInputItems.
type InputItemList struct {
	Object  string      `json:"object"`
	Data    []InputItem `json:"data"`
	FirstID string      `json:"first_id,omitempty"`
	LastID  string      `json:"last_id,omitempty"`
	HasMore bool        `json:"has_more"`
}
