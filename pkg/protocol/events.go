package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// Stream event kinds, in the order they may appear within one response.
const (
	EventCreated          = "response.created"
	EventInProgress       = "response.in_progress"
	EventOutputItemAdded  = "response.output_item.added"
	EventOutputTextDelta  = "response.output_text.delta"
	EventOutputTextDone   = "response.output_text.done"
	EventFuncArgsDelta    = "response.function_call_arguments.delta"
	EventFuncArgsDone     = "response.function_call_arguments.done"
	EventOutputItemDone   = "response.output_item.done"
	EventCompleted        = "response.completed"
	EventIncomplete       = "response.incomplete"
	EventError            = "response.error"
	EventAgenticIteration = "response.agentic_search.query_phase.iteration"
)

// AgenticIterationPayload is the progress snapshot emitted per C2 round.
type AgenticIterationPayload struct {
	Iteration           int      `json:"iteration"`
	RemainingIterations int      `json:"remaining_iterations"`
	Query               string   `json:"query"`
	Reasoning           string   `json:"reasoning,omitempty"`
	Citations           []string `json:"citations,omitempty"`
}

// StreamEvent is one element of the ordered event sequence of a streaming
// response. Only the fields relevant to the event type are populated.
type StreamEvent struct {
	Type string `json:"type"`

	Response *Response `json:"response,omitempty"`

	OutputIndex int         `json:"output_index,omitempty"`
	ItemID      string      `json:"item_id,omitempty"`
	Item        *OutputItem `json:"item,omitempty"`

	Delta     string `json:"delta,omitempty"`
	Text      string `json:"text,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	Error *ResponseError `json:"error,omitempty"`

	AgenticSearch *AgenticIterationPayload `json:"agentic_search,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e *StreamEvent) Terminal() bool {
	switch e.Type {
	case EventCompleted, EventIncomplete, EventError:
		return true
	}
	return false
}

// WriteSSE serializes the event in text/event-stream framing.
func (e *StreamEvent) WriteSSE(w io.Writer) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal stream event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}

// ErrorEvent builds a terminal error event from a gateway error.
func ErrorEvent(err error) StreamEvent {
	return StreamEvent{Type: EventError, Error: AsResponseError(err)}
}
