package responses

import (
	"strings"

	"github.com/openresponses/gateway/pkg/llms"
	"github.com/openresponses/gateway/pkg/protocol"
)

// streamState is the per-response bookkeeping shared across loop iterations:
// the event sink, the running output index, and the one-shot in_progress
// marker.
type streamState struct {
	emit              func(protocol.StreamEvent)
	snapshot          func() *protocol.Response
	nextOutputIndex   int
	inProgressEmitted bool
}

func (s *streamState) allocIndex() int {
	index := s.nextOutputIndex
	s.nextOutputIndex++
	return index
}

// markInProgress emits the single in_progress event on the first backend
// chunk.
func (s *streamState) markInProgress() {
	if s.inProgressEmitted {
		return
	}
	s.inProgressEmitted = true
	s.emit(protocol.StreamEvent{
		Type:     protocol.EventInProgress,
		Response: s.snapshot(),
	})
}

// multiplexer translates one iteration's chunk stream into ordered response
// events, accumulating text and tool-call fragments as it goes. Calls claimed
// by registered tools are suppressed from the event stream; their execution is
// the orchestrator's business, not the client's.
type multiplexer struct {
	stream    *streamState
	isBuiltin func(name string) bool

	text         *textAccumulator
	calls        map[int]*callAccumulator
	order        []int
	finishReason string
	usage        *llms.Usage
}

type textAccumulator struct {
	itemID      string
	outputIndex int
	builder     strings.Builder
}

type callAccumulator struct {
	callID      string
	name        string
	itemID      string
	outputIndex int
	builtin     bool
	args        strings.Builder
}

func newMultiplexer(stream *streamState, isBuiltin func(string) bool) *multiplexer {
	return &multiplexer{
		stream:    stream,
		isBuiltin: isBuiltin,
		calls:     make(map[int]*callAccumulator),
	}
}

// OnChunk folds one backend chunk into the accumulated state, emitting deltas
// as they arrive.
func (m *multiplexer) OnChunk(chunk *llms.ChatChunk) {
	m.stream.markInProgress()

	if chunk.Usage != nil {
		m.usage = chunk.Usage
	}
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if m.text == nil {
			m.text = &textAccumulator{
				itemID:      protocol.NewItemID("msg"),
				outputIndex: m.stream.allocIndex(),
			}
		}
		m.text.builder.WriteString(choice.Delta.Content)
		m.stream.emit(protocol.StreamEvent{
			Type:        protocol.EventOutputTextDelta,
			OutputIndex: m.text.outputIndex,
			ItemID:      m.text.itemID,
			Delta:       choice.Delta.Content,
		})
	}

	for _, delta := range choice.Delta.ToolCalls {
		m.onToolCallDelta(delta)
	}

	if choice.FinishReason != "" {
		m.finishReason = choice.FinishReason
	}
}

func (m *multiplexer) onToolCallDelta(delta llms.ToolCallDelta) {
	call, exists := m.calls[delta.Index]
	if !exists {
		call = &callAccumulator{
			callID:      delta.ID,
			name:        delta.Function.Name,
			itemID:      protocol.NewItemID("fc"),
			outputIndex: m.stream.allocIndex(),
		}
		call.builtin = m.isBuiltin(call.name)
		m.calls[delta.Index] = call
		m.order = append(m.order, delta.Index)

		if !call.builtin {
			m.stream.emit(protocol.StreamEvent{
				Type:        protocol.EventOutputItemAdded,
				OutputIndex: call.outputIndex,
				Item: &protocol.OutputItem{
					Type:   protocol.ItemTypeFunctionCall,
					ID:     call.itemID,
					CallID: call.callID,
					Name:   call.name,
					Status: protocol.StatusInProgress,
				},
			})
		}
	} else {
		if call.callID == "" {
			call.callID = delta.ID
		}
		if delta.Function.Name != "" {
			call.name += delta.Function.Name
		}
	}

	if delta.Function.Arguments == "" {
		return
	}
	call.args.WriteString(delta.Function.Arguments)
	if !call.builtin {
		m.stream.emit(protocol.StreamEvent{
			Type:        protocol.EventFuncArgsDelta,
			OutputIndex: call.outputIndex,
			ItemID:      call.itemID,
			CallID:      call.callID,
			Delta:       delta.Function.Arguments,
		})
	}
}

// FinishReason reports the backend's finish reason for the iteration, if any.
func (m *multiplexer) FinishReason() string {
	return m.finishReason
}

// Usage reports the backend's token accounting for the iteration, if sent.
func (m *multiplexer) Usage() *llms.Usage {
	return m.usage
}

// ToolCalls assembles the accumulated calls in arrival order.
func (m *multiplexer) ToolCalls() []llms.ToolCall {
	calls := make([]llms.ToolCall, 0, len(m.order))
	for _, index := range m.order {
		call := m.calls[index]
		calls = append(calls, llms.ToolCall{
			ID:   call.callID,
			Type: "function",
			Function: llms.FunctionCall{
				Name:      call.name,
				Arguments: call.args.String(),
			},
		})
	}
	return calls
}

// FinishText closes the accumulated message: emits the text-done event and
// returns the completed output item. A stop without any streamed text still
// yields one empty message, matching the non-streaming shape; other finish
// reasons with no text return nil.
func (m *multiplexer) FinishText() *protocol.OutputItem {
	if m.text == nil {
		if m.finishReason != llms.FinishStop {
			return nil
		}
		m.text = &textAccumulator{
			itemID:      protocol.NewItemID("msg"),
			outputIndex: m.stream.allocIndex(),
		}
	}
	fullText := m.text.builder.String()
	m.stream.emit(protocol.StreamEvent{
		Type:        protocol.EventOutputTextDone,
		OutputIndex: m.text.outputIndex,
		ItemID:      m.text.itemID,
		Text:        fullText,
	})
	return &protocol.OutputItem{
		Type: protocol.ItemTypeMessage,
		ID:   m.text.itemID,
		Role: protocol.RoleAssistant,
		Content: []protocol.ContentPart{{
			Type: protocol.ContentTypeOutputText,
			Text: fullText,
		}},
		Status: protocol.StatusCompleted,
	}
}

// FinishParkedCall closes an unclaimed call: emits arguments-done and
// item-done with the ids the deltas carried, and returns the completed
// function-call item for the final output. Returns nil when the call id is
// unknown to this iteration.
func (m *multiplexer) FinishParkedCall(callID string) *protocol.OutputItem {
	for _, index := range m.order {
		call := m.calls[index]
		if call.callID != callID || call.builtin {
			continue
		}
		arguments := call.args.String()
		m.stream.emit(protocol.StreamEvent{
			Type:        protocol.EventFuncArgsDone,
			OutputIndex: call.outputIndex,
			ItemID:      call.itemID,
			CallID:      call.callID,
			Arguments:   arguments,
		})
		item := &protocol.OutputItem{
			Type:      protocol.ItemTypeFunctionCall,
			ID:        call.itemID,
			CallID:    call.callID,
			Name:      call.name,
			Arguments: arguments,
			Status:    protocol.StatusCompleted,
		}
		m.stream.emit(protocol.StreamEvent{
			Type:        protocol.EventOutputItemDone,
			OutputIndex: call.outputIndex,
			Item:        item,
		})
		return item
	}
	return nil
}
