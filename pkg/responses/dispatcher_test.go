package responses

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openresponses/gateway/pkg/llms"
	"github.com/openresponses/gateway/pkg/protocol"
	"github.com/openresponses/gateway/pkg/tools"
)

// echoTool returns its raw arguments as output, or nothing when silent.
type echoTool struct {
	name         string
	parallelSafe bool
	silent       bool
	err          error
}

func (t *echoTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:         t.name,
		Protocol:     tools.ProtocolNative,
		Hosting:      tools.HostingLocal,
		ParallelSafe: t.parallelSafe,
	}
}

func (t *echoTool) Execute(_ context.Context, inv tools.Invocation) (*string, error) {
	if t.err != nil {
		return nil, t.err
	}
	if t.silent {
		return nil, nil
	}
	out := inv.Arguments
	return &out, nil
}

func newDispatcherFixture(t *testing.T, registered ...tools.Tool) *Dispatcher {
	t.Helper()
	registry := tools.NewRegistry()
	for _, tool := range registered {
		require.NoError(t, registry.Register(tool))
	}
	return NewDispatcher(registry)
}

func functionCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:       id,
		Type:     "function",
		Function: llms.FunctionCall{Name: name, Arguments: args},
	}
}

func TestDispatchExecutesClaimedCalls(t *testing.T) {
	d := newDispatcherFixture(t,
		&echoTool{name: "echo", parallelSafe: true},
		&echoTool{name: "serial"},
	)

	calls := []llms.ToolCall{
		functionCall("call_1", "echo", `{"a":1}`),
		functionCall("call_2", "serial", `{"b":2}`),
	}
	result, err := d.Dispatch(context.Background(), calls, &protocol.Request{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Resolved)
	assert.Empty(t, result.Parked)
	require.Len(t, result.Items, 4)

	// Pairs come back in the model's emission order regardless of how the
	// calls were scheduled.
	assert.Equal(t, protocol.ItemTypeFunctionCall, result.Items[0].Type)
	assert.Equal(t, "call_1", result.Items[0].CallID)
	assert.Equal(t, protocol.ItemTypeFunctionCallOutput, result.Items[1].Type)
	assert.Equal(t, `{"a":1}`, result.Items[1].Output)
	assert.Equal(t, "call_2", result.Items[2].CallID)
	assert.Equal(t, `{"b":2}`, result.Items[3].Output)
}

func TestDispatchParksUnknownCalls(t *testing.T) {
	d := newDispatcherFixture(t, &echoTool{name: "echo", parallelSafe: true})

	calls := []llms.ToolCall{
		functionCall("call_1", "client_side_tool", `{"x":1}`),
		functionCall("call_2", "echo", `{"y":2}`),
	}
	result, err := d.Dispatch(context.Background(), calls, &protocol.Request{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Resolved)
	require.Len(t, result.Parked, 1)
	assert.Equal(t, "call_1", result.Parked[0].CallID)
	assert.Equal(t, "client_side_tool", result.Parked[0].Name)
	assert.Equal(t, `{"x":1}`, result.Parked[0].Arguments)
	assert.Equal(t, protocol.StatusCompleted, result.Parked[0].Status)

	require.Len(t, result.Items, 2)
	assert.Equal(t, "call_2", result.Items[0].CallID)
}

func TestDispatchRejectsInvalidArguments(t *testing.T) {
	d := newDispatcherFixture(t, &echoTool{name: "echo", parallelSafe: true})

	calls := []llms.ToolCall{functionCall("call_1", "echo", "{not json")}
	result, err := d.Dispatch(context.Background(), calls, &protocol.Request{}, nil)
	require.NoError(t, err)

	// The malformed call still yields a pair so the conversation stays
	// well-formed, with the error in the output text.
	require.Len(t, result.Items, 2)
	assert.Contains(t, result.Items[1].Output, "not valid JSON")
	assert.Equal(t, 1, result.Resolved)
}

func TestDispatchNilOutputAppendsCallOnly(t *testing.T) {
	d := newDispatcherFixture(t, &echoTool{name: "quiet", parallelSafe: true, silent: true})

	calls := []llms.ToolCall{functionCall("call_1", "quiet", "{}")}
	result, err := d.Dispatch(context.Background(), calls, &protocol.Request{}, nil)
	require.NoError(t, err)

	// No output means no function_call_output item; the call is still there.
	assert.Equal(t, 1, result.Resolved)
	require.Len(t, result.Items, 1)
	assert.Equal(t, protocol.ItemTypeFunctionCall, result.Items[0].Type)
	assert.Equal(t, "call_1", result.Items[0].CallID)
}

func TestDispatchFoldsToolErrorsIntoOutput(t *testing.T) {
	d := newDispatcherFixture(t, &echoTool{
		name:         "flaky",
		parallelSafe: true,
		err:          errors.New("backend unavailable"),
	})

	calls := []llms.ToolCall{functionCall("call_1", "flaky", "{}")}
	result, err := d.Dispatch(context.Background(), calls, &protocol.Request{}, nil)
	require.NoError(t, err)

	require.Len(t, result.Items, 2)
	assert.Contains(t, result.Items[1].Output, `"error"`)
	assert.Contains(t, result.Items[1].Output, "backend unavailable")
}

func TestDispatchPropagatesCancellation(t *testing.T) {
	d := newDispatcherFixture(t, &echoTool{
		name:         "cancelled",
		parallelSafe: true,
		err:          protocol.NewError(protocol.ErrToolCancelled, "tool gave up"),
	})

	calls := []llms.ToolCall{functionCall("call_1", "cancelled", "{}")}
	_, err := d.Dispatch(context.Background(), calls, &protocol.Request{}, nil)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrToolCancelled, protocol.KindOf(err))
}
