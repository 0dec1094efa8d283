package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openresponses/gateway/pkg/protocol"
)

// stubTool returns a fixed output, or blocks until released.
type stubTool struct {
	name     string
	output   string
	err      error
	block    chan struct{}
	honorCtx bool
}

func (t *stubTool) Descriptor() Descriptor {
	return Descriptor{
		Name:         t.name,
		Description:  "stub",
		Protocol:     ProtocolNative,
		Hosting:      HostingLocal,
		ParallelSafe: true,
	}
}

func (t *stubTool) Execute(ctx context.Context, inv Invocation) (*string, error) {
	if t.block != nil {
		if t.honorCtx {
			select {
			case <-t.block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			<-t.block
		}
	}
	if t.err != nil {
		return nil, t.err
	}
	out := t.output
	return &out, nil
}

func TestRegistryRegisterAndFind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "echo", output: "hi"}))

	// Duplicate names are rejected.
	assert.Error(t, r.Register(&stubTool{name: "echo"}))

	descriptor := r.FindByName("echo")
	require.NotNil(t, descriptor)
	assert.Equal(t, "echo", descriptor.Name)

	assert.Nil(t, r.FindByName("missing"))
	assert.Equal(t, []string{"echo"}, r.Names())
}

func TestRegistryAliases(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "echo", output: "hi"}))

	require.NoError(t, r.RegisterAlias("repeat", "echo"))
	descriptor := r.FindByName("repeat")
	require.NotNil(t, descriptor)
	assert.Equal(t, "echo", descriptor.Name)

	// Aliases cannot target missing tools or shadow existing aliases.
	assert.Error(t, r.RegisterAlias("nope", "missing"))
	assert.Error(t, r.RegisterAlias("repeat", "echo"))

	aliasMap := r.BuildAliasMap(&protocol.Request{})
	assert.Equal(t, map[string]string{"repeat": "echo"}, aliasMap)
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "echo", output: "hi"}))

	output, err := r.Execute(context.Background(), "echo", Invocation{CallID: "call_1"})
	require.NoError(t, err)
	require.NotNil(t, output)
	assert.Equal(t, "hi", *output)

	_, err = r.Execute(context.Background(), "missing", Invocation{CallID: "call_2"})
	assert.Equal(t, protocol.ErrToolExecution, protocol.KindOf(err))
}

func TestRegistryExecuteCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{
		name:     "slow",
		output:   "done",
		block:    release,
		honorCtx: true,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Execute(ctx, "slow", Invocation{CallID: "call_1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThinkTool(t *testing.T) {
	tool := NewThinkTool("")
	assert.Equal(t, "think", tool.Descriptor().Name)
	assert.True(t, tool.Descriptor().ParallelSafe)

	output, err := tool.Execute(context.Background(), Invocation{
		CallID:    "call_1",
		Arguments: `{"thought": "check the harpoon inventory"}`,
	})
	require.NoError(t, err)
	require.NotNil(t, output)
	assert.Equal(t, "Thought recorded.", *output)

	// Malformed arguments still get the acknowledgement.
	output, err = tool.Execute(context.Background(), Invocation{Arguments: "{not json"})
	require.NoError(t, err)
	assert.Equal(t, "Thought recorded.", *output)

	custom := NewThinkTool("Noted.")
	output, err = custom.Execute(context.Background(), Invocation{Arguments: "{}"})
	require.NoError(t, err)
	assert.Equal(t, "Noted.", *output)
}
