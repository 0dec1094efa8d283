package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamEventTerminal(t *testing.T) {
	terminal := []string{EventCompleted, EventIncomplete, EventError}
	for _, kind := range terminal {
		event := StreamEvent{Type: kind}
		assert.True(t, event.Terminal(), kind)
	}

	nonTerminal := []string{
		EventCreated, EventInProgress, EventOutputItemAdded,
		EventOutputTextDelta, EventOutputTextDone,
		EventFuncArgsDelta, EventFuncArgsDone, EventAgenticIteration,
	}
	for _, kind := range nonTerminal {
		event := StreamEvent{Type: kind}
		assert.False(t, event.Terminal(), kind)
	}
}

func TestStreamEventWriteSSE(t *testing.T) {
	event := StreamEvent{
		Type:        EventOutputTextDelta,
		OutputIndex: 0,
		ItemID:      "msg_1",
		Delta:       "hel",
	}

	var buf strings.Builder
	require.NoError(t, event.WriteSSE(&buf))

	framed := buf.String()
	assert.True(t, strings.HasPrefix(framed, "event: response.output_text.delta\n"))
	assert.True(t, strings.HasSuffix(framed, "\n\n"))

	dataLine := strings.TrimSuffix(strings.SplitN(framed, "\n", 2)[1], "\n\n")
	dataLine = strings.TrimPrefix(dataLine, "data: ")

	var decoded StreamEvent
	require.NoError(t, json.Unmarshal([]byte(dataLine), &decoded))
	assert.Equal(t, "hel", decoded.Delta)
	assert.Equal(t, "msg_1", decoded.ItemID)
}

func TestErrorEvent(t *testing.T) {
	event := ErrorEvent(NewError(ErrTimeout, "took too long"))
	assert.Equal(t, EventError, event.Type)
	require.NotNil(t, event.Error)
	assert.Equal(t, string(ErrTimeout), event.Error.Code)
	assert.Equal(t, "took too long", event.Error.Message)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrNotFound, KindOf(NewError(ErrNotFound, "gone")))
	assert.Equal(t, ErrBadArguments,
		KindOf(fmt.Errorf("outer: %w", NewError(ErrBadArguments, "bad"))))
	assert.Equal(t, ErrUpstream, KindOf(errors.New("plain")))
}

func TestUpstreamErrorStatus(t *testing.T) {
	err := UpstreamError(502, errors.New("bad gateway"))
	assert.Equal(t, ErrUpstream, err.Kind)
	assert.Equal(t, 502, err.Status)
	assert.Contains(t, err.Error(), "502")
}
