package tools

import (
	"context"
	"encoding/json"
	"log/slog"
)

const defaultThinkAcknowledgement = "Thought recorded."

// ThinkTool gives the model a scratchpad. The thought is logged; the model
// gets back a fixed acknowledgement.
type ThinkTool struct {
	acknowledgement string
}

// NewThinkTool builds the think tool. An empty acknowledgement selects the
// default.
func NewThinkTool(acknowledgement string) *ThinkTool {
	if acknowledgement == "" {
		acknowledgement = defaultThinkAcknowledgement
	}
	return &ThinkTool{acknowledgement: acknowledgement}
}

func (t *ThinkTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "think",
		Description: "Record a thought or reasoning step. Use this to think through a problem before acting.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"thought": map[string]interface{}{
					"type":        "string",
					"description": "The thought to record.",
				},
			},
			"required": []string{"thought"},
		},
		Protocol:     ProtocolNative,
		Hosting:      HostingLocal,
		ParallelSafe: true,
	}
}

func (t *ThinkTool) Execute(ctx context.Context, inv Invocation) (*string, error) {
	var args struct {
		Thought string `json:"thought"`
	}
	// Tolerate malformed arguments; the acknowledgement is returned either way.
	_ = json.Unmarshal([]byte(inv.Arguments), &args)

	slog.Info("Think tool invoked",
		"call_id", inv.CallID,
		"thought", args.Thought)

	ack := t.acknowledgement
	return &ack, nil
}
