// Package tools holds the tool registry and the built-in tools the
// orchestrator executes server-side (think, file_search, agentic_search),
// plus the JSON-RPC client for remote tool servers.
package tools

import (
	"context"

	"github.com/openresponses/gateway/pkg/protocol"
)

// Protocol says how a tool is invoked.
type Protocol string

const (
	ProtocolNative Protocol = "NATIVE"
	ProtocolRemote Protocol = "REMOTE"
)

// Hosting says where the tool runs.
type Hosting string

const (
	HostingLocal  Hosting = "LOCAL"
	HostingRemote Hosting = "REMOTE"
)

// Descriptor describes a registered tool. Loaded at startup, read-only
// afterwards.
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Protocol    Protocol               `json:"protocol"`
	Hosting     Hosting                `json:"hosting"`

	// ParallelSafe allows the dispatcher to run this tool concurrently with
	// others in the same batch.
	ParallelSafe bool `json:"parallel_safe,omitempty"`
}

// Emitter publishes progress events into the response stream. Nil in
// non-streaming mode.
type Emitter func(event protocol.StreamEvent)

// Invocation carries one tool call's inputs.
type Invocation struct {
	CallID    string
	Arguments string // raw JSON argument string from the model
	Request   *protocol.Request
	Emit      Emitter
}

// Tool executes one call. A nil output string means "nothing to append"; the
// call item is still recorded without an output.
type Tool interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, inv Invocation) (*string, error)
}
