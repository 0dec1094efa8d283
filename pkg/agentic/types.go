package agentic

import (
	"github.com/openresponses/gateway/pkg/databases"
	"github.com/openresponses/gateway/pkg/protocol"
)

// Params is one agentic search invocation.
type Params struct {
	Query         string
	StoreIDs      []string
	UserFilter    databases.Filter
	MaxResults    int
	MaxIterations int
	SeedStrategy  string
	Alpha         float64
	Tuning        TuningFlags

	// Emit publishes per-iteration progress into the response stream. Nil in
	// non-streaming mode.
	Emit func(event protocol.StreamEvent)
}

// Iteration is one recorded search round. Query holds the raw decision line
// for LLM-proposed rounds, so embedded ##MEMORY## payloads survive for
// memory reconstruction. Results are in-process state and stay out of
// external serialization.
type Iteration struct {
	Query   string           `json:"query"`
	Filters databases.Filter `json:"filters,omitempty"`
	IsFinal bool             `json:"is_final"`
	Reason  string           `json:"reason,omitempty"`

	Results []databases.SearchResult `json:"-"`
}

// Result is the engine's final payload: unique chunks sorted by score, the
// iteration history, and the rendered knowledge memory.
type Result struct {
	Data              []databases.SearchResult `json:"data"`
	Iterations        []Iteration              `json:"iterations"`
	KnowledgeAcquired string                   `json:"knowledge_acquired,omitempty"`
}

// Termination reasons recorded on the final iteration.
const (
	ReasonNoInitialResults = "no initial results"
	ReasonRepeatedQueries  = "repeated queries"
	ReasonMaxIterations    = "max iterations reached"
	ReasonParseFailure     = "parse failure"
	ReasonLLMError         = "llm error"
)
