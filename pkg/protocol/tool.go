package protocol

// Tool kinds accepted on a request. The shared header (name, description,
// parameters) plus per-kind fields form a tagged variant rather than a
// hierarchy.
const (
	ToolTypeFunction      = "function"
	ToolTypeFileSearch    = "file_search"
	ToolTypeWebSearch     = "web_search"
	ToolTypeAgenticSearch = "agentic_search"
)

// Tool is one entry in a request's tool list.
type Tool struct {
	Type string `json:"type"`

	// function
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Strict      bool                   `json:"strict,omitempty"`

	// file_search / agentic_search
	VectorStoreIDs []string               `json:"vector_store_ids,omitempty"`
	MaxNumResults  int                    `json:"max_num_results,omitempty"`
	Filters        map[string]interface{} `json:"filters,omitempty"`

	// agentic_search
	MaxIterations int          `json:"max_iterations,omitempty"`
	SeedStrategy  string       `json:"seed_strategy,omitempty"`
	Alpha         *float64     `json:"alpha,omitempty"`
	Tuning        *ToolTuning  `json:"tuning,omitempty"`
	Ranking       *ToolRanking `json:"ranking_options,omitempty"`
}

// ToolTuning holds per-request overrides for C2 hyperparameter tuning.
type ToolTuning struct {
	Temperature      *bool `json:"temperature,omitempty"`
	TopP             *bool `json:"top_p,omitempty"`
	PresencePenalty  *bool `json:"presence_penalty,omitempty"`
	FrequencyPenalty *bool `json:"frequency_penalty,omitempty"`
}

// ToolRanking carries optional score thresholds for search tools.
type ToolRanking struct {
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
}

// EffectiveName is the name the model sees for this tool. Non-function tools
// are surfaced to the backend as function-shaped stubs named after their type;
// the orchestrator intercepts any invocation.
func (t *Tool) EffectiveName() string {
	if t.Type == ToolTypeFunction {
		return t.Name
	}
	return t.Type
}
