package agentic

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openresponses/gateway/pkg/config"
	"github.com/openresponses/gateway/pkg/databases"
	"github.com/openresponses/gateway/pkg/embedders"
	"github.com/openresponses/gateway/pkg/llms"
	"github.com/openresponses/gateway/pkg/observability"
	"github.com/openresponses/gateway/pkg/protocol"
)

const (
	maxSeedK            = 100
	decisionRetries     = 3
	relevanceSampleSize = 10
)

// Engine runs bounded LLM-guided search loops.
type Engine struct {
	llm      llms.Provider
	stores   *databases.StoreRegistry
	embedder embedders.Embedder
	cfg      *config.AgenticConfig
}

// NewEngine wires the engine to its collaborators.
func NewEngine(llm llms.Provider, stores *databases.StoreRegistry, embedder embedders.Embedder, cfg *config.AgenticConfig) *Engine {
	return &Engine{llm: llm, stores: stores, embedder: embedder, cfg: cfg}
}

// run is the per-invocation loop state. Owned by a single goroutine; no
// locking.
type run struct {
	engine *Engine
	params Params
	tuner  *Tuner
	prompt PromptBuilder

	buffer      []databases.SearchResult
	bufferKeys  map[string]struct{}
	seenChunks  map[string]struct{}
	iterations  []Iteration
	bestScore   float32
	repeatCount map[string]int
}

// Search answers a query with up to MaxIterations rounds of LLM-guided
// vector search.
func (e *Engine) Search(ctx context.Context, params Params) (*Result, error) {
	if strings.TrimSpace(params.Query) == "" {
		return nil, protocol.NewError(protocol.ErrInvalidInput, "agentic search requires a non-empty query")
	}
	if len(params.StoreIDs) == 0 {
		return nil, protocol.NewError(protocol.ErrInvalidInput, "agentic search requires at least one vector store id")
	}
	if params.MaxResults <= 0 {
		params.MaxResults = e.cfg.MaxResults
	}
	if params.MaxIterations <= 0 {
		params.MaxIterations = e.cfg.MaxIterations
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	tracer := observability.GetTracer("gateway.agentic")
	ctx, span := tracer.Start(ctx, observability.SpanAgenticSearch,
		trace.WithAttributes(
			attribute.Int("max_iterations", params.MaxIterations),
			attribute.Int("max_results", params.MaxResults),
			attribute.String("seed_strategy", params.SeedStrategy),
		),
	)
	defer span.End()

	r := &run{
		engine:      e,
		params:      params,
		tuner:       NewTuner(params.Tuning, time.Now().UnixNano()),
		bufferKeys:  make(map[string]struct{}),
		seenChunks:  make(map[string]struct{}),
		repeatCount: make(map[string]int),
	}

	result, err := r.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int(observability.AttrIteration, len(result.Iterations)),
		attribute.Int("result_count", len(result.Data)),
	)
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	// Pre-seed.
	seedK := r.params.MaxResults * r.engine.cfg.InitialSeedMultiplier
	if seedK > maxSeedK {
		seedK = maxSeedK
	}

	strategy := SelectSeedStrategy(r.params.SeedStrategy, r.engine.stores, r.engine.embedder)
	seeds, err := strategy.Seed(ctx, SeedRequest{
		Query:    r.params.Query,
		K:        seedK,
		Filter:   r.params.UserFilter,
		StoreIDs: r.params.StoreIDs,
		Alpha:    r.params.Alpha,
	})
	if err != nil {
		return nil, protocol.WrapError(protocol.ErrToolExecution, "seed search failed", err)
	}

	if len(seeds) == 0 {
		r.finalize("", ReasonNoInitialResults)
		return r.assemble(), nil
	}

	fresh := r.addResults(seeds)
	r.trimBuffer()
	r.tuner.Retune(r.relevance(fresh))

	// Initial decision.
	decision, reason := r.nextDecision(ctx)
	if decision == nil {
		r.finalize("", reason)
		return r.assemble(), nil
	}
	if decision.Terminate {
		r.finalize(decision.Conclusion, "")
		return r.assemble(), nil
	}
	r.appendDecision(decision)

	// Main loop. Each round executes the query proposed by the previous
	// decision, then asks for the next one.
	for i := 1; i <= r.params.MaxIterations; i++ {
		current := &r.iterations[len(r.iterations)-1]
		r.emitIteration(i, current)

		if done := r.checkRepetition(current); done {
			r.finalize("", ReasonRepeatedQueries)
			return r.assemble(), nil
		}

		results, err := r.search(ctx, current)
		if err != nil {
			return nil, err
		}
		current.Results = results

		fresh := r.addResults(results)
		r.tuner.Retune(r.relevance(fresh))
		r.trimBuffer()

		// The budget is spent after this round; a follow-up query could
		// never execute, so don't ask for one.
		if i == r.params.MaxIterations {
			break
		}

		decision, reason := r.nextDecision(ctx)
		if decision == nil {
			r.finalize("", reason)
			return r.assemble(), nil
		}
		if decision.Terminate {
			r.finalize(decision.Conclusion, "")
			return r.assemble(), nil
		}
		r.appendDecision(decision)
	}

	r.finalize("", ReasonMaxIterations)
	return r.assemble(), nil
}

// search runs the current iteration's query across all stores with the
// composed filter.
func (r *run) search(ctx context.Context, iteration *Iteration) ([]databases.SearchResult, error) {
	query := iteration.Query
	if parsed, err := ParseDecision(iteration.Query); err == nil && !parsed.Terminate {
		query = parsed.Query
	}

	vector, embedErr := r.engine.embedder.Embed(ctx, query)
	if embedErr != nil {
		return nil, protocol.WrapError(protocol.ErrToolExecution, "failed to embed query", embedErr)
	}

	results, searchErr := r.engine.stores.SearchAll(ctx, r.params.StoreIDs, databases.SearchQuery{
		Vector: vector,
		TopK:   r.params.MaxResults,
		Filter: iteration.Filters,
	})
	if searchErr != nil {
		return nil, protocol.WrapError(protocol.ErrToolExecution, "vector search failed", searchErr)
	}
	return results, nil
}

// nextDecision asks the LLM for a decision, retrying unparseable or invalid
// replies. A nil decision comes with the termination reason to record.
func (r *run) nextDecision(ctx context.Context) (*Decision, string) {
	prompt := r.prompt.BuildDecisionPrompt(
		r.params.Query,
		r.buffer,
		AttributeKeys(r.buffer),
		r.iterations,
		r.params.MaxIterations,
	)

	for attempt := 0; attempt < decisionRetries; attempt++ {
		reply, err := r.complete(ctx, prompt)
		if err != nil {
			slog.Warn("Agentic decision LLM call failed", "error", err)
			return nil, ReasonLLMError
		}

		decision, err := ParseDecision(reply)
		if err != nil {
			slog.Warn("Agentic decision unparseable, retrying",
				"attempt", attempt+1,
				"error", err)
			continue
		}

		if !decision.Terminate && decision.Filters != nil {
			if err := ValidateLLMFilter(ComposeLLMFilter(decision.Filters)); err != nil {
				slog.Warn("Agentic decision filter invalid, retrying",
					"attempt", attempt+1,
					"error", err)
				continue
			}
		}

		return decision, ""
	}

	return nil, ReasonParseFailure
}

func (r *run) complete(ctx context.Context, prompt string) (string, error) {
	hp := r.tuner.Params()
	completion, err := r.engine.llm.Complete(ctx, llms.ChatRequest{
		Model:            r.engine.llm.ModelName(),
		Messages:         []llms.ChatMessage{{Role: "user", Content: prompt}},
		Temperature:      &hp.Temperature,
		TopP:             &hp.TopP,
		PresencePenalty:  &hp.PresencePenalty,
		FrequencyPenalty: &hp.FrequencyPenalty,
	})
	if err != nil {
		return "", err
	}
	content, _ := completion.Choices[0].Message.Content.(string)
	return content, nil
}

// appendDecision records a NEXT_QUERY decision as a new iteration. The raw
// decision line is stored so the ##MEMORY## payload survives.
func (r *run) appendDecision(decision *Decision) {
	llmFilter := ComposeLLMFilter(decision.Filters)
	exclusions := ExclusionClauses(r.seenChunks)
	composed := ComposeSearchFilter(r.params.UserFilter, llmFilter, exclusions)

	r.iterations = append(r.iterations, Iteration{
		Query:   decision.RawLine,
		Filters: composed,
	})
}

// checkRepetition warns on the first exact repeat of a query+filter pair and
// terminates on the second.
func (r *run) checkRepetition(iteration *Iteration) bool {
	key := repetitionKey(iteration)
	r.repeatCount[key]++
	occurrences := r.repeatCount[key]
	if occurrences == 2 {
		slog.Warn("Agentic search repeated a query", "query", iteration.Query)
		return false
	}
	if occurrences > 2 {
		return true
	}
	return false
}

func repetitionKey(iteration *Iteration) string {
	parsed, err := ParseDecision(iteration.Query)
	query := iteration.Query
	var filters map[string]interface{}
	if err == nil && !parsed.Terminate {
		query = parsed.Query
		filters = parsed.Filters
	}
	encoded, _ := json.Marshal(filters)
	return query + "\x00" + string(encoded)
}

// addResults merges new hits into the buffer (unique by file id + content)
// and records every chunk id for exclusion accounting. Returns the hits that
// were actually new.
func (r *run) addResults(results []databases.SearchResult) []databases.SearchResult {
	var fresh []databases.SearchResult
	for _, result := range results {
		r.seenChunks[chunkID(result)] = struct{}{}

		key := result.DedupKey()
		if _, seen := r.bufferKeys[key]; seen {
			continue
		}
		r.bufferKeys[key] = struct{}{}
		r.buffer = append(r.buffer, result)
		fresh = append(fresh, result)

		if result.Score > r.bestScore {
			r.bestScore = result.Score
		}
	}
	return fresh
}

func chunkID(result databases.SearchResult) string {
	if id, ok := result.Attributes["chunk_id"].(string); ok && id != "" {
		return id
	}
	return result.DedupKey()
}

// trimBuffer keeps the top MaxResults by score.
func (r *run) trimBuffer() {
	sort.SliceStable(r.buffer, func(i, j int) bool {
		return r.buffer[i].Score > r.buffer[j].Score
	})
	if len(r.buffer) > r.params.MaxResults {
		for _, dropped := range r.buffer[r.params.MaxResults:] {
			delete(r.bufferKeys, dropped.DedupKey())
		}
		r.buffer = r.buffer[:r.params.MaxResults]
	}
}

// relevance is the average of the top results' scores normalized by the best
// score seen so far.
func (r *run) relevance(results []databases.SearchResult) float64 {
	if len(results) == 0 || r.bestScore <= 0 {
		return 0
	}

	sorted := make([]databases.SearchResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if len(sorted) > relevanceSampleSize {
		sorted = sorted[:relevanceSampleSize]
	}

	sum := 0.0
	for _, result := range sorted {
		sum += float64(result.Score) / float64(r.bestScore)
	}
	return sum / float64(len(sorted))
}

// emitIteration publishes the per-round progress event.
func (r *run) emitIteration(i int, iteration *Iteration) {
	if r.params.Emit == nil {
		return
	}

	citations := make([]string, 0, len(r.buffer))
	seen := make(map[string]struct{}, len(r.buffer))
	for _, result := range r.buffer {
		name := result.Filename
		if name == "" {
			name = result.FileID
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		citations = append(citations, name)
	}

	query := iteration.Query
	if parsed, err := ParseDecision(iteration.Query); err == nil && !parsed.Terminate {
		query = parsed.Query
	}

	r.params.Emit(protocol.StreamEvent{
		Type: protocol.EventAgenticIteration,
		AgenticSearch: &protocol.AgenticIterationPayload{
			Iteration:           i,
			RemainingIterations: r.params.MaxIterations - i,
			Query:               query,
			Reasoning:           ExtractMemory(iteration.Query),
			Citations:           citations,
		},
	})
}

// finalize appends the single is-final iteration. Exactly one per run,
// always last.
func (r *run) finalize(conclusion, reason string) {
	r.iterations = append(r.iterations, Iteration{
		Query:   conclusion,
		IsFinal: true,
		Reason:  reason,
	})
}

// assemble builds the final payload: unique chunks sorted by score, the
// iteration history, and the rendered knowledge memory.
func (r *run) assemble() *Result {
	data := databases.DedupResults(r.buffer)
	sort.SliceStable(data, func(i, j int) bool {
		return data[i].Score > data[j].Score
	})

	return &Result{
		Data:              data,
		Iterations:        r.iterations,
		KnowledgeAcquired: r.prompt.AssembleMemory(r.iterations),
	}
}
