package responses

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openresponses/gateway/pkg/config"
	"github.com/openresponses/gateway/pkg/llms"
	"github.com/openresponses/gateway/pkg/observability"
	"github.com/openresponses/gateway/pkg/protocol"
	"github.com/openresponses/gateway/pkg/store"
	"github.com/openresponses/gateway/pkg/tools"
)

// Orchestrator drives the model↔tools loop for one response: it adapts the
// request, calls the backend, resolves or parks tool calls, enforces the
// budgets, and persists the result.
type Orchestrator struct {
	llm        llms.Provider
	registry   *tools.Registry
	dispatcher *Dispatcher
	store      store.Store // nil when persistence is disabled
	cfg        *config.OrchestratorConfig
}

// NewOrchestrator wires the orchestrator. The store may be nil.
func NewOrchestrator(llm llms.Provider, registry *tools.Registry, st store.Store, cfg *config.OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		llm:        llm,
		registry:   registry,
		dispatcher: NewDispatcher(registry),
		store:      st,
		cfg:        cfg,
	}
}

// Create runs the loop to completion and returns the final response.
func (o *Orchestrator) Create(ctx context.Context, req *protocol.Request) (response *protocol.Response, err error) {
	startTime := time.Now()
	tracer := observability.GetTracer("gateway.responses")
	ctx, span := tracer.Start(ctx, observability.SpanResponse,
		trace.WithAttributes(attribute.String(observability.AttrModel, req.Model)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "success")
		}
		span.End()
		observability.GetGlobalMetrics().RecordResponse(ctx, req.Model, time.Since(startTime), err)
	}()

	resp, seq, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(observability.AttrResponseID, resp.ID))

	ctx, cancel := context.WithTimeout(ctx, o.cfg.MaxDuration)
	defer cancel()

	var usage protocol.Usage
	executed := 0

	for {
		chatReq, err := BuildChatRequest(req, seq)
		if err != nil {
			return nil, err
		}

		completion, err := o.llm.Complete(ctx, chatReq)
		if err != nil {
			return nil, mapBackendError(err)
		}
		if completion.Usage != nil {
			usage.Add(*ToUsage(completion.Usage))
		}
		if len(completion.Choices) == 0 {
			return nil, protocol.NewError(protocol.ErrUpstream, "backend returned no choices")
		}
		choice := completion.Choices[0]

		if choice.FinishReason != llms.FinishToolCalls || len(choice.Message.ToolCalls) == 0 {
			resp.Output = append(resp.Output, ChoiceOutputItems(choice)...)
			o.finalize(ctx, req, resp, seq, &usage, choice.FinishReason)
			return resp, nil
		}

		claimed := o.countClaimed(choice.Message.ToolCalls)
		// A batch carrying unclaimed calls finalizes this round no matter
		// what; the parked hand-off outranks the budget check.
		if claimed == len(choice.Message.ToolCalls) && executed+claimed > o.cfg.MaxToolCalls {
			return nil, protocol.NewError(protocol.ErrTooManyToolCalls,
				"response exceeded the max_tool_calls budget")
		}

		result, err := o.dispatcher.Dispatch(ctx, choice.Message.ToolCalls, req, nil)
		if err != nil {
			return nil, mapBackendError(err)
		}
		executed += result.Resolved

		if len(result.Parked) > 0 {
			resp.Output = append(resp.Output, result.Parked...)
			resp.Output = append(resp.Output, messageItems(choice, false)...)
			o.finalize(ctx, req, resp, seq, &usage, llms.FinishStop)
			return resp, nil
		}

		// Text emitted alongside tool calls stays in the output.
		resp.Output = append(resp.Output, messageItems(choice, false)...)
		seq = append(seq, result.Items...)
	}
}

// CreateStream runs the loop in a goroutine, returning the ordered event
// channel. Request-shape errors surface before any event is emitted.
func (o *Orchestrator) CreateStream(ctx context.Context, req *protocol.Request) (<-chan protocol.StreamEvent, error) {
	resp, seq, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan protocol.StreamEvent, 16)
	go o.runStream(ctx, req, resp, seq, events)
	return events, nil
}

func (o *Orchestrator) runStream(ctx context.Context, req *protocol.Request, resp *protocol.Response, seq []protocol.InputItem, events chan<- protocol.StreamEvent) {
	defer close(events)

	startTime := time.Now()
	tracer := observability.GetTracer("gateway.responses")
	ctx, span := tracer.Start(ctx, observability.SpanResponse,
		trace.WithAttributes(
			attribute.String(observability.AttrModel, req.Model),
			attribute.String(observability.AttrResponseID, resp.ID),
		),
	)

	var terminalErr error
	defer func() {
		if terminalErr != nil {
			span.RecordError(terminalErr)
			span.SetStatus(codes.Error, terminalErr.Error())
		} else {
			span.SetStatus(codes.Ok, "success")
		}
		span.End()
		observability.GetGlobalMetrics().RecordResponse(ctx, req.Model, time.Since(startTime), terminalErr)
	}()

	emit := func(event protocol.StreamEvent) {
		select {
		case events <- event:
		case <-ctx.Done():
		}
	}
	fail := func(err error) {
		terminalErr = err
		emit(protocol.ErrorEvent(err))
	}

	snapshot := func() *protocol.Response {
		copied := *resp
		return &copied
	}
	stream := &streamState{emit: emit, snapshot: snapshot}

	emit(protocol.StreamEvent{Type: protocol.EventCreated, Response: snapshot()})

	ctx, cancel := context.WithTimeout(ctx, o.cfg.MaxDuration)
	defer cancel()

	var usage protocol.Usage
	executed := 0

	for {
		chatReq, err := BuildChatRequest(req, seq)
		if err != nil {
			fail(err)
			return
		}
		chatReq.Stream = true

		chunks, err := o.llm.StreamComplete(ctx, chatReq)
		if err != nil {
			fail(mapBackendError(err))
			return
		}

		mux := newMultiplexer(stream, func(name string) bool {
			return o.registry.FindByName(name) != nil
		})
		for result := range chunks {
			if result.Err != nil {
				fail(mapBackendError(result.Err))
				return
			}
			mux.OnChunk(result.Chunk)
		}
		if mux.Usage() != nil {
			usage.Add(*ToUsage(mux.Usage()))
		}

		calls := mux.ToolCalls()
		if mux.FinishReason() != llms.FinishToolCalls || len(calls) == 0 {
			if message := mux.FinishText(); message != nil {
				resp.Output = append(resp.Output, *message)
			}
			o.finalize(ctx, req, resp, seq, &usage, mux.FinishReason())
			if resp.Status == protocol.StatusIncomplete {
				emit(protocol.StreamEvent{Type: protocol.EventIncomplete, Response: snapshot()})
			} else {
				emit(protocol.StreamEvent{Type: protocol.EventCompleted, Response: snapshot()})
			}
			return
		}

		claimed := o.countClaimed(calls)
		// Same precedence as the non-streaming loop: parked hand-offs beat
		// the budget check.
		if claimed == len(calls) && executed+claimed > o.cfg.MaxToolCalls {
			fail(protocol.NewError(protocol.ErrTooManyToolCalls,
				"response exceeded the max_tool_calls budget"))
			return
		}

		result, err := o.dispatcher.Dispatch(ctx, calls, req, tools.Emitter(emit))
		if err != nil {
			fail(mapBackendError(err))
			return
		}
		executed += result.Resolved

		if len(result.Parked) > 0 {
			// Parked calls close first, then the accompanying message.
			for _, parked := range result.Parked {
				if finished := mux.FinishParkedCall(parked.CallID); finished != nil {
					resp.Output = append(resp.Output, *finished)
				} else {
					resp.Output = append(resp.Output, parked)
				}
			}
			if message := mux.FinishText(); message != nil {
				resp.Output = append(resp.Output, *message)
			}
			o.finalize(ctx, req, resp, seq, &usage, llms.FinishStop)
			emit(protocol.StreamEvent{Type: protocol.EventCompleted, Response: snapshot()})
			return
		}

		if message := mux.FinishText(); message != nil {
			resp.Output = append(resp.Output, *message)
		}
		seq = append(seq, result.Items...)
	}
}

// Retrieve loads a stored response by id.
func (o *Orchestrator) Retrieve(ctx context.Context, id string) (*protocol.Response, error) {
	if o.store == nil {
		return nil, protocol.NewError(protocol.ErrNotFound, "response store is not configured")
	}
	return o.store.Get(ctx, id)
}

// Delete removes a stored response by id.
func (o *Orchestrator) Delete(ctx context.Context, id string) (bool, error) {
	if o.store == nil {
		return false, protocol.NewError(protocol.ErrNotFound, "response store is not configured")
	}
	return o.store.Delete(ctx, id)
}

// ListInputItems pages over a stored response's input items.
func (o *Orchestrator) ListInputItems(ctx context.Context, id string, opts protocol.ListInputItemsOptions) (*protocol.InputItemList, error) {
	if o.store == nil {
		return nil, protocol.NewError(protocol.ErrNotFound, "response store is not configured")
	}
	return o.store.ListInputItems(ctx, id, opts)
}

// Health probes the attached components. The store answers a read probe;
// the backend is reported by its configured model without a live call.
func (o *Orchestrator) Health(ctx context.Context) (map[string]string, bool) {
	status := map[string]string{
		"status":  "ok",
		"backend": o.llm.ModelName(),
	}
	if o.store == nil {
		status["store"] = "disabled"
		return status, true
	}
	if _, err := o.store.Get(ctx, "resp_health_probe"); err != nil && protocol.KindOf(err) != protocol.ErrNotFound {
		status["status"] = "degraded"
		status["store"] = "unreachable"
		return status, false
	}
	status["store"] = "ok"
	return status, true
}

// prepare validates the request, resolves previous-response chaining, and
// builds the in_progress response snapshot plus the initial working sequence.
func (o *Orchestrator) prepare(ctx context.Context, req *protocol.Request) (*protocol.Response, []protocol.InputItem, error) {
	if req.Model == "" {
		req.Model = o.llm.ModelName()
	}
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	var seq []protocol.InputItem
	if req.PreviousResponseID != "" {
		prior, err := o.loadPrevious(ctx, req.PreviousResponseID)
		if err != nil {
			return nil, nil, err
		}
		seq = prior
	}
	seq = append(seq, req.Input.Normalize()...)

	resp := &protocol.Response{
		ID:                 protocol.NewResponseID(),
		Object:             "response",
		CreatedAt:          time.Now().Unix(),
		Status:             protocol.StatusInProgress,
		Model:              req.Model,
		Output:             []protocol.OutputItem{},
		Instructions:       req.Instructions,
		Temperature:        req.Temperature,
		TopP:               req.TopP,
		MaxOutputTokens:    req.MaxOutputTokens,
		Tools:              req.Tools,
		ToolChoice:         req.ToolChoice,
		PreviousResponseID: req.PreviousResponseID,
		Metadata:           req.Metadata,
	}
	return resp, seq, nil
}

// loadPrevious returns the prior response's working sequence followed by its
// output, converted back into input items.
func (o *Orchestrator) loadPrevious(ctx context.Context, id string) ([]protocol.InputItem, error) {
	if o.store == nil {
		return nil, protocol.NewError(protocol.ErrInvalidInput,
			"previous_response_id requires a response store")
	}

	prior, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	list, err := o.store.ListInputItems(ctx, id, protocol.ListInputItemsOptions{
		Limit: 100,
		Order: protocol.OrderAsc,
	})
	if err != nil {
		return nil, err
	}
	items := append([]protocol.InputItem{}, list.Data...)
	for list.HasMore {
		list, err = o.store.ListInputItems(ctx, id, protocol.ListInputItemsOptions{
			Limit: 100,
			Order: protocol.OrderAsc,
			After: list.LastID,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, list.Data...)
	}

	return append(items, outputAsInput(prior.Output)...), nil
}

// outputAsInput converts a response's output items into the input-item shape
// for conversation chaining.
func outputAsInput(output []protocol.OutputItem) []protocol.InputItem {
	items := make([]protocol.InputItem, 0, len(output))
	for _, item := range output {
		items = append(items, protocol.InputItem{
			Type:      item.Type,
			ID:        item.ID,
			Role:      item.Role,
			Content:   item.Content,
			CallID:    item.CallID,
			Name:      item.Name,
			Arguments: item.Arguments,
			Summary:   item.Summary,
			Status:    item.Status,
		})
	}
	return items
}

// countClaimed counts the calls a registered tool will execute; parked calls
// never burn budget.
func (o *Orchestrator) countClaimed(calls []llms.ToolCall) int {
	claimed := 0
	for _, call := range calls {
		if o.registry.FindByName(call.Function.Name) != nil {
			claimed++
		}
	}
	return claimed
}

// finalize stamps the terminal status and usage, and persists the response
// when asked to. Persistence failures are logged, not fatal.
func (o *Orchestrator) finalize(ctx context.Context, req *protocol.Request, resp *protocol.Response, seq []protocol.InputItem, usage *protocol.Usage, finishReason string) {
	if finishReason == llms.FinishLength {
		resp.Status = protocol.StatusIncomplete
	} else {
		resp.Status = protocol.StatusCompleted
	}
	resp.Usage = usage

	if o.store == nil || !req.Store {
		return
	}
	if err := o.store.Store(ctx, resp, seq); err != nil {
		slog.Warn("Failed to persist response",
			"response_id", resp.ID,
			"error", err)
	}
}

// mapBackendError normalizes backend and context failures onto gateway error
// kinds. Gateway errors pass through untouched.
func mapBackendError(err error) error {
	var gatewayErr *protocol.Error
	if errors.As(err, &gatewayErr) {
		return err
	}
	var statusErr *llms.StatusError
	if errors.As(err, &statusErr) {
		return protocol.UpstreamError(statusErr.StatusCode, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.WrapError(protocol.ErrTimeout,
			"response exceeded the max_duration budget", err)
	}
	return protocol.WrapError(protocol.ErrUpstream, "backend request failed", err)
}
