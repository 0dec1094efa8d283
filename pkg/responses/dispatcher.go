package responses

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/openresponses/gateway/pkg/llms"
	"github.com/openresponses/gateway/pkg/protocol"
	"github.com/openresponses/gateway/pkg/tools"
)

// Dispatcher classifies and executes the tool calls of one loop iteration.
type Dispatcher struct {
	registry *tools.Registry
}

// NewDispatcher wires the dispatcher to the tool registry.
func NewDispatcher(registry *tools.Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// DispatchResult is the outcome of one iteration's tool calls. Items carries
// the call/output pairs for executed tools in the model's emission order;
// Parked carries the calls no registered tool claimed, which surface to the
// caller unexecuted.
type DispatchResult struct {
	Items    []protocol.InputItem
	Parked   []protocol.OutputItem
	Resolved int
}

// dispatchOutcome is the per-call slot results are assembled from, keyed by
// the call's position so append order stays deterministic under concurrency.
type dispatchOutcome struct {
	items  []protocol.InputItem
	parked *protocol.OutputItem
}

// Dispatch resolves each call against the registry, executes the claimed ones
// and parks the rest. Parallel-safe tools run concurrently; everything else
// runs sequentially. Execution failures become error-text outputs so the model
// can react; cancellation is terminal.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []llms.ToolCall, req *protocol.Request, emit tools.Emitter) (*DispatchResult, error) {
	outcomes := make([]dispatchOutcome, len(calls))

	seen := make(map[string]int, len(calls))
	for i, call := range calls {
		if prev, dup := seen[call.ID]; dup {
			slog.Warn("Duplicate tool call id in one iteration",
				"call_id", call.ID,
				"first_index", prev,
				"index", i)
		} else {
			seen[call.ID] = i
		}
	}

	var sequential []int
	var parallel []int
	for i, call := range calls {
		descriptor := d.registry.FindByName(call.Function.Name)
		if descriptor == nil {
			outcomes[i].parked = &protocol.OutputItem{
				Type:      protocol.ItemTypeFunctionCall,
				ID:        protocol.NewItemID("fc"),
				CallID:    call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
				Status:    protocol.StatusCompleted,
			}
			continue
		}
		if !json.Valid([]byte(call.Function.Arguments)) {
			outcomes[i].items = callPair(call, errorOutput(protocol.NewError(
				protocol.ErrBadArguments,
				fmt.Sprintf("arguments for tool %q are not valid JSON", call.Function.Name))))
			continue
		}
		if descriptor.ParallelSafe {
			parallel = append(parallel, i)
		} else {
			sequential = append(sequential, i)
		}
	}

	for _, i := range sequential {
		output, err := d.execute(ctx, calls[i], req, emit)
		if err != nil {
			return nil, err
		}
		outcomes[i].items = callPair(calls[i], output)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, i := range parallel {
		i := i
		group.Go(func() error {
			output, err := d.execute(groupCtx, calls[i], req, emit)
			if err != nil {
				return err
			}
			outcomes[i].items = callPair(calls[i], output)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	result := &DispatchResult{}
	for _, outcome := range outcomes {
		if outcome.parked != nil {
			result.Parked = append(result.Parked, *outcome.parked)
			continue
		}
		result.Items = append(result.Items, outcome.items...)
		result.Resolved++
	}
	return result, nil
}

// execute runs one claimed call. Tool failures fold into the output text;
// only cancellation and deadline expiry propagate as errors. A nil output
// passes through untouched: the tool had nothing to append.
func (d *Dispatcher) execute(ctx context.Context, call llms.ToolCall, req *protocol.Request, emit tools.Emitter) (*string, error) {
	output, err := d.registry.Execute(ctx, call.Function.Name, tools.Invocation{
		CallID:    call.ID,
		Arguments: call.Function.Arguments,
		Request:   req,
		Emit:      emit,
	})
	if err != nil {
		switch protocol.KindOf(err) {
		case protocol.ErrToolCancelled, protocol.ErrTimeout:
			return nil, err
		}
		slog.Warn("Tool execution failed",
			"tool", call.Function.Name,
			"call_id", call.ID,
			"error", err)
		return errorOutput(err), nil
	}
	return output, nil
}

// callPair builds the function_call item plus, when the tool produced output,
// its function_call_output companion. A nil output appends the call alone.
func callPair(call llms.ToolCall, output *string) []protocol.InputItem {
	items := []protocol.InputItem{{
		Type:      protocol.ItemTypeFunctionCall,
		ID:        protocol.NewItemID("fc"),
		CallID:    call.ID,
		Name:      call.Function.Name,
		Arguments: call.Function.Arguments,
		Status:    protocol.StatusCompleted,
	}}
	if output == nil {
		return items
	}
	return append(items, protocol.InputItem{
		Type:   protocol.ItemTypeFunctionCallOutput,
		ID:     protocol.NewItemID("fco"),
		CallID: call.ID,
		Output: *output,
		Status: protocol.StatusCompleted,
	})
}

// errorOutput renders a tool failure as output text the model can read.
func errorOutput(err error) *string {
	payload, marshalErr := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	out := string(payload)
	if marshalErr != nil {
		out = fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return &out
}
