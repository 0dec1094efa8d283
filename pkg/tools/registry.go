package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openresponses/gateway/pkg/observability"
	"github.com/openresponses/gateway/pkg/protocol"
	"github.com/openresponses/gateway/pkg/registry"
)

// cancelGraceWindow bounds how long Execute waits for a tool to observe
// context cancellation before abandoning it.
const cancelGraceWindow = 5 * time.Second

// Registry is the startup-populated tool registry the dispatcher consults.
type Registry struct {
	tools   *registry.BaseRegistry[Tool]
	aliases map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   registry.NewBaseRegistry[Tool](),
		aliases: make(map[string]string),
	}
}

// Register adds a tool under its descriptor name.
func (r *Registry) Register(tool Tool) error {
	return r.tools.Register(tool.Descriptor().Name, tool)
}

// RegisterAlias maps an alternate name onto a registered tool. One hop only;
// aliases of aliases are rejected.
func (r *Registry) RegisterAlias(alias, canonical string) error {
	if _, exists := r.tools.Get(canonical); !exists {
		return fmt.Errorf("alias %q targets unregistered tool %q", alias, canonical)
	}
	if _, exists := r.aliases[alias]; exists {
		return fmt.Errorf("alias %q already registered", alias)
	}
	r.aliases[alias] = canonical
	return nil
}

// FindByName resolves a tool by canonical name or alias. Returns nil when
// unknown, which the dispatcher treats as "park".
func (r *Registry) FindByName(name string) *Descriptor {
	tool, exists := r.lookup(name)
	if !exists {
		return nil
	}
	descriptor := tool.Descriptor()
	return &descriptor
}

// BuildAliasMap returns the alias→canonical mapping in effect for a request.
func (r *Registry) BuildAliasMap(req *protocol.Request) map[string]string {
	aliasMap := make(map[string]string, len(r.aliases))
	for alias, canonical := range r.aliases {
		aliasMap[alias] = canonical
	}
	return aliasMap
}

// Names lists registered canonical tool names.
func (r *Registry) Names() []string {
	return r.tools.Names()
}

func (r *Registry) lookup(name string) (Tool, bool) {
	if canonical, isAlias := r.aliases[name]; isAlias {
		name = canonical
	}
	return r.tools.Get(name)
}

// Execute runs one tool call with tracing and metrics. Cancellation is
// cooperative: a tool that keeps running past the grace window after ctx is
// done is abandoned with a tool_cancelled error.
func (r *Registry) Execute(ctx context.Context, name string, inv Invocation) (*string, error) {
	tool, exists := r.lookup(name)
	if !exists {
		return nil, protocol.NewError(protocol.ErrToolExecution,
			fmt.Sprintf("tool %q is not registered", name))
	}

	tracer := observability.GetTracer("gateway.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, name)),
	)
	defer span.End()

	startTime := time.Now()

	type outcome struct {
		output *string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		output, err := tool.Execute(ctx, inv)
		done <- outcome{output: output, err: err}
	}()

	var result outcome
	select {
	case result = <-done:
	case <-ctx.Done():
		select {
		case result = <-done:
		case <-time.After(cancelGraceWindow):
			slog.Warn("Tool ignored cancellation, abandoning",
				"tool", name,
				"call_id", inv.CallID)
			result = outcome{err: protocol.WrapError(protocol.ErrToolCancelled,
				fmt.Sprintf("tool %q did not stop within the cancellation grace window", name),
				ctx.Err())}
		}
	}

	duration := time.Since(startTime)
	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	observability.GetGlobalMetrics().RecordToolExecution(ctx, name, duration, result.err)

	return result.output, result.err
}
