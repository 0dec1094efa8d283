package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig controls the prometheus-backed meter provider.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Metrics records gateway measurements. The noop implementation is used when
// metrics are disabled.
type Metrics interface {
	RecordResponse(ctx context.Context, model string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordToolExecution(ctx context.Context, toolName string, duration time.Duration, err error)
	RecordVectorSearch(ctx context.Context, storeID string, duration time.Duration, results int, err error)
	RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration, responseSize int)
}

var (
	globalMetrics   Metrics = NoopMetrics{}
	globalMetricsMu sync.RWMutex
)

// SetGlobalMetrics installs the process-wide metrics recorder.
func SetGlobalMetrics(m Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	if m == nil {
		m = NoopMetrics{}
	}
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics recorder.
func GetGlobalMetrics() Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()
	return globalMetrics
}

// InitMetrics builds the prometheus-exported meter and recorder. The exporter
// registers with the default prometheus registry; the HTTP layer serves it on
// /metrics.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (Metrics, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter))
	meter := meterProvider.Meter("gateway")

	rec := &prometheusMetrics{}

	if rec.responseDuration, err = meter.Float64Histogram(
		"gateway_response_duration_seconds",
		metric.WithDescription("Extended-response call duration in seconds"),
	); err != nil {
		return nil, err
	}
	if rec.responseTotal, err = meter.Int64Counter(
		"gateway_responses_total",
		metric.WithDescription("Total extended-response calls"),
	); err != nil {
		return nil, err
	}
	if rec.responseErrors, err = meter.Int64Counter(
		"gateway_response_errors_total",
		metric.WithDescription("Total failed extended-response calls"),
	); err != nil {
		return nil, err
	}
	if rec.llmDuration, err = meter.Float64Histogram(
		"gateway_llm_request_duration_seconds",
		metric.WithDescription("Backend chat request duration in seconds"),
	); err != nil {
		return nil, err
	}
	if rec.llmInputTokens, err = meter.Int64Counter(
		"gateway_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to the backend"),
	); err != nil {
		return nil, err
	}
	if rec.llmOutputTokens, err = meter.Int64Counter(
		"gateway_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from the backend"),
	); err != nil {
		return nil, err
	}
	if rec.llmErrors, err = meter.Int64Counter(
		"gateway_llm_errors_total",
		metric.WithDescription("Total backend chat errors"),
	); err != nil {
		return nil, err
	}
	if rec.toolDuration, err = meter.Float64Histogram(
		"gateway_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, err
	}
	if rec.toolTotal, err = meter.Int64Counter(
		"gateway_tool_calls_total",
		metric.WithDescription("Total tool executions"),
	); err != nil {
		return nil, err
	}
	if rec.toolErrors, err = meter.Int64Counter(
		"gateway_tool_errors_total",
		metric.WithDescription("Total failed tool executions"),
	); err != nil {
		return nil, err
	}
	if rec.searchDuration, err = meter.Float64Histogram(
		"gateway_vector_search_duration_seconds",
		metric.WithDescription("Vector store search duration in seconds"),
	); err != nil {
		return nil, err
	}
	if rec.searchResults, err = meter.Int64Counter(
		"gateway_vector_search_results_total",
		metric.WithDescription("Total vector search results returned"),
	); err != nil {
		return nil, err
	}
	if rec.searchErrors, err = meter.Int64Counter(
		"gateway_vector_search_errors_total",
		metric.WithDescription("Total vector search errors"),
	); err != nil {
		return nil, err
	}
	if rec.httpDuration, err = meter.Float64Histogram(
		"gateway_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, err
	}
	if rec.httpTotal, err = meter.Int64Counter(
		"gateway_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	); err != nil {
		return nil, err
	}
	if rec.httpResponseSize, err = meter.Int64Counter(
		"gateway_http_response_bytes_total",
		metric.WithDescription("Total HTTP response bytes written"),
	); err != nil {
		return nil, err
	}

	return rec, nil
}

type prometheusMetrics struct {
	responseDuration metric.Float64Histogram
	responseTotal    metric.Int64Counter
	responseErrors   metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolTotal    metric.Int64Counter
	toolErrors   metric.Int64Counter

	searchDuration metric.Float64Histogram
	searchResults  metric.Int64Counter
	searchErrors   metric.Int64Counter

	httpDuration     metric.Float64Histogram
	httpTotal        metric.Int64Counter
	httpResponseSize metric.Int64Counter
}

func (m *prometheusMetrics) RecordResponse(ctx context.Context, model string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.responseDuration.Record(ctx, duration.Seconds(), attrs)
	m.responseTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.responseErrors.Add(ctx, 1, attrs)
	}
}

func (m *prometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *prometheusMetrics) RecordToolExecution(ctx context.Context, toolName string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", toolName))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *prometheusMetrics) RecordVectorSearch(ctx context.Context, storeID string, duration time.Duration, results int, err error) {
	attrs := metric.WithAttributes(attribute.String("store_id", storeID))
	m.searchDuration.Record(ctx, duration.Seconds(), attrs)
	m.searchResults.Add(ctx, int64(results), attrs)
	if err != nil {
		m.searchErrors.Add(ctx, 1, attrs)
	}
}

func (m *prometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration, responseSize int) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", statusCode),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpTotal.Add(ctx, 1, attrs)
	m.httpResponseSize.Add(ctx, int64(responseSize), attrs)
}

// NoopMetrics discards all measurements.
type NoopMetrics struct{}

func (NoopMetrics) RecordResponse(context.Context, string, time.Duration, error) {}
func (NoopMetrics) RecordLLMCall(context.Context, string, time.Duration, int, int, error) {
}
func (NoopMetrics) RecordToolExecution(context.Context, string, time.Duration, error) {}
func (NoopMetrics) RecordVectorSearch(context.Context, string, time.Duration, int, error) {
}
func (NoopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration, int) {
}
