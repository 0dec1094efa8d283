package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openresponses/gateway/pkg/config"
	"github.com/openresponses/gateway/pkg/httpclient"
	"github.com/openresponses/gateway/pkg/observability"
)

// StatusError reports a non-2xx backend response with its status code.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// OpenAIProvider talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
}

// NewOpenAIProvider builds a provider with default host and timeouts.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	cfg := &config.LLMProviderConfig{
		Type:       "openai",
		Model:      model,
		APIKey:     apiKey,
		Host:       "https://api.openai.com/v1",
		Timeout:    60,
		MaxRetries: 3,
		RetryDelay: 2,
	}
	provider, _ := NewOpenAIProviderFromConfig(cfg)
	return provider
}

// NewOpenAIProviderFromConfig builds a provider from configuration.
func NewOpenAIProviderFromConfig(cfg *config.LLMProviderConfig) (*OpenAIProvider, error) {
	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
	)

	return &OpenAIProvider{config: cfg, httpClient: client}, nil
}

// ModelName returns the configured default model.
func (p *OpenAIProvider) ModelName() string {
	return p.config.Model
}

// Close releases provider resources.
func (p *OpenAIProvider) Close() error {
	return nil
}

// Complete performs a single-shot chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req ChatRequest) (*ChatCompletion, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("gateway.llms")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrModel, req.Model),
			attribute.Bool("streaming", false),
		),
	)
	defer span.End()

	req.Stream = false

	body, err := p.post(ctx, req)
	duration := time.Since(startTime)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GetGlobalMetrics().RecordLLMCall(ctx, req.Model, duration, 0, 0, err)
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var completion ChatCompletion
	if err := json.Unmarshal(raw, &completion); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal chat completion: %w", err)
	}

	if completion.Error != nil {
		apiErr := fmt.Errorf("backend API error: %s", completion.Error.Message)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, completion.Error.Message)
		observability.GetGlobalMetrics().RecordLLMCall(ctx, req.Model, duration, 0, 0, apiErr)
		return nil, apiErr
	}

	if len(completion.Choices) == 0 {
		noChoiceErr := fmt.Errorf("no response choices returned")
		span.RecordError(noChoiceErr)
		span.SetStatus(codes.Error, "no choices")
		observability.GetGlobalMetrics().RecordLLMCall(ctx, req.Model, duration, 0, 0, noChoiceErr)
		return nil, noChoiceErr
	}

	promptTokens, completionTokens := 0, 0
	if completion.Usage != nil {
		promptTokens = completion.Usage.PromptTokens
		completionTokens = completion.Usage.CompletionTokens
	} else {
		// Some OpenAI-compatible backends omit usage; estimate so accounting
		// stays monotonic.
		completion.Usage = EstimateUsage(req, &completion)
		promptTokens = completion.Usage.PromptTokens
		completionTokens = completion.Usage.CompletionTokens
	}

	span.SetAttributes(
		attribute.Int(observability.AttrTokensInput, promptTokens),
		attribute.Int(observability.AttrTokensOutput, completionTokens),
	)
	span.SetStatus(codes.Ok, "success")
	observability.GetGlobalMetrics().RecordLLMCall(ctx, req.Model, duration, promptTokens, completionTokens, nil)

	return &completion, nil
}

// StreamComplete starts a streaming chat completion. Chunks are delivered in
// arrival order; the channel closes after the final chunk or a terminal
// error.
func (p *OpenAIProvider) StreamComplete(ctx context.Context, req ChatRequest) (<-chan StreamResult, error) {
	req.Stream = true

	out := make(chan StreamResult, 100)
	go func() {
		defer close(out)
		if err := p.streamInto(ctx, req, out); err != nil {
			select {
			case out <- StreamResult{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}

func (p *OpenAIProvider) streamInto(ctx context.Context, req ChatRequest, out chan<- StreamResult) error {
	body, err := p.post(ctx, req)
	if err != nil {
		return err
	}
	defer body.Close()

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		if bytes.Equal(line, []byte("[DONE]")) {
			return nil
		}

		var chunk ChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Skip unparseable keep-alive noise.
			continue
		}

		if chunk.Error != nil {
			return fmt.Errorf("backend API error: %s", chunk.Error.Message)
		}

		select {
		case out <- StreamResult{Chunk: &chunk}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// post sends the chat request and returns the response body on 200.
func (p *OpenAIProvider) post(ctx context.Context, request ChatRequest) (io.ReadCloser, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.Host+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if resp != nil && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		msg := string(body)
		if apiErr := parseErrorBody(body); apiErr != nil {
			msg = apiErr.Message
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("HTTP request failed: no response received")
	}

	return resp.Body, nil
}

func parseErrorBody(body []byte) *APIError {
	if len(body) == 0 {
		return nil
	}
	var errorResp struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		return &errorResp.Error
	}
	return nil
}
