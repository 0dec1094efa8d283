package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openresponses/gateway/pkg/config"
	"github.com/openresponses/gateway/pkg/llms"
	"github.com/openresponses/gateway/pkg/protocol"
	"github.com/openresponses/gateway/pkg/responses"
	"github.com/openresponses/gateway/pkg/store"
	"github.com/openresponses/gateway/pkg/tools"
)

// cannedBackend answers every completion with the same text.
type cannedBackend struct {
	text string
}

func (b *cannedBackend) Complete(context.Context, llms.ChatRequest) (*llms.ChatCompletion, error) {
	return &llms.ChatCompletion{
		Choices: []llms.Choice{{
			Message:      llms.ChatMessage{Role: "assistant", Content: b.text},
			FinishReason: llms.FinishStop,
		}},
		Usage: &llms.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}, nil
}

func (b *cannedBackend) StreamComplete(context.Context, llms.ChatRequest) (<-chan llms.StreamResult, error) {
	out := make(chan llms.StreamResult, 2)
	out <- llms.StreamResult{Chunk: &llms.ChatChunk{
		Choices: []llms.ChunkChoice{{Delta: llms.Delta{Content: b.text}}},
	}}
	out <- llms.StreamResult{Chunk: &llms.ChatChunk{
		Choices: []llms.ChunkChoice{{FinishReason: llms.FinishStop}},
	}}
	close(out)
	return out, nil
}

func (b *cannedBackend) ModelName() string { return "gpt-test" }
func (b *cannedBackend) Close() error      { return nil }

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	orchestrator := responses.NewOrchestrator(
		&cannedBackend{text: "hello from the model"},
		tools.NewRegistry(),
		st,
		&config.OrchestratorConfig{MaxToolCalls: 10, MaxDuration: time.Minute},
	)
	s := New(&config.ServerConfig{Host: "127.0.0.1", Port: 0}, orchestrator)

	ts := httptest.NewServer(s.router())
	t.Cleanup(ts.Close)
	return ts, st
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestCreateResponseEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/responses", `{"model":"gpt-test","input":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var decoded protocol.Response
	decodeBody(t, resp, &decoded)
	assert.Equal(t, "response", decoded.Object)
	assert.Equal(t, protocol.StatusCompleted, decoded.Status)
	require.Len(t, decoded.Output, 1)
	assert.Equal(t, "hello from the model", decoded.Output[0].Content[0].Text)
}

func TestCreateResponseBadBody(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/responses", "{not json")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorBody
	decodeBody(t, resp, &body)
	require.NotNil(t, body.Error)
	assert.Equal(t, string(protocol.ErrInvalidInput), body.Error.Code)
}

func TestCreateResponseValidationError(t *testing.T) {
	ts, _ := newTestServer(t)

	// Missing input.
	resp := postJSON(t, ts.URL+"/v1/responses", `{"model":"gpt-test"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetDeleteResponseEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/responses", `{"model":"gpt-test","input":"hi","store":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created protocol.Response
	decodeBody(t, resp, &created)

	resp, err := http.Get(ts.URL + "/v1/responses/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched protocol.Response
	decodeBody(t, resp, &fetched)
	assert.Equal(t, created.ID, fetched.ID)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/responses/"+created.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deleted struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Deleted bool   `json:"deleted"`
	}
	decodeBody(t, resp, &deleted)
	assert.Equal(t, created.ID, deleted.ID)
	assert.Equal(t, "response.deleted", deleted.Object)
	assert.True(t, deleted.Deleted)

	// A second delete 404s.
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestGetResponseNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/responses/resp_missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListInputItemsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/responses", `{"model":"gpt-test","input":"hi","store":true}`)
	var created protocol.Response
	decodeBody(t, resp, &created)

	resp, err := http.Get(ts.URL + "/v1/responses/" + created.ID + "/input_items?limit=1&order=asc")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list protocol.InputItemList
	decodeBody(t, resp, &list)
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "user", list.Data[0].Role)

	// Non-integer limits are rejected.
	resp, err = http.Get(ts.URL + "/v1/responses/" + created.ID + "/input_items?limit=lots")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamResponseEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/responses", `{"model":"gpt-test","input":"hi","stream":true}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	framed := string(raw)

	assert.Contains(t, framed, "event: "+protocol.EventCreated+"\n")
	assert.Contains(t, framed, "event: "+protocol.EventOutputTextDelta+"\n")
	assert.Contains(t, framed, "event: "+protocol.EventCompleted+"\n")
	assert.Contains(t, framed, "hello from the model")
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["store"])
	assert.Equal(t, "gpt-test", body["backend"])
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{protocol.NewError(protocol.ErrInvalidInput, "bad"), http.StatusBadRequest},
		{protocol.NewError(protocol.ErrBadArguments, "bad"), http.StatusBadRequest},
		{protocol.NewError(protocol.ErrTooManyToolCalls, "budget"), http.StatusBadRequest},
		{protocol.NewError(protocol.ErrNotFound, "gone"), http.StatusNotFound},
		{protocol.NewError(protocol.ErrTimeout, "slow"), http.StatusGatewayTimeout},
		{protocol.UpstreamError(http.StatusInternalServerError, errors.New("boom")), http.StatusBadGateway},
		{protocol.UpstreamError(http.StatusTooManyRequests, errors.New("slow down")), http.StatusTooManyRequests},
		{errors.New("plain"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, statusFor(tc.err), tc.err.Error())
	}
}
