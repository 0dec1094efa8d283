package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openresponses/gateway/pkg/httpclient"
	"github.com/openresponses/gateway/pkg/protocol"
)

// RemoteToolServer speaks MCP JSON-RPC over HTTP to a remote tool server.
// Tools are discovered once at startup and registered as REMOTE descriptors.
type RemoteToolServer struct {
	url        string
	httpClient *httpclient.Client
}

// RemoteTool is one discovered tool backed by a RemoteToolServer.
type RemoteTool struct {
	descriptor Descriptor
	server     *RemoteToolServer
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type callParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// NewRemoteToolServer creates a client for one tool server URL.
func NewRemoteToolServer(url string) (*RemoteToolServer, error) {
	if url == "" {
		return nil, fmt.Errorf("remote tool server URL is required")
	}

	return &RemoteToolServer{
		url: url,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: 30 * time.Second,
			}),
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(2*time.Second),
		),
	}, nil
}

// DiscoverTools lists the server's tools via tools/list.
func (s *RemoteToolServer) DiscoverTools(ctx context.Context) ([]*RemoteTool, error) {
	response, err := s.makeRequest(ctx, "tools/list", map[string]interface{}{})
	if err != nil {
		return nil, fmt.Errorf("failed to discover tools from %s: %w", s.url, err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("tool server error: %s", response.Error.Message)
	}

	result, ok := response.Result.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("tool server returned an unexpected tools/list result")
	}
	toolsArray, _ := result["tools"].([]interface{})

	discovered := make([]*RemoteTool, 0, len(toolsArray))
	for _, item := range toolsArray {
		raw, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := raw["name"].(string)
		if name == "" {
			continue
		}
		description, _ := raw["description"].(string)
		parameters, _ := raw["inputSchema"].(map[string]interface{})

		discovered = append(discovered, &RemoteTool{
			descriptor: Descriptor{
				Name:        name,
				Description: description,
				Parameters:  parameters,
				Protocol:    ProtocolRemote,
				Hosting:     HostingRemote,
			},
			server: s,
		})
	}

	return discovered, nil
}

func (t *RemoteTool) Descriptor() Descriptor {
	return t.descriptor
}

// Execute forwards the call via tools/call and extracts the text content.
func (t *RemoteTool) Execute(ctx context.Context, inv Invocation) (*string, error) {
	var args map[string]interface{}
	if inv.Arguments != "" {
		if err := json.Unmarshal([]byte(inv.Arguments), &args); err != nil {
			return nil, protocol.WrapError(protocol.ErrBadArguments,
				fmt.Sprintf("invalid arguments for tool %q", t.descriptor.Name), err)
		}
	}

	response, err := t.server.makeRequest(ctx, "tools/call", callParams{
		Name:      t.descriptor.Name,
		Arguments: args,
	})
	if err != nil {
		return nil, protocol.WrapError(protocol.ErrToolExecution,
			fmt.Sprintf("remote tool %q failed", t.descriptor.Name), err)
	}
	if response.Error != nil {
		return nil, protocol.NewError(protocol.ErrToolExecution,
			fmt.Sprintf("remote tool %q error: %s", t.descriptor.Name, response.Error.Message))
	}

	content := extractContent(response.Result)
	return &content, nil
}

// makeRequest posts one JSON-RPC request and parses a JSON or SSE-framed
// reply.
func (s *RemoteToolServer) makeRequest(ctx context.Context, method string, params interface{}) (*rpcResponse, error) {
	requestBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(string(requestBody)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d: %s", httpResp.StatusCode, httpResp.Status)
	}

	responseBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response rpcResponse
	if err := json.Unmarshal(responseBody, &response); err == nil {
		return &response, nil
	}

	// Some servers frame the reply as a single SSE data line.
	for _, line := range strings.Split(string(responseBody), "\n") {
		if strings.HasPrefix(line, "data: ") {
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &response); err == nil {
				return &response, nil
			}
		}
	}

	return nil, fmt.Errorf("failed to parse response as JSON or SSE")
}

func extractContent(result interface{}) string {
	var content strings.Builder

	if resultMap, ok := result.(map[string]interface{}); ok {
		if contentArray, ok := resultMap["content"].([]interface{}); ok {
			for _, item := range contentArray {
				if contentItem, ok := item.(map[string]interface{}); ok {
					if text, ok := contentItem["text"].(string); ok {
						content.WriteString(text)
						content.WriteString("\n")
					}
				}
			}
		}
	}

	return strings.TrimSpace(content.String())
}
