// Package responses implements the response orchestration engine: the
// parameter adapter between the extended-response and chat-completion shapes,
// the tool dispatcher, the streaming multiplexer, and the orchestrator that
// drives the model↔tools loop under its budgets.
package responses

import (
	"fmt"
	"strings"

	"github.com/openresponses/gateway/pkg/llms"
	"github.com/openresponses/gateway/pkg/protocol"
)

// BuildChatRequest translates the request plus the current working item
// sequence into a chat-completion request.
func BuildChatRequest(req *protocol.Request, inputs []protocol.InputItem) (llms.ChatRequest, error) {
	chat := llms.ChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxOutputTokens,
		ToolChoice:  req.ToolChoice,
	}

	if req.Instructions != "" {
		chat.Messages = append(chat.Messages, llms.ChatMessage{
			Role:    "system",
			Content: req.Instructions,
		})
	}

	for _, item := range inputs {
		switch item.Type {
		case protocol.ItemTypeMessage:
			message, ok, err := toChatMessage(item)
			if err != nil {
				return llms.ChatRequest{}, err
			}
			if ok {
				chat.Messages = append(chat.Messages, message)
			}

		case protocol.ItemTypeFunctionCall:
			chat.Messages = append(chat.Messages, llms.ChatMessage{
				Role: "assistant",
				ToolCalls: []llms.ToolCall{{
					ID:   item.CallID,
					Type: "function",
					Function: llms.FunctionCall{
						Name:      item.Name,
						Arguments: item.Arguments,
					},
				}},
			})

		case protocol.ItemTypeFunctionCallOutput:
			chat.Messages = append(chat.Messages, llms.ChatMessage{
				Role:       "tool",
				Content:    item.Output,
				ToolCallID: item.CallID,
			})

		case protocol.ItemTypeReasoning:
			// Backend-agnostic: reasoning items never travel upstream.

		default:
			// Unknown item types are dropped.
		}
	}

	if req.Text != nil && req.Text.Format != nil {
		format, err := toResponseFormat(req.Text.Format)
		if err != nil {
			return llms.ChatRequest{}, err
		}
		chat.ResponseFormat = format
	}
	if req.Reasoning != nil {
		chat.ReasoningEffort = req.Reasoning.Effort
	}

	chat.Tools = toChatTools(req.Tools)

	return chat, nil
}

// toChatMessage converts a message item. Unknown roles are dropped (ok=false);
// malformed content parts are fatal for the request.
func toChatMessage(item protocol.InputItem) (llms.ChatMessage, bool, error) {
	switch item.Role {
	case protocol.RoleUser, protocol.RoleAssistant, protocol.RoleSystem, protocol.RoleDeveloper:
	default:
		return llms.ChatMessage{}, false, nil
	}

	message := llms.ChatMessage{Role: item.Role}

	if isPlainText(item.Content) {
		message.Content = item.TextContent()
		return message, true, nil
	}

	parts := make([]llms.ContentPart, 0, len(item.Content))
	for _, part := range item.Content {
		switch part.Type {
		case protocol.ContentTypeInputText, protocol.ContentTypeOutputText:
			parts = append(parts, llms.ContentPart{Type: "text", Text: part.Text})
		case protocol.ContentTypeInputImage:
			if part.ImageURL == "" {
				return llms.ChatMessage{}, false, protocol.NewError(protocol.ErrInvalidInput,
					"input_image content part requires an image_url")
			}
			parts = append(parts, llms.ContentPart{
				Type:     "image_url",
				ImageURL: &llms.ImageURL{URL: part.ImageURL, Detail: part.Detail},
			})
		case protocol.ContentTypeInputFile:
			if part.FileID == "" && part.FileData == "" {
				return llms.ChatMessage{}, false, protocol.NewError(protocol.ErrInvalidInput,
					"input_file content part requires a file_id or file_data")
			}
			parts = append(parts, llms.ContentPart{
				Type: "file",
				File: &llms.FileRef{
					FileID:   part.FileID,
					FileData: part.FileData,
					Filename: part.Filename,
				},
			})
		default:
			return llms.ChatMessage{}, false, protocol.NewError(protocol.ErrInvalidInput,
				fmt.Sprintf("unknown content part type %q", part.Type))
		}
	}
	message.Content = parts
	return message, true, nil
}

func isPlainText(parts []protocol.ContentPart) bool {
	for _, part := range parts {
		if part.Type != protocol.ContentTypeInputText && part.Type != protocol.ContentTypeOutputText {
			return false
		}
	}
	return true
}

func toResponseFormat(format *protocol.TextFormat) (*llms.ResponseFormat, error) {
	switch format.Type {
	case "text":
		return &llms.ResponseFormat{Type: "text"}, nil
	case "json_object":
		return &llms.ResponseFormat{Type: "json_object"}, nil
	case "json_schema":
		if format.Schema == nil {
			return nil, protocol.NewError(protocol.ErrInvalidInput, "json_schema format requires a schema")
		}
		return &llms.ResponseFormat{
			Type: "json_schema",
			JSONSchema: &llms.JSONSchema{
				Name:   format.Name,
				Schema: format.Schema,
				Strict: format.Strict,
			},
		}, nil
	default:
		return nil, protocol.NewError(protocol.ErrInvalidInput,
			fmt.Sprintf("unknown text format type %q", format.Type))
	}
}

// toChatTools converts the request's tool list. Function tools pass their
// schema through; built-in search tools become function-shaped stubs named
// after their type, which the orchestrator intercepts on invocation.
func toChatTools(requestTools []protocol.Tool) []llms.Tool {
	if len(requestTools) == 0 {
		return nil
	}

	tools := make([]llms.Tool, 0, len(requestTools))
	for _, t := range requestTools {
		switch t.Type {
		case protocol.ToolTypeFunction:
			tools = append(tools, llms.Tool{
				Type: "function",
				Function: llms.ToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
					Strict:      t.Strict,
				},
			})
		case protocol.ToolTypeFileSearch, protocol.ToolTypeWebSearch, protocol.ToolTypeAgenticSearch:
			tools = append(tools, llms.Tool{
				Type: "function",
				Function: llms.ToolFunction{
					Name:        t.Type,
					Description: stubDescription(t.Type),
					Parameters: map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"query": map[string]interface{}{
								"type":        "string",
								"description": "The search query.",
							},
						},
						"required": []string{"query"},
					},
				},
			})
		}
	}
	return tools
}

func stubDescription(toolType string) string {
	switch toolType {
	case protocol.ToolTypeFileSearch:
		return "Search the attached vector stores for relevant passages."
	case protocol.ToolTypeWebSearch:
		return "Search the web for current information."
	case protocol.ToolTypeAgenticSearch:
		return "Research an open question across the attached vector stores, iteratively."
	default:
		return ""
	}
}

// ExtractThink splits a leading <think>...</think> block from assistant
// content.
func ExtractThink(content string) (think, rest string) {
	trimmed := strings.TrimLeft(content, " \t\n")
	if !strings.HasPrefix(trimmed, "<think>") {
		return "", content
	}
	end := strings.Index(trimmed, "</think>")
	if end < 0 {
		return "", content
	}
	think = strings.TrimSpace(trimmed[len("<think>"):end])
	rest = strings.TrimLeft(trimmed[end+len("</think>"):], " \n")
	return think, rest
}

// ChoiceOutputItems converts one chat-completion choice into ordered output
// items: an optional reasoning item from a <think> prefix, the visible
// message with its citations, then a function-call item per tool call.
func ChoiceOutputItems(choice llms.Choice) []protocol.OutputItem {
	items := messageItems(choice, len(choice.Message.ToolCalls) == 0)

	for _, call := range choice.Message.ToolCalls {
		items = append(items, protocol.OutputItem{
			Type:      protocol.ItemTypeFunctionCall,
			ID:        protocol.NewItemID("fc"),
			CallID:    call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
			Status:    protocol.StatusCompleted,
		})
	}

	return items
}

// messageItems converts a choice's text content into reasoning/message output
// items. An empty visible message is emitted only when force is set (a choice
// that produced nothing else still yields one message item).
func messageItems(choice llms.Choice, force bool) []protocol.OutputItem {
	var items []protocol.OutputItem

	content, _ := choice.Message.Content.(string)
	think, visible := ExtractThink(content)

	if think != "" {
		items = append(items, protocol.OutputItem{
			Type:    protocol.ItemTypeReasoning,
			ID:      protocol.NewItemID("rs"),
			Summary: []protocol.ContentPart{{Type: protocol.ContentTypeOutputText, Text: think}},
			Status:  protocol.StatusCompleted,
		})
	}

	if visible != "" || force {
		items = append(items, protocol.OutputItem{
			Type: protocol.ItemTypeMessage,
			ID:   protocol.NewItemID("msg"),
			Role: protocol.RoleAssistant,
			Content: []protocol.ContentPart{{
				Type:        protocol.ContentTypeOutputText,
				Text:        visible,
				Annotations: toAnnotations(choice.Message.Annotations),
			}},
			Status: protocol.StatusCompleted,
		})
	}

	return items
}

func toAnnotations(annotations []llms.Annotation) []protocol.Annotation {
	if len(annotations) == 0 {
		return nil
	}
	out := make([]protocol.Annotation, 0, len(annotations))
	for _, a := range annotations {
		if a.URLCitation == nil {
			continue
		}
		out = append(out, protocol.Annotation{
			Type:       "url_citation",
			URL:        a.URLCitation.URL,
			Title:      a.URLCitation.Title,
			StartIndex: a.URLCitation.StartIndex,
			EndIndex:   a.URLCitation.EndIndex,
		})
	}
	return out
}

// ToUsage maps backend token accounting onto the response shape.
func ToUsage(usage *llms.Usage) *protocol.Usage {
	if usage == nil {
		return nil
	}
	return &protocol.Usage{
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		TotalTokens:  usage.TotalTokens,
	}
}
