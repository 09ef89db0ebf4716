// Package translate implements the pure, bidirectional mapping between the
// Chat Completions and Responses wire formats, for request documents,
// response documents, and streaming chunks. It holds no I/O so the conversion
// endpoint and tests can exercise it directly.
package translate

import (
	"encoding/json"

	"github.com/labiium/routiium/internal/wire"
)

// minOutputTokens is the smallest max_output_tokens accepted by Responses
// upstreams; lower requested caps are raised to it.
const minOutputTokens = 16

// ChatToResponsesRequest converts a Chat Completions request into a Responses
// request. Messages move under "input" with role mapping (legacy "function"
// becomes "tool"), max_completion_tokens wins over max_tokens, and nested
// function tools flatten.
func ChatToResponsesRequest(src *wire.ChatCompletionRequest, conversation *string) *wire.ResponsesRequest {
	input := make([]wire.ResponsesMessage, 0, len(src.Messages))
	for _, m := range src.Messages {
		content := contentToResponses(m.Content)
		if content == nil && m.Role == "assistant" && len(m.ToolCalls) > 0 {
			content = ""
		}
		input = append(input, wire.ResponsesMessage{
			Role:       mapRole(m.Role),
			Content:    content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			ToolCalls:  m.ToolCalls,
		})
	}

	var tools []wire.ResponsesTool
	for _, t := range src.Tools {
		tools = append(tools, wire.ResponsesTool{
			Type:        "function",
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}

	maxOutput := src.MaxCompletionTokens
	if maxOutput == nil {
		maxOutput = src.MaxTokens
	}
	if maxOutput != nil && *maxOutput < minOutputTokens {
		floor := minOutputTokens
		maxOutput = &floor
	}

	return &wire.ResponsesRequest{
		Model:            src.Model,
		Input:            input,
		Temperature:      src.Temperature,
		TopP:             src.TopP,
		MaxOutputTokens:  maxOutput,
		Stop:             src.Stop,
		PresencePenalty:  src.PresencePenalty,
		FrequencyPenalty: src.FrequencyPenalty,
		LogitBias:        src.LogitBias,
		User:             src.User,
		N:                src.N,
		Tools:            tools,
		ToolChoice:       mapToolChoiceToResponses(src.ToolChoice),
		ResponseFormat:   src.ResponseFormat,
		Stream:           src.Stream,
		Conversation:     conversation,
	}
}

// ResponsesToChatRequest is the inverse direction: Responses request in, Chat
// request out. Conversation state fields are dropped because Chat upstreams
// have no equivalent.
func ResponsesToChatRequest(src *wire.ResponsesRequest) *wire.ChatCompletionRequest {
	messages := make([]wire.ChatMessage, 0, len(src.Input))
	for _, m := range src.Input {
		messages = append(messages, wire.ChatMessage{
			Role:       mapRole(m.Role),
			Content:    contentToChat(m.Content),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			ToolCalls:  m.ToolCalls,
		})
	}

	var tools []wire.ChatTool
	for _, t := range src.Tools {
		tools = append(tools, wire.ChatTool{
			Type: "function",
			Function: wire.FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return &wire.ChatCompletionRequest{
		Model:            src.Model,
		Messages:         messages,
		Temperature:      src.Temperature,
		TopP:             src.TopP,
		MaxTokens:        src.MaxOutputTokens,
		Stop:             src.Stop,
		PresencePenalty:  src.PresencePenalty,
		FrequencyPenalty: src.FrequencyPenalty,
		LogitBias:        src.LogitBias,
		User:             src.User,
		N:                src.N,
		Tools:            tools,
		ToolChoice:       mapToolChoiceToChat(src.ToolChoice),
		ResponseFormat:   src.ResponseFormat,
		Stream:           src.Stream,
	}
}

// responsesOnlyKeys are stripped when a Responses-shaped payload is sent to a
// Chat upstream; chatOwnedKeys are the fields the typed conversion owns.
var responsesOnlyKeys = []string{"conversation", "conversation_id", "previous_response_id"}

var chatOwnedKeys = map[string]bool{
	"model": true, "messages": true, "input": true, "temperature": true,
	"top_p": true, "max_tokens": true, "max_completion_tokens": true,
	"max_output_tokens": true, "stop": true, "presence_penalty": true,
	"frequency_penalty": true, "logit_bias": true, "user": true, "n": true,
	"tools": true, "tool_choice": true, "response_format": true, "stream": true,
	"conversation": true, "conversation_id": true, "previous_response_id": true,
}

// ResponsesJSONToChatValue converts a raw Responses-shaped JSON object into a
// Chat-shaped one, carrying unrecognized top-level fields across so
// passthrough upstreams keep their extensions.
func ResponsesJSONToChatValue(src map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	var req wire.ResponsesRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	chatReq := ResponsesToChatRequest(&req)
	out, err := toJSONObject(chatReq)
	if err != nil {
		return nil, err
	}
	for k, v := range src {
		if chatOwnedKeys[k] {
			continue
		}
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out, nil
}

// ChatJSONToResponsesValue converts a raw Chat-shaped JSON object into a
// Responses-shaped one, honoring conversation / previous-response hints.
func ChatJSONToResponsesValue(src map[string]any, conversation, previousResponseID *string) (map[string]any, error) {
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	var req wire.ChatCompletionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	converted := ChatToResponsesRequest(&req, conversation)
	if previousResponseID != nil && *previousResponseID != "" {
		converted.PreviousResponseID = previousResponseID
	}
	return toJSONObject(converted)
}

// StripResponsesOnlyFields removes conversation-state keys from a payload
// bound for a Chat upstream.
func StripResponsesOnlyFields(payload map[string]any) {
	for _, k := range responsesOnlyKeys {
		delete(payload, k)
	}
}

func toJSONObject(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func mapRole(role string) string {
	if role == "function" {
		return "tool"
	}
	return role
}

// mapToolChoiceToResponses flattens the nested chat form
// {"type":"function","function":{"name":...}} to {"type":"function","name":...}.
// Plain strings ("auto", "none", "required") pass through.
func mapToolChoiceToResponses(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if typ, _ := obj["type"].(string); typ == "function" {
		if fn, ok := obj["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok {
				out := map[string]any{"type": "function", "name": name}
				if args, ok := fn["arguments"]; ok {
					out["arguments"] = args
				}
				return out
			}
		}
	}
	return v
}

func mapToolChoiceToChat(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if typ, _ := obj["type"].(string); typ == "function" {
		if name, ok := obj["name"].(string); ok {
			fn := map[string]any{"name": name}
			if args, ok := obj["arguments"]; ok {
				fn["arguments"] = args
			}
			return map[string]any{"type": "function", "function": fn}
		}
	}
	return v
}
