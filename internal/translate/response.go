package translate

import (
	"strconv"
	"strings"

	"github.com/labiium/routiium/internal/wire"
)

// ResponsesToChatResponse converts a Responses response document into a Chat
// Completions response: output items become a single assistant choice, tool
// calls set finish_reason "tool_calls", and the usage block renames
// input/output to prompt/completion.
func ResponsesToChatResponse(src *wire.ResponsesResponse) *wire.ChatCompletionResponse {
	var content *string
	if src.OutputText != nil {
		content = src.OutputText
	} else {
		var parts []string
		for _, item := range src.Output {
			switch item.Type {
			case wire.OutputItemMessage, wire.OutputItemFunctionCallOutput:
				if item.Content != "" {
					parts = append(parts, item.Content)
				}
			}
		}
		if len(parts) > 0 {
			joined := strings.Join(parts, "\n")
			content = &joined
		}
	}

	var toolCalls []wire.ToolCall
	finishReason := "stop"
	for _, item := range src.Output {
		if item.Type != wire.OutputItemFunctionCall {
			continue
		}
		toolCalls = append(toolCalls, wire.ToolCall{
			ID:   item.CallID,
			Type: "function",
			Function: wire.FunctionCall{
				Name:      item.Name,
				Arguments: item.Arguments,
			},
		})
		finishReason = "tool_calls"
	}
	if content == nil && len(toolCalls) == 0 {
		empty := ""
		content = &empty
	}

	return &wire.ChatCompletionResponse{
		ID:      src.ID,
		Object:  "chat.completion",
		Created: src.Created,
		Model:   src.Model,
		Choices: []wire.ChatChoice{{
			Index: 0,
			Message: wire.ChatResponseMessage{
				Role:      "assistant",
				Content:   content,
				ToolCalls: toolCalls,
			},
			FinishReason: &finishReason,
		}},
		Usage:             usageToChat(src.Usage),
		SystemFingerprint: src.SystemFingerprint,
	}
}

// ChatToResponsesResponse is the inverse direction, used when a Chat upstream
// serves a client that speaks Responses.
func ChatToResponsesResponse(src *wire.ChatCompletionResponse) *wire.ResponsesResponse {
	var output []wire.OutputItem
	var outputText *string

	if len(src.Choices) > 0 {
		msg := src.Choices[0].Message
		if msg.Content != nil {
			outputText = msg.Content
			output = append(output, wire.OutputItem{
				Type:    wire.OutputItemMessage,
				ID:      "msg-" + src.ID,
				Content: *msg.Content,
			})
		}
		for i, tc := range msg.ToolCalls {
			output = append(output, wire.OutputItem{
				Type:      wire.OutputItemFunctionCall,
				ID:        "call-" + strconv.Itoa(i),
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
				CallID:    tc.ID,
			})
		}
	}

	return &wire.ResponsesResponse{
		ID:                src.ID,
		Object:            "response",
		Created:           src.Created,
		Model:             src.Model,
		OutputText:        outputText,
		Output:            output,
		Usage:             usageToResponses(src.Usage),
		SystemFingerprint: src.SystemFingerprint,
	}
}

// ResponsesChunkToChatChunk converts one streaming chunk. The assistant role
// is announced on the first chunk only; tool-call deltas keep their call-id
// linkage and accumulating argument fragments.
func ResponsesChunkToChatChunk(src *wire.ResponsesChunk, isFirst bool) *wire.ChatCompletionChunk {
	deltaContent := src.OutputTextDelta
	var toolCallDeltas []wire.ToolCallDelta

	for i, item := range src.OutputDeltas {
		switch item.Type {
		case wire.OutputItemFunctionCall:
			id := item.CallID
			typ := "function"
			name := item.Name
			args := item.Arguments
			toolCallDeltas = append(toolCallDeltas, wire.ToolCallDelta{
				Index: i,
				ID:    &id,
				Type:  &typ,
				Function: &wire.FunctionCallDelta{
					Name:      &name,
					Arguments: &args,
				},
			})
		case wire.OutputItemMessage, wire.OutputItemFunctionCallOutput:
			if deltaContent == nil && item.Content != "" {
				content := item.Content
				deltaContent = &content
			}
		}
	}

	delta := wire.ChatDelta{
		Content:   deltaContent,
		ToolCalls: toolCallDeltas,
	}
	if isFirst {
		role := "assistant"
		delta.Role = &role
	}

	return &wire.ChatCompletionChunk{
		ID:      src.ID,
		Object:  "chat.completion.chunk",
		Created: src.Created,
		Model:   src.Model,
		Choices: []wire.ChatStreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: src.FinishReason,
		}},
		Usage: usageToChat(src.Usage),
	}
}

// ChatChunkToResponsesChunk is the inverse streaming direction.
func ChatChunkToResponsesChunk(src *wire.ChatCompletionChunk) *wire.ResponsesChunk {
	out := &wire.ResponsesChunk{
		ID:      src.ID,
		Object:  "response.chunk",
		Created: src.Created,
		Model:   src.Model,
		Usage:   usageToResponses(src.Usage),
	}
	if len(src.Choices) == 0 {
		return out
	}
	choice := src.Choices[0]
	out.FinishReason = choice.FinishReason
	if choice.Delta.Content != nil {
		out.OutputTextDelta = choice.Delta.Content
	}
	for _, tc := range choice.Delta.ToolCalls {
		item := wire.OutputItem{Type: wire.OutputItemFunctionCall}
		if tc.ID != nil {
			item.CallID = *tc.ID
		}
		if tc.Function != nil {
			if tc.Function.Name != nil {
				item.Name = *tc.Function.Name
			}
			if tc.Function.Arguments != nil {
				item.Arguments = *tc.Function.Arguments
			}
		}
		out.OutputDeltas = append(out.OutputDeltas, item)
	}
	return out
}

func usageToChat(u *wire.ResponsesUsage) *wire.ChatUsage {
	if u == nil {
		return nil
	}
	return &wire.ChatUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
		CachedTokens:     u.CachedTokens,
		ReasoningTokens:  u.ReasoningTokens,
	}
}

func usageToResponses(u *wire.ChatUsage) *wire.ResponsesUsage {
	if u == nil {
		return nil
	}
	return &wire.ResponsesUsage{
		InputTokens:     u.PromptTokens,
		OutputTokens:    u.CompletionTokens,
		TotalTokens:     u.TotalTokens,
		CachedTokens:    u.CachedTokens,
		ReasoningTokens: u.ReasoningTokens,
	}
}
