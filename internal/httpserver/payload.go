package httpserver

import (
	"encoding/json"
	"strings"

	"github.com/labiium/routiium/internal/analytics"
	"github.com/labiium/routiium/internal/translate"
	"github.com/labiium/routiium/internal/wire"
)

// extractConversationID reads the body-level conversation hint: the
// "conversation" field (string or {id} object), then "conversation_id", then
// "previous_response_id".
func extractConversationID(payload map[string]any) string {
	switch conv := payload["conversation"].(type) {
	case string:
		if s := strings.TrimSpace(conv); s != "" {
			return s
		}
	case map[string]any:
		if id, ok := conv["id"].(string); ok && strings.TrimSpace(id) != "" {
			return id
		}
	}
	if id, ok := payload["conversation_id"].(string); ok && id != "" {
		return id
	}
	if id, ok := payload["previous_response_id"].(string); ok && id != "" {
		return id
	}
	return ""
}

func extractPreviousResponseID(payload map[string]any) string {
	id, _ := payload["previous_response_id"].(string)
	return id
}

// flattenChatStyleTools rewrites nested Chat-form tool definitions inside a
// Responses payload to the flat form the Responses surface expects. Clients
// built on Chat SDKs routinely send the nested shape to both endpoints.
func flattenChatStyleTools(payload map[string]any) {
	tools, ok := payload["tools"].([]any)
	if !ok {
		return
	}
	for _, t := range tools {
		obj, ok := t.(map[string]any)
		if !ok {
			continue
		}
		fn, ok := obj["function"].(map[string]any)
		if !ok {
			continue
		}
		if name, ok := fn["name"]; ok {
			obj["name"] = name
		}
		if desc, ok := fn["description"]; ok {
			obj["description"] = desc
		}
		if params, ok := fn["parameters"]; ok {
			obj["parameters"] = params
		}
		delete(obj, "function")
	}
}

// normalizeNullContent replaces explicit null message content with an empty
// string; tool-call responses commonly omit content and some upstreams reject
// the null.
func normalizeNullContent(payload map[string]any) {
	messages, ok := payload["messages"].([]any)
	if !ok {
		return
	}
	for _, m := range messages {
		obj, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if v, present := obj["content"]; present && v == nil {
			obj["content"] = ""
		}
	}
}

// convertResponseBody translates a successful upstream response body into the
// inbound format. toChat selects the Responses→Chat direction.
func convertResponseBody(body []byte, toChat bool) ([]byte, error) {
	if toChat {
		var resp wire.ResponsesResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		return json.Marshal(translate.ResponsesToChatResponse(&resp))
	}
	var resp wire.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return json.Marshal(translate.ChatToResponsesResponse(&resp))
}

// extractUsage pulls the usage block out of a final client-facing body.
// format names the client surface ("chat" or "responses").
func extractUsage(format string, body []byte) *analytics.TokenInfo {
	var doc struct {
		Usage *json.RawMessage `json:"usage"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || doc.Usage == nil {
		return nil
	}
	return usageFromRaw(format, *doc.Usage)
}

func usageFromRaw(format string, raw json.RawMessage) *analytics.TokenInfo {
	if format == "responses" {
		var u wire.ResponsesUsage
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil
		}
		return &analytics.TokenInfo{
			Prompt:     u.InputTokens,
			Completion: u.OutputTokens,
			Cached:     u.CachedTokens,
			Reasoning:  u.ReasoningTokens,
		}
	}
	var u wire.ChatUsage
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil
	}
	return &analytics.TokenInfo{
		Prompt:     u.PromptTokens,
		Completion: u.CompletionTokens,
		Cached:     u.CachedTokens,
		Reasoning:  u.ReasoningTokens,
	}
}

// usageFromEvent scans one outgoing SSE event for a usage block. Chunks carry
// usage periodically; the relay keeps the last one seen.
func usageFromEvent(event []byte) *analytics.TokenInfo {
	idx := strings.Index(string(event), "data: ")
	if idx < 0 {
		return nil
	}
	data := strings.TrimSpace(string(event)[idx+6:])
	if data == "" || data == "[DONE]" {
		return nil
	}
	var doc struct {
		Usage        *json.RawMessage `json:"usage"`
		InputTokens  *int             `json:"input_tokens"`
		PromptTokens *int             `json:"prompt_tokens"`
	}
	if err := json.Unmarshal([]byte(data), &doc); err != nil || doc.Usage == nil {
		return nil
	}
	// Chunk usage keys follow the emitted format; chat names win, responses
	// names fall back.
	if u := usageFromRaw("chat", *doc.Usage); u != nil && (u.Prompt != 0 || u.Completion != 0) {
		return u
	}
	return usageFromRaw("responses", *doc.Usage)
}
