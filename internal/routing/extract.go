package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// ExtractRouteRequest builds the routing question from a raw request payload.
// Capability detection: text always, vision when any message content is a
// part array, tools when tool definitions are present. Content beyond
// fingerprints is included only as the privacy mode allows.
func ExtractRouteRequest(alias, api string, payload map[string]any, privacy PrivacyMode) *RouteRequest {
	caps := []string{"text"}
	messages := payloadMessages(payload)
	for _, m := range messages {
		obj, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if _, isParts := obj["content"].([]any); isParts {
			caps = append(caps, "vision")
			break
		}
	}
	if _, ok := payload["tools"]; ok {
		caps = append(caps, "tools")
	}

	stream, _ := payload["stream"].(bool)

	params := map[string]any{}
	if temp, ok := payload["temperature"]; ok {
		params["temperature"] = temp
	}
	params["json_mode"] = isJSONMode(payload)

	var maxOutput *int
	for _, key := range []string{"max_tokens", "max_completion_tokens", "max_output_tokens"} {
		if f, ok := payload[key].(float64); ok {
			n := int(f)
			maxOutput = &n
			break
		}
	}

	return &RouteRequest{
		SchemaVersion: "1.1",
		RequestID:     "req_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12],
		Alias:         alias,
		API:           api,
		PrivacyMode:   privacy,
		ContentUsed:   privacy.ContentUsed(),
		Caps:          caps,
		Stream:        stream,
		Params:        params,
		Estimates: Estimates{
			PromptTokens:    estimateTokens(payload, messages),
			MaxOutputTokens: maxOutput,
		},
		Conversation: buildConversationSignals(messages, privacy),
		Tools:        extractToolSignals(payload),
	}
}

func payloadMessages(payload map[string]any) []any {
	if msgs, ok := payload["messages"].([]any); ok {
		return msgs
	}
	if input, ok := payload["input"].([]any); ok {
		return input
	}
	if input, ok := payload["input"].(map[string]any); ok {
		if msgs, ok := input["messages"].([]any); ok {
			return msgs
		}
	}
	return nil
}

func isJSONMode(payload map[string]any) bool {
	rf, ok := payload["response_format"].(map[string]any)
	if !ok {
		return false
	}
	typ, _ := rf["type"].(string)
	return typ == "json_object"
}

func buildConversationSignals(messages []any, privacy PrivacyMode) ConversationSignals {
	signals := ConversationSignals{Turns: len(messages)}
	if len(messages) == 0 {
		return signals
	}

	if system := findMessageContent(messages, "system", false); system != "" {
		signals.SystemFingerprint = "sha256:" + fingerprint(system)
	}
	if raw, err := json.Marshal(messages); err == nil {
		signals.HistoryFingerprint = "sha256:" + fingerprint(string(raw))
	}

	switch privacy {
	case PrivacySummary:
		if lastUser := findMessageContent(messages, "user", true); lastUser != "" {
			signals.Summary = strings.TrimSpace(truncate(lastUser, 100))
		}
	case PrivacyFull:
		if system := findMessageContent(messages, "system", false); system != "" {
			signals.SystemPrompt = system
		}
		recent := 5
		if len(messages) < recent {
			recent = len(messages)
		}
		signals.RecentMessages = messages[len(messages)-recent:]
	}
	return signals
}

// findMessageContent returns the string content of the first (or last) message
// with the given role.
func findMessageContent(messages []any, role string, last bool) string {
	indices := make([]int, 0, len(messages))
	for i := range messages {
		indices = append(indices, i)
	}
	if last {
		for i, j := 0, len(indices)-1; i < j; i, j = i+1, j-1 {
			indices[i], indices[j] = indices[j], indices[i]
		}
	}
	for _, i := range indices {
		obj, ok := messages[i].(map[string]any)
		if !ok {
			continue
		}
		if r, _ := obj["role"].(string); r != role {
			continue
		}
		if content, ok := obj["content"].(string); ok {
			return content
		}
	}
	return ""
}

func extractToolSignals(payload map[string]any) []ToolSignal {
	arr, ok := payload["tools"].([]any)
	if !ok {
		return nil
	}
	var out []ToolSignal
	for _, t := range arr {
		obj, ok := t.(map[string]any)
		if !ok {
			continue
		}
		name := ""
		var params any
		if fn, ok := obj["function"].(map[string]any); ok {
			name, _ = fn["name"].(string)
			params = fn["parameters"]
		}
		if name == "" {
			name, _ = obj["name"].(string)
			if params == nil {
				params = obj["parameters"]
			}
		}
		if name == "" {
			continue
		}
		sig := ToolSignal{Name: name}
		if params != nil {
			if raw, err := json.Marshal(params); err == nil {
				sig.JSONSchemaHash = "sha256:" + fingerprint(string(raw))
			}
		}
		out = append(out, sig)
	}
	return out
}

// estimateTokens applies a rough chars/4 heuristic plus structural overhead.
func estimateTokens(payload map[string]any, messages []any) int {
	total := 0
	for _, m := range messages {
		obj, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if content, ok := obj["content"].(string); ok {
			total += len(content) / 4
		}
	}
	total += len(messages) * 10
	if tools, ok := payload["tools"].([]any); ok {
		total += len(tools) * 50
	}
	if total < 1 {
		total = 1
	}
	return total
}

func fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
