package enrich

import (
	"github.com/labiium/routiium/internal/mcp"
)

// MergeToolsJSON unions client-declared tools with discovered tools inside a
// raw payload. Client-declared names shadow discovered ones on collision.
// The flat parameter controls the emitted definition shape: flat for
// Responses payloads, nested function objects for Chat payloads. Returns
// whether any discovered tool was added.
func MergeToolsJSON(payload map[string]any, discovered []mcp.DiscoveredTool, flat bool) bool {
	if len(discovered) == 0 {
		return false
	}

	existing, _ := payload["tools"].([]any)
	declared := map[string]bool{}
	for _, t := range existing {
		obj, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := obj["name"].(string); ok && name != "" {
			declared[name] = true
		}
		if fn, ok := obj["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok && name != "" {
				declared[name] = true
			}
		}
	}

	added := false
	for _, t := range discovered {
		if declared[t.Name] {
			continue
		}
		existing = append(existing, toolDefinition(t, flat))
		added = true
	}
	if added || len(existing) > 0 {
		payload["tools"] = existing
	}
	return added
}

func toolDefinition(t mcp.DiscoveredTool, flat bool) map[string]any {
	if flat {
		def := map[string]any{"type": "function", "name": t.Name}
		if t.Description != "" {
			def["description"] = t.Description
		}
		if t.InputSchema != nil {
			def["parameters"] = t.InputSchema
		}
		return def
	}
	fn := map[string]any{"name": t.Name}
	if t.Description != "" {
		fn["description"] = t.Description
	}
	if t.InputSchema != nil {
		fn["parameters"] = t.InputSchema
	}
	return map[string]any{"type": "function", "function": fn}
}
