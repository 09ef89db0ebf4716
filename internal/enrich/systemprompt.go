// Package enrich rewrites outgoing requests: hot-reloadable system-prompt
// injection and discovered-tool merging. Config snapshots swap atomically so
// in-flight requests keep whatever snapshot they captured at entry.
package enrich

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/labiium/routiium/internal/wire"
)

// Injection modes.
const (
	ModePrepend = "prepend"
	ModeAppend  = "append"
	ModeReplace = "replace"
)

// SystemPromptConfig is the file-backed injection configuration.
// Selection precedence: per-model, then per-api, then global.
type SystemPromptConfig struct {
	Enabled       bool              `yaml:"enabled"`
	Global        string            `yaml:"global"`
	PerModel      map[string]string `yaml:"per_model"`
	PerAPI        map[string]string `yaml:"per_api"`
	InjectionMode string            `yaml:"injection_mode"`
}

// Prompt selects the effective prompt for a model/api pair, or "" when none
// applies.
func (c *SystemPromptConfig) Prompt(model, api string) string {
	if c == nil || !c.Enabled {
		return ""
	}
	if model != "" {
		if p, ok := c.PerModel[model]; ok && p != "" {
			return p
		}
	}
	if api != "" {
		if p, ok := c.PerAPI[api]; ok && p != "" {
			return p
		}
	}
	return c.Global
}

// Mode returns the normalized injection mode.
func (c *SystemPromptConfig) Mode() string {
	switch c.InjectionMode {
	case ModeAppend, ModeReplace:
		return c.InjectionMode
	default:
		return ModePrepend
	}
}

// SystemPromptHolder owns the current config snapshot.
type SystemPromptHolder struct {
	path string
	cfg  atomic.Pointer[SystemPromptConfig]
}

// NewSystemPromptHolder loads the config file when path is non-empty; an
// empty path yields a disabled holder that can never reload.
func NewSystemPromptHolder(path string) (*SystemPromptHolder, error) {
	h := &SystemPromptHolder{path: path}
	h.cfg.Store(&SystemPromptConfig{})
	if path != "" {
		if err := h.Reload(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Reload re-reads the file and swaps the snapshot.
func (h *SystemPromptHolder) Reload() error {
	if h.path == "" {
		return fmt.Errorf("no system prompt config path configured")
	}
	raw, err := os.ReadFile(h.path)
	if err != nil {
		return fmt.Errorf("read system prompt config: %w", err)
	}
	var cfg SystemPromptConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse system prompt config: %w", err)
	}
	h.cfg.Store(&cfg)
	return nil
}

// Snapshot returns the current config; callers hold it for the request.
func (h *SystemPromptHolder) Snapshot() *SystemPromptConfig {
	return h.cfg.Load()
}

// Path returns the backing file path ("" when unconfigured).
func (h *SystemPromptHolder) Path() string { return h.path }

// InjectChat applies the prompt to Chat messages in place per the mode.
// Replace with no existing system message degenerates to prepend, which makes
// the operation idempotent for a fixed config.
func InjectChat(messages []wire.ChatMessage, prompt, mode string) []wire.ChatMessage {
	if prompt == "" {
		return messages
	}
	// Idempotence guard: a system message carrying this exact prompt means the
	// config was already applied.
	if mode != ModeReplace {
		for _, m := range messages {
			if m.Role == "system" {
				if s, ok := m.Content.(string); ok && s == prompt {
					return messages
				}
			}
		}
	}
	systemMsg := wire.ChatMessage{Role: "system", Content: prompt}
	switch mode {
	case ModeAppend:
		pos := -1
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == "system" {
				pos = i
				break
			}
		}
		if pos >= 0 {
			out := make([]wire.ChatMessage, 0, len(messages)+1)
			out = append(out, messages[:pos+1]...)
			out = append(out, systemMsg)
			out = append(out, messages[pos+1:]...)
			return out
		}
		return append(messages, systemMsg)
	case ModeReplace:
		out := make([]wire.ChatMessage, 0, len(messages)+1)
		out = append(out, systemMsg)
		for _, m := range messages {
			if m.Role != "system" {
				out = append(out, m)
			}
		}
		return out
	default:
		return append([]wire.ChatMessage{systemMsg}, messages...)
	}
}

// InjectJSON applies the prompt to a raw payload's message array under the
// given key ("messages" for Chat, "input" for Responses).
func InjectJSON(payload map[string]any, key, prompt, mode string) {
	if prompt == "" {
		return
	}
	messages, ok := payload[key].([]any)
	if !ok {
		return
	}
	if mode != ModeReplace {
		for _, m := range messages {
			if obj, ok := m.(map[string]any); ok {
				role, _ := obj["role"].(string)
				content, _ := obj["content"].(string)
				if role == "system" && content == prompt {
					return
				}
			}
		}
	}
	systemMsg := map[string]any{"role": "system", "content": prompt}
	switch mode {
	case ModeAppend:
		pos := -1
		for i := len(messages) - 1; i >= 0; i-- {
			if obj, ok := messages[i].(map[string]any); ok {
				if role, _ := obj["role"].(string); role == "system" {
					pos = i
					break
				}
			}
		}
		if pos >= 0 {
			out := make([]any, 0, len(messages)+1)
			out = append(out, messages[:pos+1]...)
			out = append(out, systemMsg)
			out = append(out, messages[pos+1:]...)
			payload[key] = out
			return
		}
		payload[key] = append(messages, systemMsg)
	case ModeReplace:
		out := make([]any, 0, len(messages)+1)
		out = append(out, systemMsg)
		for _, m := range messages {
			if obj, ok := m.(map[string]any); ok {
				if role, _ := obj["role"].(string); role == "system" {
					continue
				}
			}
			out = append(out, m)
		}
		payload[key] = out
	default:
		payload[key] = append([]any{systemMsg}, messages...)
	}
}
