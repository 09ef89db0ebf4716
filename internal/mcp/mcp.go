// Package mcp holds the tool-discovery registry. The discovery subprotocol is
// an external collaborator; what the gateway consumes is a named set of tool
// descriptors per server, loaded from a config file and namespaced as
// "<server>_<tool>". Reloads swap the whole snapshot atomically.
package mcp

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Tool is one discovered tool descriptor.
type Tool struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	InputSchema any    `yaml:"input_schema"`
}

// ServerConfig lists the tools a named server exposes.
type ServerConfig struct {
	Tools []Tool `yaml:"tools"`
}

// Config is the discovery config file shape: server name → tool list.
type Config struct {
	Servers map[string]ServerConfig `yaml:"servers"`
}

// DiscoveredTool is a namespaced descriptor ready for request merging.
type DiscoveredTool struct {
	Server      string
	Name        string // namespaced "<server>_<tool>"
	Description string
	InputSchema any
}

// Manager owns the current tool snapshot.
type Manager struct {
	path  string
	tools atomic.Pointer[[]DiscoveredTool]
}

// NewManager loads the config when path is non-empty; an empty path yields an
// empty registry that cannot reload.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	empty := []DiscoveredTool{}
	m.tools.Store(&empty)
	if path != "" {
		if err := m.Reload(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Reload re-reads the config file and swaps the snapshot.
func (m *Manager) Reload() error {
	if m.path == "" {
		return fmt.Errorf("no tool discovery config path configured")
	}
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read tool discovery config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse tool discovery config: %w", err)
	}
	var tools []DiscoveredTool
	for server, sc := range cfg.Servers {
		for _, t := range sc.Tools {
			tools = append(tools, DiscoveredTool{
				Server:      server,
				Name:        server + "_" + t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	m.tools.Store(&tools)
	return nil
}

// Tools returns the current snapshot.
func (m *Manager) Tools() []DiscoveredTool {
	return *m.tools.Load()
}

// Servers returns the distinct server names in the current snapshot.
func (m *Manager) Servers() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range m.Tools() {
		if !seen[t.Server] {
			seen[t.Server] = true
			out = append(out, t.Server)
		}
	}
	return out
}

// Path returns the backing config path ("" when unconfigured).
func (m *Manager) Path() string { return m.path }
