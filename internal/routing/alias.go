package routing

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// AliasTarget is one entry of the local alias map file.
type AliasTarget struct {
	BaseURL string            `yaml:"base_url" json:"base_url"`
	ModelID string            `yaml:"model_id" json:"model_id"`
	Mode    string            `yaml:"mode" json:"mode"`
	AuthEnv string            `yaml:"auth_env" json:"auth_env,omitempty"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`
}

// AliasRouter resolves aliases from a reloadable dictionary. The map is held
// behind an atomic pointer so reloads never tear an in-flight lookup.
type AliasRouter struct {
	path    string
	aliases atomic.Pointer[map[string]AliasTarget]
}

// NewAliasRouter loads the alias file (YAML; JSON parses as a YAML subset).
func NewAliasRouter(path string) (*AliasRouter, error) {
	r := &AliasRouter{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewAliasRouterFromMap builds a router without file backing, for tests and
// inline configuration.
func NewAliasRouterFromMap(aliases map[string]AliasTarget) *AliasRouter {
	r := &AliasRouter{}
	r.aliases.Store(&aliases)
	return r
}

// Reload re-reads the alias file and swaps the snapshot.
func (r *AliasRouter) Reload() error {
	if r.path == "" {
		return nil
	}
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read alias file: %w", err)
	}
	var aliases map[string]AliasTarget
	if err := yaml.Unmarshal(raw, &aliases); err != nil {
		return fmt.Errorf("parse alias file: %w", err)
	}
	r.aliases.Store(&aliases)
	return nil
}

// Len reports the number of configured aliases.
func (r *AliasRouter) Len() int {
	m := r.aliases.Load()
	if m == nil {
		return 0
	}
	return len(*m)
}

func (r *AliasRouter) Name() string { return "alias" }

func (r *AliasRouter) Plan(_ context.Context, req *RouteRequest) (*RoutePlan, error) {
	m := r.aliases.Load()
	if m == nil {
		return nil, ErrNoRoute
	}
	target, ok := (*m)[req.Alias]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, req.Alias)
	}
	modelID := target.ModelID
	if modelID == "" {
		modelID = req.Alias
	}
	return &RoutePlan{
		RouteID: newRouteID(),
		Upstream: Upstream{
			BaseURL: target.BaseURL,
			Mode:    ParseMode(target.Mode),
			ModelID: modelID,
			AuthEnv: target.AuthEnv,
			Headers: target.Headers,
		},
		PolicyRev:   "local_v1",
		ContentUsed: req.ContentUsed,
		Backend:     r.Name(),
	}, nil
}
