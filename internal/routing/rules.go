package routing

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Rule is one prefix rule: the first rule whose prefix matches the alias
// wins, and the alias passes through as the upstream model id.
type Rule struct {
	Prefix  string
	BaseURL string
	AuthEnv string
	Mode    UpstreamMode
}

// RuleRouter resolves aliases against an ordered prefix-rule list.
type RuleRouter struct {
	rules []Rule
}

// NewRuleRouter builds a router over the given rules.
func NewRuleRouter(rules []Rule) *RuleRouter {
	return &RuleRouter{rules: rules}
}

// ParseRules parses the semicolon-delimited rule list form:
//
//	prefix=gpt-,base=https://api.openai.com/v1,key_env=OPENAI_API_KEY,mode=chat;prefix=...
//
// Entries missing a prefix or base URL are dropped.
func ParseRules(input string) []Rule {
	var rules []Rule
	for _, raw := range strings.Split(input, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var rule Rule
		mode := ModeResponses
		for _, kv := range strings.Split(raw, ",") {
			kv = strings.TrimSpace(kv)
			key, val, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			key = strings.ToLower(strings.TrimSpace(key))
			val = strings.TrimSpace(val)
			if val == "" {
				continue
			}
			switch key {
			case "prefix":
				rule.Prefix = val
			case "base", "base_url":
				rule.BaseURL = val
			case "key_env", "api_key_env":
				rule.AuthEnv = val
			case "mode":
				mode = ParseMode(strings.ToLower(val))
			}
		}
		rule.Mode = mode
		if rule.Prefix != "" && rule.BaseURL != "" {
			rules = append(rules, rule)
		}
	}
	return rules
}

func (r *RuleRouter) Name() string { return "rules" }

// Plan scans the rules in declaration order.
func (r *RuleRouter) Plan(_ context.Context, req *RouteRequest) (*RoutePlan, error) {
	for _, rule := range r.rules {
		if !strings.HasPrefix(req.Alias, rule.Prefix) {
			continue
		}
		return &RoutePlan{
			RouteID: newRouteID(),
			Upstream: Upstream{
				BaseURL: rule.BaseURL,
				Mode:    rule.Mode,
				ModelID: req.Alias,
				AuthEnv: rule.AuthEnv,
			},
			ContentUsed: req.ContentUsed,
			Backend:     r.Name(),
		}, nil
	}
	return nil, ErrNoRoute
}

func newRouteID() string {
	return "rte_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}
