// Package routing resolves a client-facing model alias to a concrete upstream
// plan. Three router implementations share one interface — remote policy
// service, local alias map, and prefix rules — composed with first-success
// semantics, a TTL plan cache, and conversation stickiness.
package routing

import (
	"context"
	"errors"
	"time"
)

// UpstreamMode selects the upstream API surface.
type UpstreamMode string

const (
	ModeResponses UpstreamMode = "responses"
	ModeChat      UpstreamMode = "chat"
	ModeBedrock   UpstreamMode = "bedrock"
)

// ParseMode normalizes a mode string, defaulting to responses.
func ParseMode(s string) UpstreamMode {
	switch s {
	case "chat":
		return ModeChat
	case "bedrock":
		return ModeBedrock
	default:
		return ModeResponses
	}
}

// PrivacyMode controls how much conversation content the route request
// carries to a remote policy router.
type PrivacyMode string

const (
	PrivacyFeatures PrivacyMode = "features"
	PrivacySummary  PrivacyMode = "summary"
	PrivacyFull     PrivacyMode = "full"
)

// ParsePrivacyMode normalizes a privacy mode string, defaulting to features.
func ParsePrivacyMode(s string) PrivacyMode {
	switch s {
	case "summary":
		return PrivacySummary
	case "full":
		return PrivacyFull
	default:
		return PrivacyFeatures
	}
}

// ContentUsed returns the attestation value for the mode.
func (m PrivacyMode) ContentUsed() string {
	switch m {
	case PrivacySummary:
		return "summary"
	case PrivacyFull:
		return "full"
	default:
		return "none"
	}
}

// Routing failures. A composite router folds these into fallthrough or a
// terminal error depending on strict mode.
var (
	ErrNoRoute     = errors.New("no route for alias")
	ErrUnavailable = errors.New("router unavailable")
	ErrRouter      = errors.New("router error")
)

// Estimates carries rough token accounting for the policy decision.
type Estimates struct {
	PromptTokens    int  `json:"prompt_tokens,omitempty"`
	MaxOutputTokens *int `json:"max_output_tokens,omitempty"`
}

// ConversationSignals describes the conversation at the privacy level the
// operator allowed. Fingerprints are always present; summary and full content
// only under their respective modes.
type ConversationSignals struct {
	Turns              int    `json:"turns,omitempty"`
	SystemFingerprint  string `json:"system_fingerprint,omitempty"`
	HistoryFingerprint string `json:"history_fingerprint,omitempty"`
	Summary            string `json:"summary,omitempty"`
	SystemPrompt       string `json:"system_prompt,omitempty"`
	RecentMessages     []any  `json:"recent_messages,omitempty"`
}

// ToolSignal names a requested tool without carrying its schema.
type ToolSignal struct {
	Name           string `json:"name"`
	JSONSchemaHash string `json:"json_schema_hash,omitempty"`
}

// RouteRequest is the schema-versioned routing question.
type RouteRequest struct {
	SchemaVersion string              `json:"schema_version"`
	RequestID     string              `json:"request_id"`
	Alias         string              `json:"alias"`
	API           string              `json:"api"`
	PrivacyMode   PrivacyMode         `json:"privacy_mode"`
	ContentUsed   string              `json:"content_attestation"`
	Caps          []string            `json:"caps"`
	Stream        bool                `json:"stream"`
	Params        map[string]any      `json:"params,omitempty"`
	PlanToken     string              `json:"plan_token,omitempty"`
	Estimates     Estimates           `json:"estimates"`
	Conversation  ConversationSignals `json:"conversation"`
	Tools         []ToolSignal        `json:"tools,omitempty"`
}

// Upstream is the target tuple of a plan.
type Upstream struct {
	BaseURL string            `json:"base_url"`
	Mode    UpstreamMode      `json:"mode"`
	ModelID string            `json:"model_id"`
	AuthEnv string            `json:"auth_env,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// CacheControl bounds how long a plan may be reused.
type CacheControl struct {
	TTLMs      int64      `json:"ttl_ms"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	FreezeKey  string     `json:"freeze_key,omitempty"`
}

// Stickiness carries the opaque token that pins a conversation upstream.
type Stickiness struct {
	PlanToken string `json:"plan_token,omitempty"`
}

// RoutePlan is the structured routing answer.
type RoutePlan struct {
	SchemaVersion string        `json:"schema_version,omitempty"`
	RouteID       string        `json:"route_id"`
	Upstream      Upstream      `json:"upstream"`
	Cache         *CacheControl `json:"cache,omitempty"`
	Stickiness    *Stickiness   `json:"stickiness,omitempty"`
	PolicyRev     string        `json:"policy_rev,omitempty"`
	ContentUsed   string        `json:"content_used,omitempty"`

	// Backend names the router that produced the plan ("remote", "alias",
	// "rules", "default"); CacheState is "hit" or "miss" when the plan went
	// through the plan cache. Neither travels on the wire.
	Backend    string `json:"-"`
	CacheState string `json:"-"`
}

// Router is the shared resolution interface.
type Router interface {
	// Name identifies the implementation in plans and analytics.
	Name() string
	// Plan resolves the request or returns one of the routing errors.
	Plan(ctx context.Context, req *RouteRequest) (*RoutePlan, error)
}
