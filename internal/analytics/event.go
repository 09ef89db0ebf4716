// Package analytics records one cost-annotated event per gateway request and
// serves the read-only query surface over pluggable append-only backends.
package analytics

import (
	"context"
)

// RequestInfo describes the inbound request; bodies are never stored.
type RequestInfo struct {
	Endpoint  string `json:"endpoint"`
	Method    string `json:"method"`
	Model     string `json:"model,omitempty"`
	Stream    bool   `json:"stream"`
	Size      int64  `json:"size"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ResponseInfo describes the outcome surfaced to the client.
type ResponseInfo struct {
	StatusCode int    `json:"status_code"`
	Size       int64  `json:"size"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// PerfInfo holds request timing.
type PerfInfo struct {
	DurationMs      int64    `json:"duration_ms"`
	TTFBMs          *int64   `json:"ttfb_ms,omitempty"`
	UpstreamMs      *int64   `json:"upstream_ms,omitempty"`
	TokensPerSecond *float64 `json:"tokens_per_second,omitempty"`
}

// TokenInfo mirrors the upstream usage block.
type TokenInfo struct {
	Prompt     int  `json:"prompt_tokens"`
	Completion int  `json:"completion_tokens"`
	Cached     *int `json:"cached_tokens,omitempty"`
	Reasoning  *int `json:"reasoning_tokens,omitempty"`
}

// CostInfo is computed from TokenInfo and the pricing table. Total always
// equals the sum of the present components, each rounded to six decimals.
type CostInfo struct {
	Input     float64  `json:"input_cost"`
	Output    float64  `json:"output_cost"`
	Cached    *float64 `json:"cached_cost,omitempty"`
	Reasoning *float64 `json:"reasoning_cost,omitempty"`
	Total     float64  `json:"total_cost"`
	Currency  string   `json:"currency"`
}

// AuthInfo identifies how the caller authenticated.
type AuthInfo struct {
	APIKeyID string `json:"api_key_id,omitempty"`
	Label    string `json:"api_key_label,omitempty"`
	Method   string `json:"method"` // "managed", "passthrough", or "none"
}

// RoutingInfo records the routing decision behind the request.
type RoutingInfo struct {
	Backend             string `json:"backend,omitempty"`
	UpstreamMode        string `json:"upstream_mode,omitempty"`
	ResolvedModel       string `json:"resolved_model,omitempty"`
	MCPUsed             bool   `json:"mcp_used"`
	SystemPromptApplied bool   `json:"system_prompt_applied"`
}

// Event is one request's analytics record. Timestamp is unix seconds.
type Event struct {
	ID        string       `json:"id"`
	Timestamp int64        `json:"timestamp"`
	Request   RequestInfo  `json:"request"`
	Response  ResponseInfo `json:"response"`
	Perf      PerfInfo     `json:"perf"`
	Tokens    *TokenInfo   `json:"tokens,omitempty"`
	Cost      *CostInfo    `json:"cost,omitempty"`
	Auth      AuthInfo     `json:"auth"`
	Routing   RoutingInfo  `json:"routing"`
}

// StoreStats summarizes a backend.
type StoreStats struct {
	Backend     string `json:"backend"`
	TotalEvents int    `json:"total_events"`
	Path        string `json:"path,omitempty"`
}

// Store is the append-only backend contract. Queries need not be
// transactionally consistent with concurrent appends.
type Store interface {
	Append(ctx context.Context, ev *Event) error
	// Query returns events with start <= timestamp <= end, oldest first,
	// capped at limit when limit > 0.
	Query(ctx context.Context, start, end int64, limit int) ([]*Event, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (StoreStats, error)
	Close() error
}
