package analytics

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Manager coordinates the backend, pricing lookups, and aggregate queries.
// Recording is fire-and-forget from the caller's perspective; failures are
// logged and never surface to the user response.
type Manager struct {
	store   Store
	pricing *PricingTable
	ttl     time.Duration
	logger  *log.Logger
}

// NewManager wires a manager over the given store. pricing may be nil (costs
// are then omitted); ttl > 0 enables retention on backends that support it.
func NewManager(store Store, pricing *PricingTable, ttl time.Duration, logger *log.Logger) *Manager {
	return &Manager{store: store, pricing: pricing, ttl: ttl, logger: logger}
}

// NewEventID returns a fresh event identifier.
func NewEventID() string {
	return uuid.New().String()
}

// Record finalizes and appends the event: fills id/timestamp when unset,
// computes cost from the usage block, derives tokens/second when completion
// tokens and a duration are present.
func (m *Manager) Record(ctx context.Context, ev *Event) {
	if m == nil || m.store == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = NewEventID()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	if ev.Cost == nil && ev.Tokens != nil {
		// Pricing keys on the resolved upstream model id; the client-facing
		// alias is the fallback for events that never routed.
		model := ev.Routing.ResolvedModel
		if model == "" {
			model = ev.Request.Model
		}
		ev.Cost = m.pricing.Cost(model, ev.Tokens)
	}
	if ev.Perf.TokensPerSecond == nil && ev.Tokens != nil && ev.Perf.DurationMs > 0 && ev.Tokens.Completion > 0 {
		tps := float64(ev.Tokens.Completion) / (float64(ev.Perf.DurationMs) / 1000)
		ev.Perf.TokensPerSecond = &tps
	}
	if err := m.store.Append(ctx, ev); err != nil && m.logger != nil {
		m.logger.Printf("analytics append failed: %v", err)
	}
	m.expire(ctx)
}

type expirer interface {
	Expire(ctx context.Context, cutoff int64) (int, error)
}

func (m *Manager) expire(ctx context.Context) {
	if m.ttl <= 0 {
		return
	}
	if e, ok := m.store.(expirer); ok {
		cutoff := time.Now().Add(-m.ttl).Unix()
		if _, err := e.Expire(ctx, cutoff); err != nil && m.logger != nil {
			m.logger.Printf("analytics expire failed: %v", err)
		}
	}
}

// Query returns events in [start, end], capped at limit when limit > 0.
func (m *Manager) Query(ctx context.Context, start, end int64, limit int) ([]*Event, error) {
	return m.store.Query(ctx, start, end, limit)
}

// Clear wipes the backend.
func (m *Manager) Clear(ctx context.Context) error {
	return m.store.Clear(ctx)
}

// Stats reports backend statistics.
func (m *Manager) Stats(ctx context.Context) (StoreStats, error) {
	return m.store.Stats(ctx)
}

// Aggregate summarizes events in [start, end].
type Aggregate struct {
	Count            int            `json:"count"`
	SuccessCount     int            `json:"success_count"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	CachedTokens     int            `json:"cached_tokens"`
	ReasoningTokens  int            `json:"reasoning_tokens"`
	TotalCost        float64        `json:"total_cost"`
	AvgDurationMs    float64        `json:"avg_duration_ms"`
	ByModel          map[string]int `json:"by_model"`
	ByEndpoint       map[string]int `json:"by_endpoint"`
}

// Aggregate computes the summary for the window.
func (m *Manager) Aggregate(ctx context.Context, start, end int64) (*Aggregate, error) {
	events, err := m.store.Query(ctx, start, end, 0)
	if err != nil {
		return nil, err
	}
	agg := &Aggregate{ByModel: map[string]int{}, ByEndpoint: map[string]int{}}
	var totalDuration int64
	for _, ev := range events {
		agg.Count++
		if ev.Response.Success {
			agg.SuccessCount++
		}
		if ev.Tokens != nil {
			agg.PromptTokens += ev.Tokens.Prompt
			agg.CompletionTokens += ev.Tokens.Completion
			if ev.Tokens.Cached != nil {
				agg.CachedTokens += *ev.Tokens.Cached
			}
			if ev.Tokens.Reasoning != nil {
				agg.ReasoningTokens += *ev.Tokens.Reasoning
			}
		}
		if ev.Cost != nil {
			agg.TotalCost += ev.Cost.Total
		}
		totalDuration += ev.Perf.DurationMs
		if ev.Request.Model != "" {
			agg.ByModel[ev.Request.Model]++
		}
		if ev.Request.Endpoint != "" {
			agg.ByEndpoint[ev.Request.Endpoint]++
		}
	}
	agg.TotalCost = round6(agg.TotalCost)
	if agg.Count > 0 {
		agg.AvgDurationMs = float64(totalDuration) / float64(agg.Count)
	}
	return agg, nil
}

// csvHeader is the fixed export column order.
var csvHeader = []string{
	"id", "timestamp", "endpoint", "method", "model", "stream", "status_code",
	"success", "duration_ms", "ttfb_ms", "tokens_per_second", "input_tokens",
	"output_tokens", "cached_tokens", "reasoning_tokens", "input_cost",
	"output_cost", "cached_cost", "total_cost", "backend", "upstream_mode",
	"api_key_id", "api_key_label",
}

// ExportCSV writes the window's events as CSV with the fixed column order.
func (m *Manager) ExportCSV(ctx context.Context, w io.Writer, start, end int64) error {
	events, err := m.store.Query(ctx, start, end, 0)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, ev := range events {
		row := []string{
			ev.ID,
			strconv.FormatInt(ev.Timestamp, 10),
			ev.Request.Endpoint,
			ev.Request.Method,
			ev.Request.Model,
			strconv.FormatBool(ev.Request.Stream),
			strconv.Itoa(ev.Response.StatusCode),
			strconv.FormatBool(ev.Response.Success),
			strconv.FormatInt(ev.Perf.DurationMs, 10),
			optInt64(ev.Perf.TTFBMs),
			optFloat(ev.Perf.TokensPerSecond),
			tokenField(ev.Tokens, func(t *TokenInfo) string { return strconv.Itoa(t.Prompt) }),
			tokenField(ev.Tokens, func(t *TokenInfo) string { return strconv.Itoa(t.Completion) }),
			tokenField(ev.Tokens, func(t *TokenInfo) string { return optInt(t.Cached) }),
			tokenField(ev.Tokens, func(t *TokenInfo) string { return optInt(t.Reasoning) }),
			costField(ev.Cost, func(c *CostInfo) string { return formatCost(c.Input) }),
			costField(ev.Cost, func(c *CostInfo) string { return formatCost(c.Output) }),
			costField(ev.Cost, func(c *CostInfo) string { return optFloat(c.Cached) }),
			costField(ev.Cost, func(c *CostInfo) string { return formatCost(c.Total) }),
			ev.Routing.Backend,
			ev.Routing.UpstreamMode,
			ev.Auth.APIKeyID,
			ev.Auth.Label,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func tokenField(t *TokenInfo, f func(*TokenInfo) string) string {
	if t == nil {
		return ""
	}
	return f(t)
}

func costField(c *CostInfo, f func(*CostInfo) string) string {
	if c == nil {
		return ""
	}
	return f(c)
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optInt64(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.6f", *v)
}

func formatCost(v float64) string {
	return fmt.Sprintf("%.6f", v)
}
