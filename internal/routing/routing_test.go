package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func featureRequest(alias, api string) *RouteRequest {
	return &RouteRequest{
		SchemaVersion: "1.1",
		RequestID:     "req_test",
		Alias:         alias,
		API:           api,
		PrivacyMode:   PrivacyFeatures,
		ContentUsed:   "none",
		Caps:          []string{"text"},
	}
}

func TestParseRules(t *testing.T) {
	rules := ParseRules("prefix=gpt-,base=https://u.example/v1,key_env=OPENAI_API_KEY,mode=chat; prefix=llama,base_url=http://local:8000/v1")
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Prefix != "gpt-" || rules[0].BaseURL != "https://u.example/v1" || rules[0].AuthEnv != "OPENAI_API_KEY" || rules[0].Mode != ModeChat {
		t.Fatalf("rule 0: %+v", rules[0])
	}
	if rules[1].Mode != ModeResponses {
		t.Fatalf("rule 1 default mode: %+v", rules[1])
	}

	if got := ParseRules("prefix=broken"); got != nil {
		t.Fatalf("rule without base should be dropped: %+v", got)
	}
}

func TestRuleRouterFirstMatchWins(t *testing.T) {
	router := NewRuleRouter([]Rule{
		{Prefix: "gpt-4", BaseURL: "https://first.example/v1", Mode: ModeChat},
		{Prefix: "gpt-", BaseURL: "https://second.example/v1", Mode: ModeChat},
	})
	plan, err := router.Plan(context.Background(), featureRequest("gpt-4o", "chat"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Upstream.BaseURL != "https://first.example/v1" {
		t.Fatalf("wrong rule matched: %s", plan.Upstream.BaseURL)
	}
	if plan.Upstream.ModelID != "gpt-4o" {
		t.Fatalf("alias should pass through: %s", plan.Upstream.ModelID)
	}

	if _, err := router.Plan(context.Background(), featureRequest("claude-3", "chat")); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected no route, got %v", err)
	}
}

func TestAliasRouterResolvesAndRejects(t *testing.T) {
	router := NewAliasRouterFromMap(map[string]AliasTarget{
		"alias-A": {BaseURL: "https://up.example/v1", ModelID: "model-X", Mode: "responses"},
	})
	plan, err := router.Plan(context.Background(), featureRequest("alias-A", "chat"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Upstream.ModelID != "model-X" || plan.Upstream.Mode != ModeResponses {
		t.Fatalf("plan upstream: %+v", plan.Upstream)
	}
	if _, err := router.Plan(context.Background(), featureRequest("alias-ghost", "chat")); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected unknown alias error, got %v", err)
	}
}

func TestRemoteRouterRoundTrip(t *testing.T) {
	var captured RouteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/route/plan" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(RoutePlan{
			SchemaVersion: "1.1",
			RouteID:       "rte_http",
			Upstream: Upstream{
				BaseURL: "https://up.example/v1",
				Mode:    ModeResponses,
				ModelID: "gpt-4o-mini",
				AuthEnv: "OPENAI_API_KEY",
			},
			Cache:     &CacheControl{TTLMs: 10000},
			PolicyRev: "rev1",
		})
	}))
	defer srv.Close()

	router := NewRemoteRouter(RemoteConfig{URL: srv.URL, Timeout: 200 * time.Millisecond})
	plan, err := router.Plan(context.Background(), featureRequest("nano-basic", "responses"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.RouteID != "rte_http" || plan.Upstream.ModelID != "gpt-4o-mini" {
		t.Fatalf("plan: %+v", plan)
	}
	if plan.Backend != "remote" {
		t.Fatalf("backend: %s", plan.Backend)
	}
	if captured.Alias != "nano-basic" || captured.SchemaVersion != "1.1" {
		t.Fatalf("captured request: %+v", captured)
	}
}

func TestRemoteRouterErrorTaxonomy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"alias not found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	router := NewRemoteRouter(RemoteConfig{URL: srv.URL, Timeout: 200 * time.Millisecond})
	if _, err := router.Plan(context.Background(), featureRequest("ghost", "chat")); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("404 should map to no-route, got %v", err)
	}

	down := NewRemoteRouter(RemoteConfig{URL: "http://127.0.0.1:1", Timeout: 50 * time.Millisecond})
	if _, err := down.Plan(context.Background(), featureRequest("x", "chat")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("connect failure should map to unavailable, got %v", err)
	}
}

func TestPlanCacheHonorsTTLAndValidUntil(t *testing.T) {
	cache := NewPlanCache(time.Minute)

	key := CacheKey("alias", "chat", "")
	cache.Put(key, &RoutePlan{
		RouteID:  "rte_1",
		Upstream: Upstream{BaseURL: "https://x/v1", ModelID: "m"},
		Cache:    &CacheControl{TTLMs: 60000},
	})
	if got := cache.Get(key); got == nil || got.RouteID != "rte_1" {
		t.Fatalf("expected cache hit, got %+v", got)
	}

	// valid_until in the past beats a generous TTL.
	past := time.Now().Add(-time.Second)
	key2 := CacheKey("alias2", "chat", "")
	cache.Put(key2, &RoutePlan{
		RouteID:  "rte_2",
		Upstream: Upstream{BaseURL: "https://x/v1", ModelID: "m"},
		Cache:    &CacheControl{TTLMs: 60000, ValidUntil: &past},
	})
	if got := cache.Get(key2); got != nil {
		t.Fatalf("expired plan served: %+v", got)
	}

	// Plans without cache control are never stored.
	key3 := CacheKey("alias3", "chat", "")
	cache.Put(key3, &RoutePlan{RouteID: "rte_3", Upstream: Upstream{BaseURL: "https://x/v1"}})
	if got := cache.Get(key3); got != nil {
		t.Fatalf("uncacheable plan stored: %+v", got)
	}
}

func TestPlanCacheCeilingBoundsTTL(t *testing.T) {
	cache := NewPlanCache(10 * time.Millisecond)
	key := CacheKey("alias", "chat", "")
	cache.Put(key, &RoutePlan{
		RouteID:  "rte_1",
		Upstream: Upstream{BaseURL: "https://x/v1"},
		Cache:    &CacheControl{TTLMs: 3600000},
	})
	time.Sleep(25 * time.Millisecond)
	if got := cache.Get(key); got != nil {
		t.Fatalf("ceiling not applied: %+v", got)
	}
}

func TestStickinessReplayAndEviction(t *testing.T) {
	cache, err := NewStickinessCache(2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cache.Remember("conv-1", "plan_a")
	cache.Remember("conv-2", "plan_b")
	if tok, ok := cache.Token("conv-1"); !ok || tok != "plan_a" {
		t.Fatalf("token: %q %v", tok, ok)
	}
	cache.Remember("conv-3", "plan_c") // evicts the least recently used
	if cache.Len() != 2 {
		t.Fatalf("len: %d", cache.Len())
	}
	if _, ok := cache.Token("conv-2"); ok {
		t.Fatal("conv-2 should have been evicted")
	}
}

type erroringRouter struct{ err error }

func (e *erroringRouter) Name() string { return "remote" }
func (e *erroringRouter) Plan(context.Context, *RouteRequest) (*RoutePlan, error) {
	return nil, e.err
}

func TestCompositeFallsThroughToRules(t *testing.T) {
	rules := NewRuleRouter([]Rule{{Prefix: "gpt-", BaseURL: "https://u.example/v1", Mode: ModeChat}})
	composite := NewComposite(nil, &erroringRouter{err: ErrUnavailable}, rules)

	plan, err := composite.Plan(context.Background(), featureRequest("gpt-xyz", "chat"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Backend != "rules" {
		t.Fatalf("backend: %s", plan.Backend)
	}
	if plan.CacheState != "" {
		t.Fatalf("fallback plan should not carry a cache state, got %q", plan.CacheState)
	}
}

func TestCompositeStrictModeStopsAtRemote(t *testing.T) {
	rules := NewRuleRouter([]Rule{{Prefix: "gpt-", BaseURL: "https://u.example/v1", Mode: ModeChat}})
	composite := NewComposite(nil, &erroringRouter{err: ErrNoRoute}, rules)
	composite.Strict = true

	if _, err := composite.Plan(context.Background(), featureRequest("gpt-xyz", "chat")); err == nil {
		t.Fatal("strict mode must not fall through")
	}
}

func TestCompositeDefaultPlan(t *testing.T) {
	composite := NewComposite(nil)
	composite.Default = &Upstream{BaseURL: "https://default.example/v1", Mode: ModeResponses}

	plan, err := composite.Plan(context.Background(), featureRequest("anything", "chat"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Backend != "default" || plan.Upstream.ModelID != "anything" {
		t.Fatalf("default plan: %+v", plan)
	}
}

func TestCompositeServesFromCache(t *testing.T) {
	cache := NewPlanCache(time.Minute)
	alias := NewAliasRouterFromMap(map[string]AliasTarget{
		"alias-A": {BaseURL: "https://up.example/v1", ModelID: "model-X"},
	})
	// Wrap the alias plan with cache control so the composite stores it.
	cachingAlias := routerWithCache{alias}
	composite := NewComposite(cache, cachingAlias)

	req := featureRequest("alias-A", "chat")
	first, err := composite.Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("first plan: %v", err)
	}
	if first.CacheState != "miss" {
		t.Fatalf("first cache state: %q", first.CacheState)
	}
	second, err := composite.Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("second plan: %v", err)
	}
	if second.CacheState != "hit" {
		t.Fatalf("second cache state: %q", second.CacheState)
	}
	if second.RouteID != first.RouteID {
		t.Fatalf("cached plan differs: %s != %s", second.RouteID, first.RouteID)
	}
}

type countingStickyRouter struct {
	calls     int
	freezeKey string
}

func (r *countingStickyRouter) Name() string { return "remote" }

func (r *countingStickyRouter) Plan(_ context.Context, req *RouteRequest) (*RoutePlan, error) {
	r.calls++
	return &RoutePlan{
		RouteID:     fmt.Sprintf("rte_sticky_%d", r.calls),
		Upstream:    Upstream{BaseURL: "https://up.example/v1", Mode: ModeResponses, ModelID: "model-X"},
		Cache:       &CacheControl{TTLMs: 30000, FreezeKey: r.freezeKey},
		Stickiness:  &Stickiness{PlanToken: "plan_sticky"},
		ContentUsed: req.ContentUsed,
	}, nil
}

func TestCacheServesStickyRepeatTurns(t *testing.T) {
	// A replayed stickiness token must not defeat the plan cache: the cache
	// is keyed on (alias, api, freeze_key), never on the plan token.
	for _, freezeKey := range []string{"", "fk-1"} {
		router := &countingStickyRouter{freezeKey: freezeKey}
		composite := NewComposite(NewPlanCache(time.Minute), router)
		sticky, err := NewStickinessCache(10)
		if err != nil {
			t.Fatalf("stickiness cache: %v", err)
		}

		// Turn one: resolve, then remember the issued token as the pipeline does.
		first, err := composite.Plan(context.Background(), featureRequest("alias-A", "chat"))
		if err != nil {
			t.Fatalf("freeze_key=%q first plan: %v", freezeKey, err)
		}
		if first.CacheState != "miss" {
			t.Fatalf("freeze_key=%q first cache state: %q", freezeKey, first.CacheState)
		}
		sticky.Remember("conv-1", first.Stickiness.PlanToken)

		// Turn two: same alias/api with the token replayed.
		second := featureRequest("alias-A", "chat")
		if tok, ok := sticky.Token("conv-1"); ok {
			second.PlanToken = tok
		} else {
			t.Fatal("stickiness token not replayed")
		}
		got, err := composite.Plan(context.Background(), second)
		if err != nil {
			t.Fatalf("freeze_key=%q second plan: %v", freezeKey, err)
		}
		if got.CacheState != "hit" {
			t.Fatalf("freeze_key=%q sticky repeat turn missed the cache: %q", freezeKey, got.CacheState)
		}
		if got.RouteID != first.RouteID {
			t.Fatalf("freeze_key=%q cached plan differs: %s != %s", freezeKey, got.RouteID, first.RouteID)
		}
		if router.calls != 1 {
			t.Fatalf("freeze_key=%q router invoked %d times for a cached turn", freezeKey, router.calls)
		}
	}
}

type routerWithCache struct{ inner Router }

func (r routerWithCache) Name() string { return r.inner.Name() }
func (r routerWithCache) Plan(ctx context.Context, req *RouteRequest) (*RoutePlan, error) {
	plan, err := r.inner.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	plan.Cache = &CacheControl{TTLMs: 30000}
	return plan, nil
}

func TestExtractRouteRequestDetectsCapsAndSignals(t *testing.T) {
	payload := map[string]any{
		"messages": []any{
			map[string]any{"role": "system", "content": "Be helpful"},
			map[string]any{"role": "user", "content": []any{
				map[string]any{"type": "text", "text": "Describe the photo"},
				map[string]any{"type": "image_url", "image_url": map[string]any{"url": "https://x/cat.png"}},
			}},
		},
		"tools": []any{
			map[string]any{"function": map[string]any{"name": "lookup", "parameters": map[string]any{"type": "object"}}},
		},
		"stream":      true,
		"temperature": 0.3,
		"max_tokens":  float64(256),
	}

	req := ExtractRouteRequest("alias-model", "responses", payload, PrivacyFeatures)

	hasCap := func(c string) bool {
		for _, got := range req.Caps {
			if got == c {
				return true
			}
		}
		return false
	}
	if !hasCap("text") || !hasCap("vision") || !hasCap("tools") {
		t.Fatalf("caps: %v", req.Caps)
	}
	if !req.Stream {
		t.Fatal("stream flag lost")
	}
	if req.Estimates.MaxOutputTokens == nil || *req.Estimates.MaxOutputTokens != 256 {
		t.Fatalf("max output estimate: %v", req.Estimates.MaxOutputTokens)
	}
	if req.Estimates.PromptTokens <= 0 {
		t.Fatalf("prompt estimate: %d", req.Estimates.PromptTokens)
	}
	if req.Conversation.SystemFingerprint == "" || req.Conversation.HistoryFingerprint == "" {
		t.Fatalf("fingerprints missing: %+v", req.Conversation)
	}
	if req.Conversation.Summary != "" || req.Conversation.SystemPrompt != "" {
		t.Fatalf("features mode leaked content: %+v", req.Conversation)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "lookup" || req.Tools[0].JSONSchemaHash == "" {
		t.Fatalf("tool signals: %+v", req.Tools)
	}
	if req.ContentUsed != "none" {
		t.Fatalf("attestation: %s", req.ContentUsed)
	}
}

func TestExtractRouteRequestPrivacyModes(t *testing.T) {
	payload := map[string]any{
		"messages": []any{
			map[string]any{"role": "system", "content": "You are a helpful assistant"},
			map[string]any{"role": "user", "content": "Hello, world!"},
		},
	}

	summary := ExtractRouteRequest("a", "chat", payload, PrivacySummary)
	if summary.Conversation.Summary != "Hello, world!" {
		t.Fatalf("summary: %q", summary.Conversation.Summary)
	}
	if summary.Conversation.SystemPrompt != "" {
		t.Fatal("summary mode leaked system prompt")
	}

	full := ExtractRouteRequest("a", "chat", payload, PrivacyFull)
	if full.Conversation.SystemPrompt != "You are a helpful assistant" {
		t.Fatalf("full mode system prompt: %q", full.Conversation.SystemPrompt)
	}
	if len(full.Conversation.RecentMessages) != 2 {
		t.Fatalf("recent messages: %d", len(full.Conversation.RecentMessages))
	}
}
