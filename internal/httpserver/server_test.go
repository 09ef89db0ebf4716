package httpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labiium/routiium/internal/analytics"
	"github.com/labiium/routiium/internal/auth"
	"github.com/labiium/routiium/internal/routing"
)

type testEnv struct {
	server    *Server
	handler   http.Handler
	keys      *auth.Manager
	events    *analytics.MemoryStore
	upstream  *httptest.Server
	composite *routing.Composite
}

// newTestEnv builds a managed-mode server with a stub Responses upstream and
// the alias map alias-A → model-X.
func newTestEnv(t *testing.T, upstream http.HandlerFunc) *testEnv {
	t.Helper()

	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	keys := auth.NewManager(auth.NewMemoryStore(), auth.Options{})
	events := analytics.NewMemoryStore(100)
	pricing := analytics.NewPricingTable(map[string]analytics.ModelPrice{
		"model-": {InputPerMillion: 1, OutputPerMillion: 2, Currency: "USD"},
	})

	alias := routing.NewAliasRouterFromMap(map[string]routing.AliasTarget{
		"alias-A": {BaseURL: up.URL, ModelID: "model-X", Mode: "responses"},
	})
	composite := routing.NewComposite(routing.NewPlanCache(time.Minute), alias)

	srv := New(Options{
		Keys:           keys,
		Router:         composite,
		AliasRouter:    alias,
		PrivacyMode:    routing.PrivacyFeatures,
		Analytics:      analytics.NewManager(events, pricing, 0, nil),
		UpstreamAPIKey: "upstream-secret",
	})

	return &testEnv{
		server:    srv,
		handler:   srv.Routes(),
		keys:      keys,
		events:    events,
		upstream:  up,
		composite: composite,
	}
}

func (env *testEnv) newBearer(t *testing.T) string {
	t.Helper()
	gen, err := env.keys.Generate(context.Background(), nil, time.Hour, nil, nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return gen.Token
}

// waitForEvents polls the analytics store until n events exist; recording is
// fire-and-forget so the test must not race it.
func (env *testEnv) waitForEvents(t *testing.T, n int) []*analytics.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events, err := env.events.Query(context.Background(), 0, time.Now().Unix()+10, 0)
		if err != nil {
			t.Fatalf("query events: %v", err)
		}
		if len(events) >= n {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d analytics events", n)
	return nil
}

func postJSON(handler http.Handler, path, bearer string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func responsesUpstream(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("unexpected upstream path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer upstream-secret" {
			t.Errorf("upstream credential not substituted: %q", got)
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["model"] != "model-X" {
			t.Errorf("model not rewritten: %v", payload["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "resp-123",
			"object": "response",
			"created": 1700000000,
			"model": "model-X",
			"output_text": "pong",
			"output": [{"type": "message", "id": "msg-1", "content": "pong"}],
			"usage": {"input_tokens": 7, "output_tokens": 3, "total_tokens": 10}
		}`)
	}
}

func TestManagedVerifyTranslateProxy(t *testing.T) {
	env := newTestEnv(t, responsesUpstream(t))
	bearer := env.newBearer(t)

	rec := postJSON(env.handler, "/v1/chat/completions", bearer, map[string]any{
		"model":    "alias-A",
		"messages": []map[string]any{{"role": "user", "content": "ping"}},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("x-resolved-model"); got != "model-X" {
		t.Fatalf("x-resolved-model: %q", got)
	}
	if rec.Header().Get("x-route-id") == "" {
		t.Fatal("x-route-id missing")
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp["object"] != "chat.completion" {
		t.Fatalf("response not chat-shaped: %v", resp["object"])
	}
	choices := resp["choices"].([]any)
	message := choices[0].(map[string]any)["message"].(map[string]any)
	if message["content"] != "pong" {
		t.Fatalf("content: %v", message["content"])
	}

	events := env.waitForEvents(t, 1)
	ev := events[0]
	if ev.Request.Model != "alias-A" {
		t.Fatalf("event model: %s", ev.Request.Model)
	}
	if ev.Routing.Backend == "" {
		t.Fatal("event routing backend unset")
	}
	if !ev.Response.Success || ev.Response.StatusCode != 200 {
		t.Fatalf("event response: %+v", ev.Response)
	}
	if ev.Tokens == nil || ev.Tokens.Prompt != 7 || ev.Tokens.Completion != 3 {
		t.Fatalf("event tokens: %+v", ev.Tokens)
	}
	if ev.Cost == nil || ev.Cost.Total == 0 {
		t.Fatalf("event cost: %+v", ev.Cost)
	}
	if ev.Auth.Method != "managed" || ev.Auth.APIKeyID == "" {
		t.Fatalf("event auth: %+v", ev.Auth)
	}
}

func TestStreamingRelay(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, word := range []string{"one", "two", "three"} {
			fmt.Fprintf(w, `data: {"id":"r","object":"response.chunk","created":1,"model":"model-X","output_text_delta":"%s"}`+"\n\n", word)
			flusher.Flush()
		}
		fmt.Fprint(w, `data: {"id":"r","object":"response.chunk","created":1,"model":"model-X","usage":{"input_tokens":5,"output_tokens":3,"total_tokens":8}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	})
	bearer := env.newBearer(t)

	rec := postJSON(env.handler, "/v1/chat/completions", bearer, map[string]any{
		"model":    "alias-A",
		"stream":   true,
		"messages": []map[string]any{{"role": "user", "content": "ping"}},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type: %q", ct)
	}

	var dataLines []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}
	if len(dataLines) != 5 {
		t.Fatalf("expected 5 data lines, got %d: %v", len(dataLines), dataLines)
	}
	if dataLines[len(dataLines)-1] != "[DONE]" {
		t.Fatalf("missing DONE sentinel: %v", dataLines)
	}
	for i, word := range []string{"one", "two", "three"} {
		var chunk map[string]any
		if err := json.Unmarshal([]byte(dataLines[i]), &chunk); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if chunk["object"] != "chat.completion.chunk" {
			t.Fatalf("chunk %d not translated: %v", i, chunk["object"])
		}
		delta := chunk["choices"].([]any)[0].(map[string]any)["delta"].(map[string]any)
		if delta["content"] != word {
			t.Fatalf("chunk %d out of order: %v", i, delta["content"])
		}
	}

	events := env.waitForEvents(t, 1)
	ev := events[0]
	if ev.Perf.TTFBMs == nil {
		t.Fatal("ttfb not populated for stream")
	}
	if ev.Tokens == nil || ev.Tokens.Prompt != 5 {
		t.Fatalf("stream usage not captured: %+v", ev.Tokens)
	}
}

func TestRouterStrictModeRejection(t *testing.T) {
	remoteStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(remoteStub.Close)

	env := newTestEnv(t, responsesUpstream(t))
	remote := routing.NewRemoteRouter(routing.RemoteConfig{URL: remoteStub.URL, Timeout: 200 * time.Millisecond})
	strict := routing.NewComposite(nil, remote)
	strict.Strict = true
	env.server.router = strict

	bearer := env.newBearer(t)
	rec := postJSON(env.handler, "/v1/chat/completions", bearer, map[string]any{
		"model":    "alias-ghost",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"]["message"] == "" {
		t.Fatalf("error body: %s", rec.Body.String())
	}

	events := env.waitForEvents(t, 1)
	if events[0].Response.Success {
		t.Fatal("failure event marked successful")
	}
}

func TestRouterFallthroughToPrefixRules(t *testing.T) {
	remoteStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(remoteStub.Close)

	var upstreamHit bool
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		upstreamHit = true
		if r.URL.Path != "/chat/completions" {
			t.Errorf("prefix rule should route to chat: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","object":"chat.completion","created":1,"model":"gpt-xyz","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop","logprobs":null}]}`)
	})

	remote := routing.NewRemoteRouter(routing.RemoteConfig{URL: remoteStub.URL, Timeout: 200 * time.Millisecond})
	rules := routing.NewRuleRouter(routing.ParseRules("prefix=gpt-,base=" + env.upstream.URL + ",mode=chat"))
	composite := routing.NewComposite(nil, remote, rules)
	env.server.router = composite

	bearer := env.newBearer(t)
	rec := postJSON(env.handler, "/v1/chat/completions", bearer, map[string]any{
		"model":    "gpt-xyz",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if !upstreamHit {
		t.Fatal("fallback upstream never called")
	}
	if got := rec.Header().Get("x-route-cache"); got != "" {
		t.Fatalf("x-route-cache should be absent for uncached fallback, got %q", got)
	}

	events := env.waitForEvents(t, 1)
	if events[0].Routing.Backend != "rules" {
		t.Fatalf("event backend: %s", events[0].Routing.Backend)
	}
}

func TestRevokeInvalidatesKeyViaEndpoints(t *testing.T) {
	env := newTestEnv(t, responsesUpstream(t))

	genRec := postJSON(env.handler, "/keys/generate", "", map[string]any{"ttl_seconds": 3600})
	if genRec.Code != http.StatusOK {
		t.Fatalf("generate: %d %s", genRec.Code, genRec.Body.String())
	}
	var gen struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(genRec.Body.Bytes(), &gen); err != nil {
		t.Fatalf("parse generate: %v", err)
	}

	okRec := postJSON(env.handler, "/v1/chat/completions", gen.Token, map[string]any{
		"model":    "alias-A",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	if okRec.Code != http.StatusOK {
		t.Fatalf("pre-revoke request: %d", okRec.Code)
	}

	revRec := postJSON(env.handler, "/keys/revoke", "", map[string]any{"id": gen.ID})
	if revRec.Code != http.StatusOK {
		t.Fatalf("revoke: %d", revRec.Code)
	}

	failRec := postJSON(env.handler, "/v1/chat/completions", gen.Token, map[string]any{
		"model":    "alias-A",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	if failRec.Code != http.StatusUnauthorized {
		t.Fatalf("post-revoke request: %d", failRec.Code)
	}
	if !strings.Contains(failRec.Body.String(), "revoked") {
		t.Fatalf("error body: %s", failRec.Body.String())
	}
}

func TestConvertTranslatesToolsAndVision(t *testing.T) {
	env := newTestEnv(t, responsesUpstream(t))

	rec := postJSON(env.handler, "/convert", "", map[string]any{
		"model": "gpt-4o",
		"messages": []map[string]any{
			{"role": "user", "content": []map[string]any{
				{"type": "text", "text": "what is this"},
				{"type": "image_url", "image_url": map[string]any{
					"url": "data:image/png;base64,iVBORw0KGgo=",
				}},
			}},
		},
		"tools": []map[string]any{
			{"type": "function", "function": map[string]any{
				"name":       "lookup",
				"parameters": map[string]any{"type": "object"},
			}},
		},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("parse: %v", err)
	}

	tools := out["tools"].([]any)
	tool := tools[0].(map[string]any)
	if tool["name"] != "lookup" {
		t.Fatalf("tool not flattened: %v", tool)
	}
	if _, nested := tool["function"]; nested {
		t.Fatalf("tool kept nested form: %v", tool)
	}

	input := out["input"].([]any)
	content := input[0].(map[string]any)["content"].([]any)
	image := content[1].(map[string]any)
	if image["type"] != "input_image" {
		t.Fatalf("image part: %v", image)
	}
	if !strings.HasPrefix(image["image_url"].(string), "data:image/png;base64,") {
		t.Fatalf("data URI lost: %v", image["image_url"])
	}
}

func TestMissingBearerRejectedInManagedMode(t *testing.T) {
	env := newTestEnv(t, responsesUpstream(t))
	rec := postJSON(env.handler, "/v1/chat/completions", "", map[string]any{
		"model":    "alias-A",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	env := newTestEnv(t, responsesUpstream(t))
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+env.newBearer(t))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestUpstreamErrorPreserved(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model overloaded"}}`, http.StatusServiceUnavailable)
	})
	bearer := env.newBearer(t)
	rec := postJSON(env.handler, "/v1/chat/completions", bearer, map[string]any{
		"model":    "alias-A",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "model overloaded") {
		t.Fatalf("upstream message lost: %s", rec.Body.String())
	}

	events := env.waitForEvents(t, 1)
	if events[0].Response.Success {
		t.Fatal("failure marked successful")
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, responsesUpstream(t))
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if body["name"] != "routiium" {
		t.Fatalf("name: %v", body["name"])
	}
	if body["managed_mode"] != true {
		t.Fatalf("managed_mode: %v", body["managed_mode"])
	}
}
