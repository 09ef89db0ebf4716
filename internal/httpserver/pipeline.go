package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labiium/routiium/internal/analytics"
	"github.com/labiium/routiium/internal/auth"
	"github.com/labiium/routiium/internal/enrich"
	"github.com/labiium/routiium/internal/routing"
	"github.com/labiium/routiium/internal/translate"
)

// HandleChatCompletions proxies the Chat surface.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.proxy(w, r, "chat")
}

// HandleResponses proxies the Responses surface.
func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	s.proxy(w, r, "responses")
}

// proxy runs the full pipeline for one request. Every exit path records
// exactly one analytics event.
func (s *Server) proxy(w http.ResponseWriter, r *http.Request, api string) {
	reqStart := time.Now()
	ev := &analytics.Event{
		Timestamp: reqStart.Unix(),
		Request: analytics.RequestInfo{
			Endpoint:  r.URL.Path,
			Method:    r.Method,
			IP:        r.RemoteAddr,
			UserAgent: r.UserAgent(),
		},
		Auth: analytics.AuthInfo{Method: "none"},
	}
	recorded := false
	record := func() {
		if recorded {
			return
		}
		recorded = true
		if s.analytics != nil {
			evCopy := ev
			go s.analytics.Record(context.Background(), evCopy)
		}
	}
	fail := func(status int, message string) {
		ev.Response = analytics.ResponseInfo{StatusCode: status, Success: false, Error: message}
		ev.Perf.DurationMs = time.Since(reqStart).Milliseconds()
		s.respondError(w, status, message)
		record()
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		fail(http.StatusBadRequest, "failed to read request body")
		return
	}
	ev.Request.Size = int64(len(bodyBytes))

	var payload map[string]any
	if err := json.Unmarshal(bodyBytes, &payload); err != nil {
		fail(http.StatusBadRequest, "invalid JSON body")
		return
	}
	alias, _ := payload["model"].(string)
	if alias == "" && s.defaultModel != "" {
		alias = s.defaultModel
		payload["model"] = alias
	}
	stream, _ := payload["stream"].(bool)
	ev.Request.Model = alias
	ev.Request.Stream = stream

	// Auth: managed mode verifies gateway-issued bearers; passthrough
	// forwards provider bearers unchanged.
	clientBearer := ""
	if raw := r.Header.Get("Authorization"); raw != "" {
		if tok, ok := auth.BearerToken(raw); ok {
			clientBearer = tok
		}
	}
	upstreamBearer := ""
	if s.managedMode() {
		if s.keys != nil {
			if clientBearer == "" {
				fail(http.StatusUnauthorized, "Missing Authorization bearer")
				return
			}
			identity, err := s.keys.Verify(r.Context(), clientBearer)
			if err != nil {
				s.failAuth(w, err, fail)
				return
			}
			ev.Auth = analytics.AuthInfo{APIKeyID: identity.ID, Method: "managed"}
			if identity.Label != nil {
				ev.Auth.Label = *identity.Label
			}
		} else {
			ev.Auth.Method = "managed"
		}
	} else {
		if clientBearer == "" {
			fail(http.StatusUnauthorized, "Missing Authorization bearer")
			return
		}
		upstreamBearer = clientBearer
		ev.Auth.Method = "passthrough"
	}

	// Enrich: system prompt, then discovered tools.
	msgKey := "messages"
	if api == "responses" {
		msgKey = "input"
	}
	promptCfg := s.prompts.Snapshot()
	if prompt := promptCfg.Prompt(alias, api); prompt != "" {
		enrich.InjectJSON(payload, msgKey, prompt, promptCfg.Mode())
		ev.Routing.SystemPromptApplied = true
	}
	if api == "responses" {
		flattenChatStyleTools(payload)
	}
	if enrich.MergeToolsJSON(payload, s.tools.Tools(), api == "responses") {
		ev.Routing.MCPUsed = true
	}
	if api == "chat" {
		normalizeNullContent(payload)
	}

	// Conversation hints: query parameters win over body fields.
	q := r.URL.Query()
	conversationID := strings.TrimSpace(q.Get("conversation_id"))
	if conversationID == "" {
		conversationID = extractConversationID(payload)
	}
	previousResponseID := strings.TrimSpace(q.Get("previous_response_id"))
	if previousResponseID == "" {
		previousResponseID = extractPreviousResponseID(payload)
	}

	// Route.
	routeReq := routing.ExtractRouteRequest(alias, api, payload, s.privacyMode)
	if tok, ok := s.stickiness.Token(conversationID); ok {
		routeReq.PlanToken = tok
	}
	plan, err := s.router.Plan(r.Context(), routeReq)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, routing.ErrNoRoute) {
			status = http.StatusNotFound
		}
		fail(status, "Router error: "+err.Error())
		return
	}
	ev.Routing.Backend = plan.Backend
	ev.Routing.UpstreamMode = string(plan.Upstream.Mode)
	ev.Routing.ResolvedModel = plan.Upstream.ModelID
	if plan.Stickiness != nil && plan.Stickiness.PlanToken != "" {
		s.stickiness.Remember(conversationID, plan.Stickiness.PlanToken)
	}

	payload["model"] = plan.Upstream.ModelID

	// Upstream credential: passthrough bearer, then plan auth_env, then the
	// server default.
	effBearer := upstreamBearer
	if effBearer == "" && plan.Upstream.AuthEnv != "" {
		effBearer = strings.TrimSpace(os.Getenv(plan.Upstream.AuthEnv))
	}
	if effBearer == "" {
		effBearer = s.upstreamAPIKey
	}

	if plan.Upstream.Mode == routing.ModeBedrock {
		setRouteHeaders(w, plan)
		fail(http.StatusBadGateway, "upstream mode bedrock requires the signing adapter, which this build does not include")
		return
	}

	// Translate when the inbound surface differs from the plan's mode.
	outbound := payload
	endpoint := "responses"
	var newStream func() *translate.StreamTranslator
	translateResponse := func(body []byte) ([]byte, error) { return body, nil }

	switch {
	case api == "chat" && plan.Upstream.Mode == routing.ModeResponses:
		converted, err := translate.ChatJSONToResponsesValue(payload, optStr(conversationID), optStr(previousResponseID))
		if err != nil {
			fail(http.StatusBadRequest, "invalid chat request: "+err.Error())
			return
		}
		outbound = converted
		newStream = translate.NewResponsesToChatStream
		translateResponse = responsesBodyToChat
	case api == "chat" && plan.Upstream.Mode == routing.ModeChat:
		translate.StripResponsesOnlyFields(outbound)
		endpoint = "chat/completions"
		newStream = translate.NewPassthroughStream
	case api == "responses" && plan.Upstream.Mode == routing.ModeChat:
		converted, err := translate.ResponsesJSONToChatValue(payload)
		if err != nil {
			fail(http.StatusBadRequest, "invalid responses request: "+err.Error())
			return
		}
		outbound = converted
		endpoint = "chat/completions"
		newStream = translate.NewChatToResponsesStream
		translateResponse = chatBodyToResponses
	default:
		newStream = translate.NewPassthroughStream
	}

	outBytes, err := json.Marshal(outbound)
	if err != nil {
		fail(http.StatusInternalServerError, "failed to encode upstream request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.upstreamTimeout)
	defer cancel()

	url := strings.TrimSuffix(plan.Upstream.BaseURL, "/") + "/" + endpoint
	upReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(outBytes))
	if err != nil {
		fail(http.StatusInternalServerError, "failed to build upstream request")
		return
	}
	upReq.Header.Set("Content-Type", "application/json")
	if stream {
		upReq.Header.Set("Accept", "text/event-stream")
		upReq.Header.Set("Connection", "close")
	}
	applyPlanHeaders(upReq, plan, s)
	if effBearer != "" {
		upReq.Header.Set("Authorization", "Bearer "+effBearer)
	}

	upstreamStart := time.Now()
	upResp, err := s.httpClient.Do(upReq)
	if err != nil {
		setRouteHeaders(w, plan)
		fail(http.StatusBadGateway, "upstream request failed: "+err.Error())
		s.sendFeedback(plan, ev)
		return
	}
	defer upResp.Body.Close()

	setRouteHeaders(w, plan)

	if upResp.StatusCode < 200 || upResp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(upResp.Body, 1<<20))
		ev.Response = analytics.ResponseInfo{
			StatusCode: upResp.StatusCode,
			Size:       int64(len(raw)),
			Success:    false,
			Error:      strings.TrimSpace(string(raw)),
		}
		ev.Perf.DurationMs = time.Since(reqStart).Milliseconds()
		upMs := time.Since(upstreamStart).Milliseconds()
		ev.Perf.UpstreamMs = &upMs
		w.Header().Set("Content-Type", firstHeader(upResp.Header.Get("Content-Type"), "application/json"))
		w.WriteHeader(upResp.StatusCode)
		_, _ = w.Write(raw)
		record()
		s.sendFeedback(plan, ev)
		return
	}

	if stream {
		s.relayStream(w, r, upResp, newStream(), ev, reqStart, upstreamStart)
		record()
		s.sendFeedback(plan, ev)
		return
	}

	raw, err := io.ReadAll(upResp.Body)
	upMs := time.Since(upstreamStart).Milliseconds()
	ev.Perf.UpstreamMs = &upMs
	if err != nil {
		fail(http.StatusBadGateway, "failed to read upstream response: "+err.Error())
		s.sendFeedback(plan, ev)
		return
	}
	final, err := translateResponse(raw)
	if err != nil {
		// The upstream succeeded; a conversion failure here is ours.
		fail(http.StatusInternalServerError, "failed to translate upstream response: "+err.Error())
		s.sendFeedback(plan, ev)
		return
	}

	ev.Tokens = extractUsage(api, final)
	ev.Response = analytics.ResponseInfo{
		StatusCode: http.StatusOK,
		Size:       int64(len(final)),
		Success:    true,
	}
	ev.Perf.DurationMs = time.Since(reqStart).Milliseconds()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(final)
	record()
	s.sendFeedback(plan, ev)
}

func (s *Server) failAuth(w http.ResponseWriter, err error, fail func(int, string)) {
	switch {
	case errors.Is(err, auth.ErrKeyRevoked):
		fail(http.StatusUnauthorized, "API key revoked")
	case errors.Is(err, auth.ErrKeyExpired):
		fail(http.StatusUnauthorized, "API key expired")
	case errors.Is(err, auth.ErrStoreUnavailable):
		fail(http.StatusServiceUnavailable, "key store unavailable")
	default:
		fail(http.StatusUnauthorized, "Invalid API key")
	}
}

// relayStream pipes upstream SSE through the translator with immediate
// flushes. Pacing follows the slower of the upstream read and client write;
// nothing is buffered beyond the event being assembled.
func (s *Server) relayStream(
	w http.ResponseWriter,
	r *http.Request,
	upResp *http.Response,
	translator *translate.StreamTranslator,
	ev *analytics.Event,
	reqStart, upstreamStart time.Time,
) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	var firstByteAt time.Time
	var written int64
	clientClosed := false

	buf := make([]byte, 32*1024)
	for {
		n, readErr := upResp.Body.Read(buf)
		if n > 0 {
			if firstByteAt.IsZero() {
				firstByteAt = time.Now()
			}
			for _, event := range translator.Feed(buf[:n]) {
				if usage := usageFromEvent(event); usage != nil {
					ev.Tokens = usage
				}
				if _, err := w.Write(event); err != nil {
					clientClosed = true
					break
				}
				written += int64(len(event))
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
		if clientClosed || readErr != nil {
			break
		}
		select {
		case <-r.Context().Done():
			clientClosed = true
		default:
		}
		if clientClosed {
			break
		}
	}

	if rest := translator.Flush(); len(rest) > 0 && !clientClosed {
		if _, err := w.Write(rest); err == nil {
			written += int64(len(rest))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}

	ev.Perf.DurationMs = time.Since(reqStart).Milliseconds()
	upMs := time.Since(upstreamStart).Milliseconds()
	ev.Perf.UpstreamMs = &upMs
	if !firstByteAt.IsZero() {
		ttfb := firstByteAt.Sub(reqStart).Milliseconds()
		ev.Perf.TTFBMs = &ttfb
	}
	ev.Response = analytics.ResponseInfo{
		StatusCode: http.StatusOK,
		Size:       written,
		Success:    !clientClosed,
	}
	if clientClosed {
		ev.Response.Error = "client_closed"
	}
}

func (s *Server) sendFeedback(plan *routing.RoutePlan, ev *analytics.Event) {
	if s.remote == nil || plan.Backend != "remote" {
		return
	}
	s.remote.SendFeedback(routing.Feedback{
		RouteID:    plan.RouteID,
		ModelID:    plan.Upstream.ModelID,
		Success:    ev.Response.Success,
		DurationMs: ev.Perf.DurationMs,
		StatusCode: ev.Response.StatusCode,
		Error:      ev.Response.Error,
	})
}

func setRouteHeaders(w http.ResponseWriter, plan *routing.RoutePlan) {
	h := w.Header()
	if h.Get("x-route-id") != "" {
		return
	}
	h.Set("x-route-id", plan.RouteID)
	h.Set("x-resolved-model", plan.Upstream.ModelID)
	if plan.SchemaVersion != "" {
		h.Set("router-schema", plan.SchemaVersion)
	}
	if plan.PolicyRev != "" {
		h.Set("x-policy-rev", plan.PolicyRev)
	}
	if plan.ContentUsed != "" {
		h.Set("x-content-used", plan.ContentUsed)
	}
	if plan.CacheState != "" {
		h.Set("x-route-cache", plan.CacheState)
	}
}

func applyPlanHeaders(req *http.Request, plan *routing.RoutePlan, s *Server) {
	for key, value := range plan.Upstream.Headers {
		if key == "" || strings.ContainsAny(key, " \t\r\n") {
			s.logf("skipping invalid upstream header from router: %q", key)
			continue
		}
		req.Header.Set(key, value)
	}
}

func responsesBodyToChat(body []byte) ([]byte, error) {
	return convertResponseBody(body, true)
}

func chatBodyToResponses(body []byte) ([]byte, error) {
	return convertResponseBody(body, false)
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstHeader(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
