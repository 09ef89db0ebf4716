// Package httpserver exposes the gateway's REST surface and drives the
// request pipeline: auth verify, parse, enrich, route, translate, upstream
// invoke, relay, and analytics capture.
package httpserver

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/labiium/routiium/internal/analytics"
	"github.com/labiium/routiium/internal/auth"
	"github.com/labiium/routiium/internal/enrich"
	"github.com/labiium/routiium/internal/mcp"
	"github.com/labiium/routiium/internal/routing"
)

// Server wires the gateway components behind the HTTP routes.
type Server struct {
	logger   *log.Logger
	logLevel string

	keys       *auth.Manager
	keysPolicy auth.Policy

	router      routing.Router
	remote      *routing.RemoteRouter
	planCache   *routing.PlanCache
	stickiness  *routing.StickinessCache
	aliasRouter *routing.AliasRouter
	privacyMode routing.PrivacyMode

	prompts *enrich.SystemPromptHolder
	tools   *mcp.Manager

	analytics *analytics.Manager

	httpClient      *http.Client
	upstreamTimeout time.Duration
	upstreamAPIKey  string
	defaultModel    string
	corsEnabled     bool
}

// Options carries the dependencies assembled by the daemon entrypoint.
type Options struct {
	Logger     *log.Logger
	LogLevel   string
	Keys       *auth.Manager
	KeysPolicy auth.Policy

	Router      routing.Router
	Remote      *routing.RemoteRouter
	PlanCache   *routing.PlanCache
	Stickiness  *routing.StickinessCache
	AliasRouter *routing.AliasRouter
	PrivacyMode routing.PrivacyMode

	Prompts *enrich.SystemPromptHolder
	Tools   *mcp.Manager

	Analytics *analytics.Manager

	HTTPClient      *http.Client
	UpstreamTimeout time.Duration
	UpstreamAPIKey  string
	DefaultModel    string
	CORSEnabled     bool
}

// New assembles the server.
func New(opts Options) *Server {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		}
	}
	timeout := opts.UpstreamTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	upstreamKey := opts.UpstreamAPIKey
	if upstreamKey == "" {
		upstreamKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if opts.Prompts == nil {
		opts.Prompts, _ = enrich.NewSystemPromptHolder("")
	}
	if opts.Tools == nil {
		opts.Tools, _ = mcp.NewManager("")
	}
	if opts.Stickiness == nil {
		opts.Stickiness, _ = routing.NewStickinessCache(0)
	}
	if opts.PlanCache == nil {
		opts.PlanCache = routing.NewPlanCache(0)
	}
	if opts.AliasRouter == nil {
		opts.AliasRouter = routing.NewAliasRouterFromMap(nil)
	}
	return &Server{
		logger:          opts.Logger,
		logLevel:        opts.LogLevel,
		keys:            opts.Keys,
		keysPolicy:      opts.KeysPolicy,
		router:          opts.Router,
		remote:          opts.Remote,
		planCache:       opts.PlanCache,
		stickiness:      opts.Stickiness,
		aliasRouter:     opts.AliasRouter,
		privacyMode:     opts.PrivacyMode,
		prompts:         opts.Prompts,
		tools:           opts.Tools,
		analytics:       opts.Analytics,
		httpClient:      client,
		upstreamTimeout: timeout,
		upstreamAPIKey:  upstreamKey,
		defaultModel:    opts.DefaultModel,
		corsEnabled:     opts.CORSEnabled,
	}
}

// Routes builds the chi router for the full endpoint surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.corsEnabled {
		r.Use(corsMiddleware)
	}

	r.Get("/status", s.handleStatus)
	r.Post("/convert", s.handleConvert)
	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Post("/v1/responses", s.handleResponses)

	r.Get("/keys", s.handleListKeys)
	r.Post("/keys/generate", s.handleGenerateKey)
	r.Post("/keys/revoke", s.handleRevokeKey)
	r.Post("/keys/set_expiration", s.handleSetKeyExpiration)

	r.Post("/reload/mcp", s.handleReloadMCP)
	r.Post("/reload/system_prompt", s.handleReloadSystemPrompt)
	r.Post("/reload/routing", s.handleReloadRouting)
	r.Post("/reload/all", s.handleReloadAll)

	r.Get("/analytics/stats", s.handleAnalyticsStats)
	r.Get("/analytics/events", s.handleAnalyticsEvents)
	r.Get("/analytics/aggregate", s.handleAnalyticsAggregate)
	r.Get("/analytics/export", s.handleAnalyticsExport)
	r.Post("/analytics/clear", s.handleAnalyticsClear)

	return r
}

// managedMode reports whether the server holds an upstream credential; client
// bearers are then gateway-issued keys rather than provider keys.
func (s *Server) managedMode() bool {
	return s.upstreamAPIKey != ""
}

func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.logLevel == "debug" {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]any{
		"error": map[string]any{"message": message},
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	routes := []string{
		"/status", "/convert", "/v1/chat/completions", "/v1/responses",
		"/keys", "/keys/generate", "/keys/revoke", "/keys/set_expiration",
		"/reload/mcp", "/reload/system_prompt", "/reload/routing", "/reload/all",
		"/analytics/stats", "/analytics/events", "/analytics/aggregate",
		"/analytics/export", "/analytics/clear",
	}

	promptCfg := s.prompts.Snapshot()
	features := map[string]any{
		"mcp": map[string]any{
			"enabled":     s.tools.Path() != "",
			"config_path": s.tools.Path(),
			"reloadable":  s.tools.Path() != "",
			"servers":     s.tools.Servers(),
		},
		"system_prompt": map[string]any{
			"enabled":     promptCfg.Enabled,
			"config_path": s.prompts.Path(),
			"reloadable":  s.prompts.Path() != "",
		},
		"routing": map[string]any{
			"cached_plans":         s.planCache.Len(),
			"sticky_conversations": s.stickiness.Len(),
			"aliases":              s.aliasRouter.Len(),
		},
	}
	if s.analytics != nil {
		stats, err := s.analytics.Stats(r.Context())
		entry := map[string]any{"enabled": true}
		if err == nil {
			entry["stats"] = stats
		}
		features["analytics"] = entry
	} else {
		features["analytics"] = map[string]any{"enabled": false}
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"name":         "routiium",
		"managed_mode": s.managedMode(),
		"routes":       routes,
		"features":     features,
	})
}
