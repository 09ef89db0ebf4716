package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/labiium/routiium/internal/analytics"
	analyticspg "github.com/labiium/routiium/internal/analytics/postgres"
	analyticsredis "github.com/labiium/routiium/internal/analytics/redis"
	analyticssqlite "github.com/labiium/routiium/internal/analytics/sqlite"
	"github.com/labiium/routiium/internal/auth"
	authpg "github.com/labiium/routiium/internal/auth/postgres"
	authredis "github.com/labiium/routiium/internal/auth/redis"
	authsqlite "github.com/labiium/routiium/internal/auth/sqlite"
	"github.com/labiium/routiium/internal/config"
	"github.com/labiium/routiium/internal/enrich"
	"github.com/labiium/routiium/internal/httpserver"
	"github.com/labiium/routiium/internal/logging"
	"github.com/labiium/routiium/internal/mcp"
	"github.com/labiium/routiium/internal/routing"
)

func main() {
	// Optional .env for local runs; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	const maxLogBytes = int64(300 * 1024 * 1024)
	if target := strings.TrimSpace(cfg.LogFile); target != "" {
		rot, err := logging.NewRotatingWriter(target, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[routiium] ")
		defer rot.Close()
	}
	logger := log.New(log.Writer(), "[routiium] ", log.LstdFlags|log.Lmicroseconds)

	keyStore, err := openKeyStore(cfg)
	if err != nil {
		log.Fatalf("open key store: %v", err)
	}
	defer keyStore.Close()

	keysPolicy := auth.Policy{
		RequireExpiration: cfg.KeysRequireExpiration,
		AllowNoExpiration: cfg.KeysAllowNoExpiration,
		DefaultTTL:        cfg.KeysDefaultTTL,
	}
	keys := auth.NewManager(keyStore, auth.Options{
		Policy:       keysPolicy,
		DisableCache: cfg.KeysDisableCache,
		Logger:       logger,
	})

	prompts, err := enrich.NewSystemPromptHolder(cfg.SystemPromptFile)
	if err != nil {
		log.Fatalf("load system prompt config: %v", err)
	}
	tools, err := mcp.NewManager(cfg.MCPFile)
	if err != nil {
		log.Fatalf("load tool discovery config: %v", err)
	}

	planCache := routing.NewPlanCache(cfg.RouterCacheMaxTTL)
	stickiness, err := routing.NewStickinessCache(cfg.StickinessCapacity)
	if err != nil {
		log.Fatalf("init stickiness cache: %v", err)
	}

	var remote *routing.RemoteRouter
	if cfg.RouterURL != "" {
		remote = routing.NewRemoteRouter(routing.RemoteConfig{
			URL:     cfg.RouterURL,
			Timeout: cfg.RouterTimeout,
			MTLS:    cfg.RouterMTLS,
		})
	}
	var aliasRouter *routing.AliasRouter
	if cfg.AliasesFile != "" {
		aliasRouter, err = routing.NewAliasRouter(cfg.AliasesFile)
		if err != nil {
			log.Fatalf("load alias file: %v", err)
		}
	} else {
		aliasRouter = routing.NewAliasRouterFromMap(nil)
	}
	ruleRouter := routing.NewRuleRouter(routing.ParseRules(cfg.PrefixRules))

	var routers []routing.Router
	if remote != nil {
		routers = append(routers, remote)
	}
	routers = append(routers, aliasRouter, ruleRouter)
	composite := routing.NewComposite(planCache, routers...)
	composite.Strict = cfg.RouterStrict
	composite.Default = &routing.Upstream{
		BaseURL: cfg.UpstreamBaseURL,
		Mode:    routing.ParseMode(cfg.UpstreamMode),
		ModelID: "", // passthrough: alias becomes the model id
	}

	analyticsMgr, closeAnalytics, err := openAnalytics(cfg, logger)
	if err != nil {
		log.Fatalf("open analytics backend: %v", err)
	}
	if closeAnalytics != nil {
		defer closeAnalytics()
	}

	server := httpserver.New(httpserver.Options{
		Logger:          logger,
		LogLevel:        cfg.LogLevel,
		Keys:            keys,
		KeysPolicy:      keysPolicy,
		Router:          composite,
		Remote:          remote,
		PlanCache:       planCache,
		Stickiness:      stickiness,
		AliasRouter:     aliasRouter,
		PrivacyMode:     routing.ParsePrivacyMode(cfg.RouterPrivacyMode),
		Prompts:         prompts,
		Tools:           tools,
		Analytics:       analyticsMgr,
		UpstreamTimeout: cfg.UpstreamTimeout,
		DefaultModel:    cfg.DefaultModel,
		CORSEnabled:     cfg.CORSEnabled,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s (env=%s)", cfg.ListenAddr, cfg.Environment)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Printf("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}

// openKeyStore selects the credential backend from its spec string:
// "redis://…", "postgres://…", "sqlite:<path>", "memory", or empty for the
// default sqlite location.
func openKeyStore(cfg config.Config) (auth.Store, error) {
	spec := strings.TrimSpace(cfg.KeysBackend)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	switch {
	case spec == "":
		return authsqlite.New(config.DefaultKeysPath())
	case strings.EqualFold(spec, "memory"):
		return auth.NewMemoryStore(), nil
	case strings.HasPrefix(spec, "redis://"), strings.HasPrefix(spec, "rediss://"):
		return authredis.New(ctx, spec)
	case strings.HasPrefix(spec, "postgres://"), strings.HasPrefix(spec, "postgresql://"):
		return authpg.New(ctx, spec)
	case strings.HasPrefix(spec, "sqlite:"):
		return authsqlite.New(strings.TrimPrefix(spec, "sqlite:"))
	default:
		return authsqlite.New(spec)
	}
}

// openAnalytics selects the analytics backend; an empty selector disables
// analytics entirely.
func openAnalytics(cfg config.Config, logger *log.Logger) (*analytics.Manager, func(), error) {
	var pricing *analytics.PricingTable
	if cfg.PricingFile != "" {
		var err error
		pricing, err = analytics.LoadPricingTable(cfg.PricingFile)
		if err != nil {
			return nil, nil, err
		}
	}

	var store analytics.Store
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	switch cfg.AnalyticsBackend {
	case "":
		return nil, nil, nil
	case "memory":
		store = analytics.NewMemoryStore(cfg.AnalyticsMemoryEvents)
	case "jsonl":
		var err error
		store, err = analytics.NewJSONLStore(cfg.AnalyticsJSONLPath)
		if err != nil {
			return nil, nil, err
		}
	case "sqlite":
		var err error
		store, err = analyticssqlite.New(cfg.AnalyticsSQLitePath)
		if err != nil {
			return nil, nil, err
		}
	case "redis":
		var err error
		store, err = analyticsredis.New(ctx, cfg.AnalyticsRedisURL, cfg.AnalyticsTTL)
		if err != nil {
			return nil, nil, err
		}
	case "postgres":
		var err error
		store, err = analyticspg.New(ctx, cfg.AnalyticsPostgresURL)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, errors.New("unknown analytics backend: " + cfg.AnalyticsBackend)
	}

	mgr := analytics.NewManager(store, pricing, cfg.AnalyticsTTL, logger)
	return mgr, func() { _ = store.Close() }, nil
}
