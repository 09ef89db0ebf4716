// Package config loads gateway settings from an INI file tree merged with
// ROUTIIUM_* environment overrides. Environment always wins over file values.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/gateway.ini"
)

// Config describes the full runtime surface of the gateway daemon.
type Config struct {
	Environment string
	ListenAddr  string
	LogFile     string
	LogLevel    string
	CORSEnabled bool

	// Upstream defaults
	UpstreamBaseURL string
	UpstreamMode    string // chat|responses
	UpstreamTimeout time.Duration
	DefaultModel    string

	// Routing
	PrefixRules        string // raw semicolon-delimited rule list
	AliasesFile        string
	RouterURL          string
	RouterTimeout      time.Duration
	RouterStrict       bool
	RouterPrivacyMode  string // features|summary|full
	RouterCacheMaxTTL  time.Duration
	RouterMTLS         bool
	StickinessCapacity int

	// Credentials
	KeysBackend           string // redis://… | sqlite:<path> | postgres://… | memory
	KeysRequireExpiration bool
	KeysAllowNoExpiration bool
	KeysDefaultTTL        time.Duration
	KeysDisableCache      bool

	// Analytics
	AnalyticsBackend      string // memory|jsonl|sqlite|redis|postgres|"" (disabled)
	AnalyticsJSONLPath    string
	AnalyticsSQLitePath   string
	AnalyticsRedisURL     string
	AnalyticsPostgresURL  string
	AnalyticsTTL          time.Duration
	AnalyticsMemoryEvents int

	// Enrichment
	SystemPromptFile string
	MCPFile          string
	PricingFile      string
}

// Load reads the settings tree under root (the working directory in the
// daemon) and applies environment overrides.
func Load(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	merged, env, err := mergedValues(root)
	if err != nil {
		return Config{}, err
	}

	get := func(envKey, iniKey, fallback string) string {
		return firstNonEmpty(os.Getenv(envKey), merged[iniKey], fallback)
	}

	cfg := Config{
		Environment: env,
		ListenAddr:  get("ROUTIIUM_LISTEN_ADDR", "listen_addr", ":8088"),
		LogFile:     get("ROUTIIUM_LOG_FILE", "log_file", ""),
		LogLevel:    get("ROUTIIUM_LOG_LEVEL", "log_level", "info"),
		CORSEnabled: parseBool(get("ROUTIIUM_CORS_ENABLED", "cors_enabled", "")),

		UpstreamBaseURL: get("ROUTIIUM_UPSTREAM_BASE_URL", "upstream_base_url", "https://api.openai.com/v1"),
		UpstreamMode:    strings.ToLower(get("ROUTIIUM_UPSTREAM_MODE", "upstream_mode", "responses")),
		DefaultModel:    firstNonEmpty(os.Getenv("MODEL"), merged["default_model"], "gpt-5-nano"),

		PrefixRules:       get("ROUTIIUM_BACKENDS", "backends", ""),
		AliasesFile:       get("ROUTIIUM_ALIASES_FILE", "aliases_file", ""),
		RouterURL:         get("ROUTIIUM_ROUTER_URL", "router_url", ""),
		RouterStrict:      parseBool(get("ROUTIIUM_ROUTER_STRICT", "router_strict", "")),
		RouterPrivacyMode: strings.ToLower(get("ROUTIIUM_ROUTER_PRIVACY_MODE", "router_privacy_mode", "features")),
		RouterMTLS:        parseBool(get("ROUTIIUM_ROUTER_MTLS", "router_mtls", "")),

		KeysBackend:           get("ROUTIIUM_KEYS_BACKEND", "keys_backend", ""),
		KeysRequireExpiration: parseBool(get("ROUTIIUM_KEYS_REQUIRE_EXPIRATION", "keys_require_expiration", "")),
		KeysAllowNoExpiration: parseBool(get("ROUTIIUM_KEYS_ALLOW_NO_EXPIRATION", "keys_allow_no_expiration", "")),
		KeysDisableCache:      parseBool(get("ROUTIIUM_KEYS_DISABLE_CACHE", "keys_disable_cache", "")),

		AnalyticsBackend:     strings.ToLower(get("ROUTIIUM_ANALYTICS_BACKEND", "analytics_backend", "")),
		AnalyticsJSONLPath:   get("ROUTIIUM_ANALYTICS_JSONL_PATH", "analytics_jsonl_path", "./data/analytics.jsonl"),
		AnalyticsSQLitePath:  get("ROUTIIUM_ANALYTICS_SQLITE_PATH", "analytics_sqlite_path", "./data/analytics.db"),
		AnalyticsRedisURL:    get("ROUTIIUM_ANALYTICS_REDIS_URL", "analytics_redis_url", ""),
		AnalyticsPostgresURL: get("ROUTIIUM_ANALYTICS_POSTGRES_URL", "analytics_postgres_url", ""),

		SystemPromptFile: get("ROUTIIUM_SYSTEM_PROMPT_FILE", "system_prompt_file", ""),
		MCPFile:          get("ROUTIIUM_MCP_FILE", "mcp_file", ""),
		PricingFile:      get("ROUTIIUM_PRICING_FILE", "pricing_file", ""),
	}

	switch cfg.UpstreamMode {
	case "chat", "responses":
	default:
		cfg.UpstreamMode = "responses"
	}

	cfg.UpstreamTimeout = parseSeconds(get("ROUTIIUM_UPSTREAM_TIMEOUT_SECONDS", "upstream_timeout_seconds", ""), 60*time.Second)
	cfg.RouterTimeout = parseMillis(get("ROUTIIUM_ROUTER_TIMEOUT_MS", "router_timeout_ms", ""), 15*time.Millisecond)
	cfg.RouterCacheMaxTTL = parseMillis(get("ROUTIIUM_ROUTER_CACHE_TTL_MS", "router_cache_ttl_ms", ""), 60*time.Second)
	cfg.StickinessCapacity = parseOptionalInt(get("ROUTIIUM_STICKINESS_CAPACITY", "stickiness_capacity", ""), 10000)
	cfg.KeysDefaultTTL = parseSeconds(get("ROUTIIUM_KEYS_DEFAULT_TTL_SECONDS", "keys_default_ttl_seconds", ""), 0)
	cfg.AnalyticsTTL = parseSeconds(get("ROUTIIUM_ANALYTICS_TTL_SECONDS", "analytics_ttl_seconds", ""), 0)
	cfg.AnalyticsMemoryEvents = parseOptionalInt(get("ROUTIIUM_ANALYTICS_MEMORY_MAX_EVENTS", "analytics_memory_max_events", ""), 10000)

	return cfg, nil
}

func mergedValues(root string) (map[string]string, string, error) {
	settings, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		settings = map[string]string{}
	} else if err != nil {
		return nil, "", err
	}
	env := settings["environment"]
	if env == "" {
		env = defaultEnv
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, env)))
	if errors.Is(err, os.ErrNotExist) {
		envValues = map[string]string{}
	} else if err != nil {
		return nil, "", err
	}

	merged := make(map[string]string, len(settings)+len(envValues))
	for k, v := range settings {
		if k != "environment" {
			merged[k] = v
		}
	}
	for k, v := range envValues {
		merged[k] = v
	}
	return merged, env, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "[") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key != "" {
			values[key] = strings.TrimSpace(val)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseSeconds(v string, fallback time.Duration) time.Duration {
	n := parseOptionalInt(v, -1)
	if n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func parseMillis(v string, fallback time.Duration) time.Duration {
	n := parseOptionalInt(v, -1)
	if n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultKeysPath returns the fallback key database location.
func DefaultKeysPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "keys.db"
	}
	return filepath.Join(home, ".routiium", "keys.db")
}
