package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type StoreConfig struct {
	// Driver is "memory" (default) or "sqlite".
	Driver string `yaml:"driver"`
	// Path is the sqlite database file. Defaults to <home>/scout.db.
	Path string `yaml:"path"`
}

type SearchConfig struct {
	// Providers is the fallback order. Unknown names are ignored.
	Providers      []string `yaml:"providers"`
	MaxResults     int      `yaml:"max_results"`
	Depth          string   `yaml:"depth"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	// CacheSize is the number of queries kept in the result cache; 0 disables it.
	CacheSize int `yaml:"cache_size"`
}

type LLMConfig struct {
	// Provider: "google" (default), "anthropic", "openai", "openai_compatible", "openrouter".
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	BaseURL        string  `yaml:"base_url"`
	// CompatibleProvider names the backend when Provider is openai_compatible.
	CompatibleProvider string `yaml:"compatible_provider"`
}

type RetryConfig struct {
	// MaxAttempts counts every try; 1 disables retries.
	MaxAttempts       int `yaml:"max_attempts"`
	InitialIntervalMS int `yaml:"initial_interval_ms"`
	MaxIntervalMS     int `yaml:"max_interval_ms"`
}

type BreakerConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxFailures int  `yaml:"max_failures"`
	OpenSeconds int  `yaml:"open_seconds"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

type A2AConfig struct {
	Enabled bool `yaml:"enabled"`
}

type TelemetryConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Exporter        string  `yaml:"exporter"`
	Endpoint        string  `yaml:"endpoint"`
	ServiceName     string  `yaml:"service_name"`
	SampleRate      float64 `yaml:"sample_rate"`
	MetricsExporter string  `yaml:"metrics_exporter"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr  string `yaml:"bind_addr"`
	PublicURL string `yaml:"public_url"`
	LogLevel  string `yaml:"log_level"`

	// AuthToken, when set, is required as a bearer token on every task route.
	AuthToken string `yaml:"auth_token"`

	WorkerCount         int `yaml:"worker_count"`
	MaxQueueDepth       int `yaml:"max_queue_depth"`
	TaskTimeoutSeconds  int `yaml:"task_timeout_seconds"`
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`

	Store  StoreConfig  `yaml:"store"`
	Search SearchConfig `yaml:"search"`
	LLM    LLMConfig    `yaml:"llm"`

	// APIKeys holds provider credentials. Env vars override:
	// TAVILY_API_KEY → api_keys["tavily"], BRAVE_API_KEY → api_keys["brave_search"], etc.
	APIKeys map[string]string `yaml:"api_keys"`

	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// AllowOrigins controls which Origin headers are accepted for browser WS
	// connections. Empty means same-origin only.
	AllowOrigins []string `yaml:"allow_origins"`

	A2A A2AConfig `yaml:"a2a"`

	// StatsSchedule is a cron spec for the stats reporter; empty disables it.
	StatsSchedule string `yaml:"stats_schedule"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Tunables are the settings a config reload applies without a restart.
type Tunables struct {
	MaxResults    int
	Depth         string
	MaxTokens     int
	Temperature   float64
	SearchTimeout time.Duration
	LLMTimeout    time.Duration
	LogLevel      string
}

// Tunables returns the hot-reloadable subset of c.
func (c Config) Tunables() Tunables {
	return Tunables{
		MaxResults:    c.Search.MaxResults,
		Depth:         c.Search.Depth,
		MaxTokens:     c.LLM.MaxTokens,
		Temperature:   c.LLM.Temperature,
		SearchTimeout: time.Duration(c.Search.TimeoutSeconds) * time.Second,
		LLMTimeout:    time.Duration(c.LLM.TimeoutSeconds) * time.Second,
		LogLevel:      c.LogLevel,
	}
}

// APIKey returns the named key, or "" when unset.
func (c Config) APIKey(name string) string {
	return c.APIKeys[name]
}

// LLMAPIKey returns the key for the configured LLM provider.
func (c Config) LLMAPIKey() string {
	switch c.LLM.Provider {
	case "openai_compatible":
		return c.APIKeys["openai"]
	default:
		return c.APIKeys[c.LLM.Provider]
	}
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the settings that need a restart.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "workers=%d|queue=%d|timeout=%d|bind=%s|store=%s|llm=%s/%s|search=%v|origins=%v",
		c.WorkerCount, c.MaxQueueDepth, c.TaskTimeoutSeconds, c.BindAddr, c.Store.Driver,
		c.LLM.Provider, c.LLM.Model, c.Search.Providers, c.AllowOrigins)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr:            "127.0.0.1:8000",
		LogLevel:            "info",
		WorkerCount:         8,
		MaxQueueDepth:       100,
		TaskTimeoutSeconds:  300,
		DrainTimeoutSeconds: 5,
		Store:               StoreConfig{Driver: "memory"},
		Search: SearchConfig{
			Providers:      []string{"tavily", "brave_search", "duckduckgo"},
			MaxResults:     5,
			Depth:          "advanced",
			TimeoutSeconds: 30,
		},
		LLM: LLMConfig{
			Provider:       "google",
			Model:          "gemini-2.5-flash",
			MaxTokens:      512,
			Temperature:    0.3,
			TimeoutSeconds: 60,
		},
		Retry:         RetryConfig{MaxAttempts: 2, InitialIntervalMS: 500, MaxIntervalMS: 5000},
		Breaker:       BreakerConfig{Enabled: true, MaxFailures: 5, OpenSeconds: 30},
		RateLimit:     RateLimitConfig{RequestsPerMinute: 120, Burst: 20},
		A2A:           A2AConfig{Enabled: true},
		StatsSchedule: "@every 1m",
		Telemetry:     TelemetryConfig{Exporter: "otlp-http", ServiceName: "scout", SampleRate: 1.0},
	}
}

// HomeDir returns $SCOUT_HOME, or ~/.scout.
func HomeDir() string {
	if override := os.Getenv("SCOUT_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".scout")
}

// Load reads the config from HomeDir().
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads <homeDir>/config.yaml over the defaults, applies env
// overrides, then normalizes and validates. A missing file is not an error.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create scout home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	def := defaultConfig()
	if cfg.BindAddr == "" {
		cfg.BindAddr = def.BindAddr
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://" + cfg.BindAddr
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.MaxQueueDepth < 0 {
		cfg.MaxQueueDepth = 0
	}
	if cfg.TaskTimeoutSeconds <= 0 {
		cfg.TaskTimeoutSeconds = def.TaskTimeoutSeconds
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = def.DrainTimeoutSeconds
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.HomeDir, "scout.db")
	}

	if len(cfg.Search.Providers) == 0 {
		cfg.Search.Providers = def.Search.Providers
	}
	if cfg.Search.MaxResults <= 0 {
		cfg.Search.MaxResults = def.Search.MaxResults
	}
	cfg.Search.Depth = strings.ToLower(strings.TrimSpace(cfg.Search.Depth))
	if cfg.Search.Depth == "" {
		cfg.Search.Depth = def.Search.Depth
	}
	if cfg.Search.TimeoutSeconds <= 0 {
		cfg.Search.TimeoutSeconds = def.Search.TimeoutSeconds
	}

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" || cfg.LLM.Provider == "gemini" {
		cfg.LLM.Provider = "google"
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if cfg.LLM.Temperature < 0 {
		cfg.LLM.Temperature = 0
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = def.LLM.TimeoutSeconds
	}

	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.InitialIntervalMS <= 0 {
		cfg.Retry.InitialIntervalMS = def.Retry.InitialIntervalMS
	}
	if cfg.Retry.MaxIntervalMS < cfg.Retry.InitialIntervalMS {
		cfg.Retry.MaxIntervalMS = cfg.Retry.InitialIntervalMS
	}
	if cfg.Breaker.MaxFailures <= 0 {
		cfg.Breaker.MaxFailures = def.Breaker.MaxFailures
	}
	if cfg.Breaker.OpenSeconds <= 0 {
		cfg.Breaker.OpenSeconds = def.Breaker.OpenSeconds
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = def.RateLimit.RequestsPerMinute
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.APIKeys == nil {
		cfg.APIKeys = make(map[string]string)
	}
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store.driver: unknown driver %q (supported: memory, sqlite)", cfg.Store.Driver)
	}
	switch cfg.Search.Depth {
	case "basic", "advanced":
	default:
		return fmt.Errorf("search.depth: must be basic or advanced, got %q", cfg.Search.Depth)
	}
	switch cfg.LLM.Provider {
	case "google", "anthropic", "openai", "openai_compatible", "openrouter":
	default:
		return fmt.Errorf("llm.provider: unknown provider %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature: must be between 0 and 2, got %g", cfg.LLM.Temperature)
	}
	return nil
}

// envAPIKeys maps env vars to api_keys entries. Earlier entries win when two
// vars feed the same key.
var envAPIKeys = []struct{ env, key string }{
	{"TAVILY_API_KEY", "tavily"},
	{"BRAVE_API_KEY", "brave_search"},
	{"GEMINI_API_KEY", "google"},
	{"GOOGLE_API_KEY", "google"},
	{"ANTHROPIC_API_KEY", "anthropic"},
	{"OPENAI_API_KEY", "openai"},
	{"OPENROUTER_API_KEY", "openrouter"},
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("SCOUT_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("SCOUT_PUBLIC_URL"); raw != "" {
		cfg.PublicURL = raw
	}
	if raw := os.Getenv("SCOUT_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("SCOUT_AUTH_TOKEN"); raw != "" {
		cfg.AuthToken = raw
	}
	envInt("SCOUT_WORKER_COUNT", &cfg.WorkerCount)
	envInt("SCOUT_MAX_QUEUE_DEPTH", &cfg.MaxQueueDepth)
	envInt("SCOUT_TASK_TIMEOUT_SECONDS", &cfg.TaskTimeoutSeconds)
	envInt("SCOUT_DRAIN_TIMEOUT_SECONDS", &cfg.DrainTimeoutSeconds)
	if raw := os.Getenv("SCOUT_STORE_DRIVER"); raw != "" {
		cfg.Store.Driver = raw
	}
	if raw := os.Getenv("SCOUT_LLM_PROVIDER"); raw != "" {
		cfg.LLM.Provider = raw
	}
	if raw := os.Getenv("SCOUT_LLM_MODEL"); raw != "" {
		cfg.LLM.Model = raw
	}

	seen := make(map[string]bool)
	for _, m := range envAPIKeys {
		raw := os.Getenv(m.env)
		if raw == "" || seen[m.key] {
			continue
		}
		if cfg.APIKeys == nil {
			cfg.APIKeys = make(map[string]string)
		}
		cfg.APIKeys[m.key] = raw
		seen[m.key] = true
	}
}

func envInt(name string, dst *int) {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			*dst = v
		}
	}
}
