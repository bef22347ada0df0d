// Package doctor runs local diagnostics for a scout installation.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/basket/scout/internal/config"
	"github.com/basket/scout/internal/search"
	"github.com/basket/scout/internal/tasks"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
	StatusSkip = "SKIP"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check failed outright.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

type check func(context.Context, *config.Config) CheckResult

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []check{
		checkConfig,
		checkLLMKey,
		checkSearchProviders,
		checkStore,
		checkPermissions,
		checkBindAddr,
		checkNetwork,
	}
	for _, c := range checks {
		d.Results = append(d.Results, c(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	path := config.ConfigPath(cfg.HomeDir)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return CheckResult{Name: "Config", Status: StatusPass, Message: "No config.yaml; using defaults", Detail: "fingerprint=" + cfg.Fingerprint()}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: "Loaded from " + path, Detail: "fingerprint=" + cfg.Fingerprint()}
}

var llmKeyEnv = map[string]string{
	"google":            "GEMINI_API_KEY",
	"anthropic":         "ANTHROPIC_API_KEY",
	"openai":            "OPENAI_API_KEY",
	"openai_compatible": "OPENAI_API_KEY",
	"openrouter":        "OPENROUTER_API_KEY",
}

func checkLLMKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "LLM Key", Status: StatusSkip, Message: "Config missing"}
	}
	provider := strings.ToLower(cfg.LLM.Provider)
	if cfg.LLMAPIKey() != "" {
		return CheckResult{Name: "LLM Key", Status: StatusPass, Message: fmt.Sprintf("Key present for %s", provider)}
	}
	// Local OpenAI-compatible servers often run without a key.
	if provider == "openai_compatible" && cfg.LLM.BaseURL != "" {
		return CheckResult{Name: "LLM Key", Status: StatusWarn, Message: "No key for openai_compatible", Detail: "base_url=" + cfg.LLM.BaseURL}
	}
	return CheckResult{
		Name:    "LLM Key",
		Status:  StatusFail,
		Message: fmt.Sprintf("No API key for %s; every task will fail at summarization", provider),
		Detail:  fmt.Sprintf("Set %s or api_keys.%s in config.yaml", llmKeyEnv[provider], provider),
	}
}

func checkSearchProviders(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Search", Status: StatusSkip, Message: "Config missing"}
	}
	var usable, missing []string
	for _, p := range search.FromNames(slog.New(slog.DiscardHandler), cfg.Search.Providers, cfg.APIKeys) {
		if p.Available() {
			usable = append(usable, p.Name())
		} else {
			missing = append(missing, p.Name())
		}
	}
	switch {
	case len(usable) == 0:
		return CheckResult{Name: "Search", Status: StatusFail, Message: "No usable search provider", Detail: "unavailable: " + strings.Join(missing, ", ")}
	case len(missing) > 0:
		return CheckResult{Name: "Search", Status: StatusWarn, Message: "Using " + strings.Join(usable, ", "), Detail: "missing keys: " + strings.Join(missing, ", ")}
	}
	return CheckResult{Name: "Search", Status: StatusPass, Message: "Using " + strings.Join(usable, ", ")}
}

func checkStore(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Store", Status: StatusSkip, Message: "Config missing"}
	}
	if cfg.Store.Driver != "sqlite" {
		return CheckResult{Name: "Store", Status: StatusPass, Message: "In-memory store; tasks do not survive a restart"}
	}
	store, err := tasks.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return CheckResult{Name: "Store", Status: StatusFail, Message: fmt.Sprintf("Open failed: %v", err), Detail: cfg.Store.Path}
	}
	defer store.Close()

	counts, err := store.Counts(ctx)
	if err != nil {
		return CheckResult{Name: "Store", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err), Detail: cfg.Store.Path}
	}
	return CheckResult{
		Name:    "Store",
		Status:  StatusPass,
		Message: fmt.Sprintf("SQLite ok (%d tasks)", counts.Total),
		Detail:  cfg.Store.Path,
	}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: StatusSkip, Message: "Config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: StatusFail, Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: StatusPass, Message: "Home directory writable"}
}

func checkBindAddr(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Bind Address", Status: StatusSkip, Message: "Config missing"}
	}
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return CheckResult{Name: "Bind Address", Status: StatusWarn, Message: cfg.BindAddr + " in use (daemon already running?)"}
		}
		return CheckResult{Name: "Bind Address", Status: StatusFail, Message: fmt.Sprintf("Cannot bind %s: %v", cfg.BindAddr, err)}
	}
	ln.Close()
	return CheckResult{Name: "Bind Address", Status: StatusPass, Message: cfg.BindAddr + " available"}
}

var llmHosts = map[string]string{
	"google":     "generativelanguage.googleapis.com",
	"anthropic":  "api.anthropic.com",
	"openai":     "api.openai.com",
	"openrouter": "openrouter.ai",
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: StatusSkip, Message: "Config missing"}
	}
	provider := strings.ToLower(cfg.LLM.Provider)
	host, ok := llmHosts[provider]
	if provider == "openai_compatible" && cfg.LLM.BaseURL != "" {
		host, ok = hostOf(cfg.LLM.BaseURL), true
	}
	if !ok {
		host = llmHosts["google"]
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  StatusFail,
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("provider=%s, latency=%dms", provider, latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    "Network",
		Status:  StatusPass,
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("provider=%s, addresses=%v", provider, addrs),
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return u.Hostname()
}
