package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/basket/scout/internal/bus"
	"github.com/basket/scout/internal/config"
	"github.com/basket/scout/internal/cron"
	"github.com/basket/scout/internal/gateway"
	"github.com/basket/scout/internal/llm"
	otelPkg "github.com/basket/scout/internal/otel"
	"github.com/basket/scout/internal/resilience"
	"github.com/basket/scout/internal/runner"
	"github.com/basket/scout/internal/search"
	"github.com/basket/scout/internal/tasks"
	"github.com/basket/scout/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage: scout [command] [flags]

COMMANDS:
  serve                      Run the daemon (default)
  ask [--server URL] <query> Submit a query and follow its progress
  result [--server URL] <id> Print a task's result as JSON
  status [--server URL]      Print daemon health (/health)
  doctor [--json]            Check config, credentials, store and network
  version                    Print the version

ENVIRONMENT VARIABLES:
  SCOUT_HOME                 Data directory (default: ~/.scout)
  SCOUT_AUTH_TOKEN           Bearer token required by the daemon
  TAVILY_API_KEY, BRAVE_API_KEY
                             Search provider credentials
  GEMINI_API_KEY, ANTHROPIC_API_KEY, OPENAI_API_KEY, OPENROUTER_API_KEY
                             LLM provider credentials
`)
}

func main() {
	loadDotEnv(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	cmd := "serve"
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help" || !strings.HasPrefix(args[0], "-")) {
		cmd, args = strings.ToLower(strings.TrimSpace(args[0])), args[1:]
	}
	switch cmd {
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return 0
	case "version":
		fmt.Println("scout", Version)
		return 0
	case "serve", "daemon":
		return runServe(ctx, args)
	case "ask":
		return runAskCommand(ctx, args)
	case "result":
		return runResultCommand(ctx, args)
	case "status":
		return runStatusCommand(ctx, args)
	case "doctor":
		return runDoctorCommand(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printUsage(os.Stderr)
		return 2
	}
}

func runServe(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	quiet := fs.Bool("quiet", false, "log to file only")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		return fatalStartup(nil, "E_CONFIG_LOAD", err)
	}
	otelPkg.Version = Version

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, *quiet)
	if err != nil {
		return fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir, "fingerprint", cfg.Fingerprint())
	if host, _, err := net.SplitHostPort(cfg.BindAddr); err == nil {
		h := strings.TrimSpace(strings.ToLower(host))
		loopback := h == "127.0.0.1" || h == "localhost" || h == "::1"
		if !loopback && cfg.AuthToken == "" {
			logger.Warn("binding a non-loopback address without auth_token; task routes are open", "bind_addr", cfg.BindAddr)
		}
	}

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:         cfg.Telemetry.Enabled,
		Exporter:        cfg.Telemetry.Exporter,
		Endpoint:        cfg.Telemetry.Endpoint,
		ServiceName:     cfg.Telemetry.ServiceName,
		SampleRate:      cfg.Telemetry.SampleRate,
		MetricsExporter: cfg.Telemetry.MetricsExporter,
	})
	if err != nil {
		return fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		return fatalStartup(logger, "E_METRICS_INIT", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "store_opened", "driver", cfg.Store.Driver)

	searcher, err := buildSearcher(cfg, logger)
	if err != nil {
		return fatalStartup(logger, "E_SEARCH_INIT", err)
	}

	summarizer := llm.NewGenkitSummarizer(ctx, llm.Config{
		Provider:           cfg.LLM.Provider,
		Model:              cfg.LLM.Model,
		APIKey:             cfg.LLMAPIKey(),
		BaseURL:            cfg.LLM.BaseURL,
		CompatibleProvider: cfg.LLM.CompatibleProvider,
	}, logger)
	if !summarizer.Enabled() {
		logger.Warn("no LLM credentials; tasks will fail at summarization", "provider", cfg.LLM.Provider)
	}

	params := runner.NewParamSource(paramsFromConfig(cfg))
	eventBus := bus.New()
	svc := runner.New(runner.Config{
		Store:         store,
		Searcher:      searcher,
		Summarizer:    summarizer,
		Params:        params,
		Bus:           eventBus,
		Tracer:        otelProvider.Tracer,
		Metrics:       metrics,
		Logger:        logger,
		WorkerCount:   cfg.WorkerCount,
		MaxQueueDepth: cfg.MaxQueueDepth,
		TaskTimeout:   time.Duration(cfg.TaskTimeoutSeconds) * time.Second,
		Retry: resilience.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: time.Duration(cfg.Retry.InitialIntervalMS) * time.Millisecond,
			MaxInterval:     time.Duration(cfg.Retry.MaxIntervalMS) * time.Millisecond,
		},
		Breaker: resilience.BreakerConfig{
			Enabled:     cfg.Breaker.Enabled,
			MaxFailures: uint32(cfg.Breaker.MaxFailures),
			OpenTimeout: time.Duration(cfg.Breaker.OpenSeconds) * time.Second,
		},
	})
	// Workers outlive the signal context so Drain can let running tasks finish.
	svc.Start(context.WithoutCancel(ctx))
	logger.Info("startup phase", "phase", "workers_started", "workers", cfg.WorkerCount, "queue", cfg.MaxQueueDepth)

	gw, err := gateway.New(gateway.Config{
		Service:        svc,
		StoreDriver:    cfg.Store.Driver,
		Fingerprint:    cfg.Fingerprint(),
		PublicURL:      cfg.PublicURL,
		Version:        Version,
		A2AEnabled:     cfg.A2A.Enabled,
		AuthToken:      cfg.AuthToken,
		AllowOrigins:   cfg.AllowOrigins,
		RateLimit:      cfg.RateLimit,
		MetricsHandler: otelProvider.MetricsHandler,
		Tracer:         otelProvider.Tracer,
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		return fatalStartup(logger, "E_GATEWAY_INIT", err)
	}
	gw.StartEviction(ctx)

	if cfg.StatsSchedule != "" {
		sched, err := cron.NewScheduler(cron.Config{Source: svc, Logger: logger, Schedule: cfg.StatsSchedule, Bus: eventBus})
		if err != nil {
			return fatalStartup(logger, "E_CRON_INIT", err)
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	if err := config.Watch(ctx, cfg.HomeDir, logger, func(next config.Config) {
		applyReload(cfg, next, params, logger)
	}); err != nil {
		logger.Warn("config watcher unavailable; edits need a restart", "error", err)
	}

	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	server := &http.Server{
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	logger.Info("gateway listening", "addr", ln.Addr().String(), "public_url", cfg.PublicURL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	serveErr := g.Wait()

	// Intake is closed; let running tasks finish within the drain window.
	svc.Drain(time.Duration(cfg.DrainTimeoutSeconds) * time.Second)
	eventBus.Close()
	if serveErr != nil {
		logger.Error("gateway server error", "error", serveErr)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

func openStore(cfg config.Config) (tasks.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return tasks.OpenSQLite(cfg.Store.Path)
	default:
		return tasks.NewMemoryStore(), nil
	}
}

func buildSearcher(cfg config.Config, logger *slog.Logger) (search.Searcher, error) {
	router := search.NewRouter(logger, search.FromNames(logger, cfg.Search.Providers, cfg.APIKeys)...)
	logger.Info("search providers", "order", router.Providers())
	return search.NewCache(router, cfg.Search.CacheSize)
}

func paramsFromConfig(cfg config.Config) runner.Params {
	t := cfg.Tunables()
	return runner.Params{
		MaxResults:    t.MaxResults,
		Depth:         t.Depth,
		MaxTokens:     t.MaxTokens,
		Temperature:   t.Temperature,
		SearchTimeout: t.SearchTimeout,
		LLMTimeout:    t.LLMTimeout,
	}
}

// applyReload swaps in the hot-reloadable settings. Anything covered by the
// fingerprint needs a restart and is only reported.
func applyReload(running, next config.Config, params *runner.ParamSource, logger *slog.Logger) {
	p := params.Load()
	t := next.Tunables()
	p.MaxResults = t.MaxResults
	p.Depth = t.Depth
	p.MaxTokens = t.MaxTokens
	p.Temperature = t.Temperature
	p.SearchTimeout = t.SearchTimeout
	p.LLMTimeout = t.LLMTimeout
	params.Store(p)
	telemetry.SetLevel(t.LogLevel)
	logger.Info("config reloaded",
		"max_results", p.MaxResults, "depth", p.Depth,
		"max_tokens", p.MaxTokens, "temperature", p.Temperature,
		"search_timeout", p.SearchTimeout, "llm_timeout", p.LLMTimeout, "log_level", t.LogLevel)
	if next.Fingerprint() != running.Fingerprint() {
		logger.Warn("config change requires restart to take full effect",
			"running", running.Fingerprint(), "on_disk", next.Fingerprint())
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) int {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	return 1
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.Trim(strings.TrimSpace(line[eq+1:]), `"'`)
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
