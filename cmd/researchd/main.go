// Command researchd is the deep-research orchestrator's HTTP entrypoint:
// it wires config, storage, the LLM router, search providers, the fetch
// layer, and the eight-node pipeline into a running Driver, then serves
// the REST/WebSocket API until an OS signal asks it to stop.
//
// Usage:
//
//	researchd serve    # start the HTTP server
//	researchd health    # query a running server's /health endpoint
//	researchd version   # print build information
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/deepresearch/orchestrator/api"
	"github.com/deepresearch/orchestrator/classify"
	"github.com/deepresearch/orchestrator/config"
	"github.com/deepresearch/orchestrator/fetch"
	"github.com/deepresearch/orchestrator/health"
	"github.com/deepresearch/orchestrator/internal/metrics"
	"github.com/deepresearch/orchestrator/internal/resilience"
	"github.com/deepresearch/orchestrator/internal/server"
	"github.com/deepresearch/orchestrator/internal/telemetry"
	"github.com/deepresearch/orchestrator/llm"
	"github.com/deepresearch/orchestrator/memory"
	"github.com/deepresearch/orchestrator/orchestrator"
	"github.com/deepresearch/orchestrator/pipeline"
	"github.com/deepresearch/orchestrator/search"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "health":
		runHealthCheck(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	playbookDir := fs.String("playbooks", "", "directory of domain playbook YAML files")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("starting researchd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	db, err := openDatabase(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	store, err := memory.NewStore(db, logger)
	if err != nil {
		logger.Fatal("failed to initialize memory store", zap.Error(err))
	}

	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig(), logger)
	limiter := resilience.NewRateLimiter(4)

	collector := metrics.NewCollector("researchd", logger)
	tracer := telemetry.Tracer("researchd")

	vectors := memory.NewInMemoryVectorStore(logger)
	mem := memory.New(vectors, store)
	learner := memory.NewLearner(store, mem, memory.EmbedText, logger)

	router := buildLLMRouter(cfg, logger, collector, tracer)

	classifier := classify.NewClassifier(router, logger)
	playbooks := classify.NewPlaybookLoader(store, logger)
	if *playbookDir != "" {
		if err := playbooks.LoadDir(*playbookDir); err != nil {
			logger.Warn("failed to load playbook directory, using built-in defaults",
				zap.String("dir", *playbookDir), zap.Error(err))
		}
	}

	fetcher := fetch.NewFetcher(fetch.NewChromeDPDriver(fetch.DefaultStealthConfig(), logger), fetch.DefaultStealthConfig(), logger, fetch.WithFetchMetrics(collector))

	selector := buildSearchSelector(cfg, store, fetcher, breakers, limiter, collector, tracer, logger)

	nodes := orchestrator.Nodes{
		Clarify:    pipeline.NewClarifyNode(),
		Plan:       pipeline.NewPlanNode(classifier, playbooks, mem, memory.EmbedText, logger),
		Collect:    pipeline.NewCollectNode(selector, fetcher, store, 5, 10, logger),
		Process:    pipeline.NewProcessNode(router, llm.TierLocalFast, logger),
		Analyze:    pipeline.NewAnalyzeNode(logger),
		Verify:     pipeline.NewVerifyNode(fetcher, router, llm.TierLocalFast, logger),
		Evaluate:   pipeline.NewEvaluateNode(logger),
		Synthesize: pipeline.NewSynthesizeNode(router, llm.TierLocalPowerful, time.Now, logger),
	}

	approval := api.NewApprovalGate()
	driver := orchestrator.NewDriver(nodes, approval, logger,
		orchestrator.WithLearner(learner),
		orchestrator.WithMetrics(collector),
		orchestrator.WithTracer(tracer),
	)
	hub := api.NewStreamHub()

	registry := health.NewRegistry()
	for _, p := range health.StandardProbes(cfg, pingOllama(cfg), *playbookDir) {
		registry.Register(p)
	}

	routes := api.Routes{
		Research: api.NewResearchHandler(driver, approval, hub, store, logger),
		Health:   api.NewHealthHandler(registry, logger),
		Crawl:    api.NewCrawlHandler(fetcher, logger),
		Stream: api.NewStreamHandler(hub, func(id string) bool {
			_, ok := driver.Get(id)
			return ok
		}, logger),
	}

	var authMiddleware func(http.Handler) http.Handler
	if cfg.Server.AuthEnabled {
		authMiddleware = api.RequireBearerAuth([]byte(cfg.Server.AuthSecret), logger)
	}

	mux := api.NewMux(routes, authMiddleware, collector)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	mgr := server.NewManager(mux, server.DefaultConfig(addr), logger)
	if err := mgr.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-mgr.Errors():
		logger.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("researchd stopped")
}

// buildLLMRouter registers the two local Ollama tiers and, when an
// Anthropic API key is configured, the cloud-best tier backed by it.
func buildLLMRouter(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector, tracer trace.Tracer) *llm.Router {
	backends := map[llm.Tier][]llm.Backend{
		llm.TierLocalFast:     {llm.NewOllamaBackend(cfg.Ollama.BaseURL, "llama3.2", logger)},
		llm.TierLocalPowerful: {llm.NewOllamaBackend(cfg.Ollama.BaseURL, "llama3.1:70b", logger)},
	}
	if cfg.Providers.AnthropicAPIKey != "" {
		backends[llm.TierCloudBest] = []llm.Backend{llm.NewAnthropicBackend(cfg.Providers.AnthropicAPIKey, "", logger)}
	}
	router := llm.NewRouter(backends, logger, llm.WithMetrics(collector), llm.WithTracer(tracer))
	router.SetBudget(0)
	return router
}

// buildSearchSelector registers every provider with a configured
// credential, plus the crawler provider. The crawler's seed function
// returns no URLs, so it contributes no entities to a session.
func buildSearchSelector(cfg *config.Config, store *memory.Store, fetcher *fetch.Fetcher, breakers *resilience.BreakerRegistry, limiter *resilience.RateLimiter, collector *metrics.Collector, tracer trace.Tracer, logger *zap.Logger) *search.Selector {
	selector := search.NewSelector(store, 4)

	instrument := func(p search.Provider) search.Provider { return search.Instrument(p, collector, tracer) }

	if cfg.Providers.TavilyAPIKey != "" {
		selector.Register(instrument(search.NewBaseProvider(search.NewTavilyProvider(cfg.Providers.TavilyAPIKey), breakers, limiter, store, logger)))
	}
	if cfg.Providers.BraveAPIKey != "" {
		selector.Register(instrument(search.NewBaseProvider(search.NewBraveProvider(cfg.Providers.BraveAPIKey), breakers, limiter, store, logger)))
	}
	if cfg.Providers.ExaAPIKey != "" {
		selector.Register(instrument(search.NewBaseProvider(search.NewExaProvider(cfg.Providers.ExaAPIKey), breakers, limiter, store, logger)))
	}
	if cfg.Providers.SemanticScholarAPIKey != "" {
		selector.Register(instrument(search.NewBaseProvider(search.NewSemanticScholarProvider(cfg.Providers.SemanticScholarAPIKey), breakers, limiter, store, logger)))
	}
	if cfg.Providers.UnpaywallEmail != "" {
		selector.Register(instrument(search.NewBaseProvider(search.NewUnpaywallProvider(cfg.Providers.UnpaywallEmail), breakers, limiter, store, logger)))
	}

	noSeeds := func(query string) []string { return nil }
	selector.Register(instrument(search.NewBaseProvider(search.NewCrawlerProvider(fetcher, noSeeds), breakers, limiter, store, logger)))

	return selector
}

// pingOllama builds the inference-backend liveness check StandardProbes
// requires: a real completion-less reachability check against the
// configured local endpoint.
func pingOllama(cfg *config.Config) func(ctx context.Context) error {
	backend := llm.NewOllamaBackend(cfg.Ollama.BaseURL, "llama3.2", nil)
	return func(ctx context.Context) error {
		if !backend.Available(ctx) {
			return fmt.Errorf("ollama backend at %s unreachable", cfg.Ollama.BaseURL)
		}
		return nil
	}
}

func openDatabase(dataDir string, logger *zap.Logger) (*gorm.DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := filepath.Join(dataDir, "orchestrator.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database at %s: %w", dsn, err)
	}
	logger.Info("database connected", zap.String("driver", "sqlite"), zap.String("path", dsn))
	return db, nil
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health/detailed")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("researchd %s\n", Version)
	fmt.Printf("  build time: %s\n", BuildTime)
	fmt.Printf("  git commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`researchd - deep research orchestrator

Usage:
  researchd <command> [options]

Commands:
  serve     Start the HTTP/WebSocket API server
  health    Check a running server's health endpoint
  version   Show version information
  help      Show this help message

Options for 'serve':
  --playbooks <dir>   Directory of domain playbook YAML files

Examples:
  researchd serve
  researchd serve --playbooks ./playbooks
  researchd health --addr http://localhost:8080`)
}

func initLogger(debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      debug,
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
