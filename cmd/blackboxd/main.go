// Command blackboxd is the GPU inference control-plane daemon: it wires
// every subsystem together, starts the ambient metrics listener, and serves
// the primary HTTP surface until signaled to stop (spec.md §6 CLI surface).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"blackbox/internal/aggregator"
	"blackbox/internal/audit"
	"blackbox/internal/cache"
	"blackbox/internal/catalog"
	"blackbox/internal/config"
	"blackbox/internal/container"
	"blackbox/internal/httpapi"
	"blackbox/internal/lifecycle"
	"blackbox/internal/logger"
	"blackbox/internal/metrics"
	"blackbox/internal/optimizer"
	"blackbox/internal/probe"
	"blackbox/internal/registry"
	"blackbox/internal/scrape"
	"blackbox/internal/telemetry"
	"blackbox/internal/watchdog"
)

const defaultPort = 6767

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init(logger.Config{Level: "error", Output: "stdout", Format: "json"})
		logger.Fatal("failed to load configuration", "error", err)
	}

	logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	cfg.Daemon.Port = resolvePort(os.Args)

	log := logger.WithComponent("main")
	log.Info("starting blackboxd", "port", cfg.Daemon.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown error", "error", err)
		}
	}()

	auditLogger, err := audit.New(&cfg.Audit)
	if err != nil {
		log.Error("failed to initialize audit logger", "error", err)
		os.Exit(1)
	}
	audit.SetGlobal(auditLogger)
	defer auditLogger.Close()

	backend, err := cache.New(&cache.Options{
		Backend:         cfg.Cache.Driver,
		DefaultTTL:      cfg.Cache.DefaultTTL,
		MaxEntries:      10000,
		CleanupInterval: time.Minute,
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisDB:         cfg.Cache.RedisDB,
	})
	if err != nil {
		log.Error("failed to initialize cache backend", "error", err)
		os.Exit(1)
	}
	catalogCache := cache.NewCatalogCache(backend, cfg.Cache.DefaultTTL)

	prober := probe.New()
	driver := container.NewDriver(cfg.Daemon.UseSudoDocker)
	reg := registry.New(container.RegistryLister{Driver: driver})
	catalogClient := catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout)
	scrapeClient := scrape.NewClient()

	hfCacheHostDir := hfCacheDir(cfg.Daemon.BlackboxRoot)

	var metricsHandler *metrics.Metrics
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Init(cfg.Metrics.Namespace)
		go serveMetrics(ctx, cfg.Metrics.Port)
	}

	lifecycleManager := lifecycle.New(cfg, driver, catalogClient, catalogCache, reg, prober, hfCacheHostDir, metricsHandler)
	agg := aggregator.New(prober, scrapeClient, reg, cfg.Daemon.VLLMHost, metricsHandler)
	optimizerController := optimizer.New(reg, lifecycleManager, cfg.Daemon.ConfigDir, metricsHandler)

	watchdogInterval := cfg.Daemon.WatchdogInterval
	if watchdogInterval <= 0 {
		watchdogInterval = 5 * time.Second
	}
	healthWatchdog := watchdog.New(reg, cfg.Daemon.VLLMHost, watchdogInterval)
	go healthWatchdog.Run(ctx)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Daemon.Port)
	server := httpapi.NewServer(addr, cfg, agg, lifecycleManager, optimizerController, reg, metricsHandler)

	if err := server.Run(ctx); err != nil {
		log.Error("http server exited with error", "error", err)
		os.Exit(1)
	}

	log.Info("blackboxd stopped cleanly")
}

// resolvePort reads the CLI surface's single optional positional argument
// (spec.md §6): the listen port, default 6767.
func resolvePort(args []string) int {
	if len(args) < 2 {
		return defaultPort
	}
	port, err := strconv.Atoi(args[1])
	if err != nil || port <= 0 || port > 65535 {
		return defaultPort
	}
	return port
}

// hfCacheDir resolves the host path bind-mounted into every deployed
// container for the HF download cache, rooted under BLACKBOX_ROOT when set.
func hfCacheDir(blackboxRoot string) string {
	if blackboxRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ".cache/huggingface"
		}
		return home + "/.cache/huggingface"
	}
	return blackboxRoot + "/.cache/huggingface"
}

// serveMetrics runs the ambient Prometheus listener on its own port so a
// scrape can never perturb spec.md §4.11's closed primary route table.
func serveMetrics(ctx context.Context, port int) {
	log := logger.WithComponent("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: fmt.Sprintf("0.0.0.0:%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving ambient metrics", "port", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics listener exited with error", "error", err)
	}
}
