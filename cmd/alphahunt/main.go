package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/joho/godotenv"

	"github.com/alphahunt-ai/alphahunt/internal/acp"
	"github.com/alphahunt-ai/alphahunt/internal/archive"
	"github.com/alphahunt-ai/alphahunt/internal/breaker"
	"github.com/alphahunt-ai/alphahunt/internal/broker"
	"github.com/alphahunt-ai/alphahunt/internal/config"
	"github.com/alphahunt-ai/alphahunt/internal/model"
	"github.com/alphahunt-ai/alphahunt/internal/orchestrator"
	"github.com/alphahunt-ai/alphahunt/internal/ratelimit"
	"github.com/alphahunt-ai/alphahunt/internal/reputation"
	"github.com/alphahunt-ai/alphahunt/internal/server"
	"github.com/alphahunt-ai/alphahunt/internal/statestore"
	"github.com/alphahunt-ai/alphahunt/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("ALPHAHUNT_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("alphahunt starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	// Durable state: reputation ledger plus the engine's round/event history,
	// flushed on a debounce interval and again at shutdown.
	manager := statestore.NewManager(logger, cfg.FlushInterval)
	ledger := reputation.NewLedger(cfg.DataDir, logger)
	manager.Register(ledger.Store())

	events := broker.New(logger)
	breakers := breaker.NewRegistry(logger)

	// Agent registry from configuration.
	registry := orchestrator.NewRegistry()
	for _, spec := range cfg.Agents {
		agent := orchestrator.NewHTTPAgent(spec.Key, model.AgentKind(spec.Kind),
			spec.Slot, spec.Price, spec.URL, nil)
		if err := registry.Register(agent); err != nil {
			return fmt.Errorf("register agent: %w", err)
		}
		logger.Info("agent registered", "key", spec.Key, "kind", spec.Kind,
			"slot", spec.Slot, "price", spec.Price)
	}

	orch := orchestrator.New(registry, breakers, ledger.Score, events, logger).
		WithCallTimeout(cfg.AgentCallTimeout).
		WithMetrics(metrics)

	// Optional SQLite archive for rounds beyond the in-memory window.
	var arch acp.Archiver
	if cfg.ArchivePath != "" {
		db, err := archive.Open(cfg.ArchivePath, logger)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		defer func() { _ = db.Close() }()
		arch = db
		logger.Info("round archive enabled", "path", cfg.ArchivePath)
	} else {
		logger.Info("round archive disabled (no ALPHAHUNT_ARCHIVE_PATH)")
	}

	engine := acp.NewEngine(cfg.DataDir, ledger, events, arch, logger).WithMetrics(metrics)
	for _, s := range engine.Stores() {
		manager.Register(s)
	}
	manager.Start(ctx)

	// Observability gauges over live state.
	if err := telemetry.RegisterGauges(
		breakers.OpenCount,
		manager.DirtyCount,
		engine.RoundCount,
		events.SubscriberCount,
	); err != nil {
		return fmt.Errorf("telemetry gauges: %w", err)
	}

	// Rate limiter: in-process token bucket, sized from the per-minute budget.
	var limiter ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = ratelimit.NewPerMinuteLimiter(cfg.RateLimitPerMinute)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"per_minute", cfg.RateLimitPerMinute)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		Orchestrator:        orch,
		Engine:              engine,
		Registry:            registry,
		Breakers:            breakers,
		Logger:              logger,
		Limiter:             limiter,
		Broker:              events,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Each phase gets its own timeout so early completion
	// doesn't steal budget from later phases. Order: (1) stop accepting new
	// HTTP requests and drain in-flight hunts (they may still settle rounds),
	// (2) stop the flush loop and write all dirty state to disk.
	slog.Info("alphahunt shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	flushStart := time.Now()
	manager.Stop()
	slog.Info("state flushed", "duration_ms", time.Since(flushStart).Milliseconds())

	return nil
}
