// Command worker runs the pipeline: the job queue executors, the
// freshness trigger and the stuck-job sweeper, plus a minimal ops
// endpoint for probes and metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/feedpulse/internal/adapter/ai"
	"github.com/fairyhunter13/feedpulse/internal/adapter/ai/fallback"
	aiopenai "github.com/fairyhunter13/feedpulse/internal/adapter/ai/openai"
	"github.com/fairyhunter13/feedpulse/internal/adapter/cache/rediscache"
	"github.com/fairyhunter13/feedpulse/internal/adapter/queue/pgqueue"
	"github.com/fairyhunter13/feedpulse/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/feedpulse/internal/adapter/source"
	"github.com/fairyhunter13/feedpulse/internal/adapter/transcriber/whisperapi"
	"github.com/fairyhunter13/feedpulse/internal/app"
	"github.com/fairyhunter13/feedpulse/internal/config"
	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/internal/observability"
	"github.com/fairyhunter13/feedpulse/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.SetupLogger(cfg)
	observability.InitMetrics()

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		return fmt.Errorf("op=worker.run: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown failed", slog.Any("error", err))
		}
	}()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(rootCtx, cfg.StoreURL)
	if err != nil {
		return fmt.Errorf("op=worker.run: %w", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(rootCtx, pool); err != nil {
		return fmt.Errorf("op=worker.run: %w", err)
	}

	sources := postgres.NewSourceRepo(pool)
	rawItems := postgres.NewRawItemRepo(pool)
	processed := postgres.NewProcessedItemRepo(pool)
	analyses := postgres.NewAnalysisRepo(pool)
	predictions := postgres.NewPredictionRepo(pool)
	comparisons := postgres.NewComparisonRepo(pool)
	queue := pgqueue.New(pool, cfg.JobTTL)

	cache := rediscache.New(cfg.RedisAddr, cfg.RedisPassword)
	if err := cache.Ping(rootCtx); err != nil {
		slog.Warn("redis unreachable at startup, caching degrades to misses", slog.Any("error", err))
	}

	var primary domain.AIClient
	if cfg.ModelEnabled() {
		primary = aiopenai.New(cfg.ModelAPIKey, cfg.ModelBaseURL, cfg.ModelName)
	} else {
		slog.Info("no model api key set, running on the lexical analyzer")
	}
	analyzer := ai.NewFailover(primary, fallback.New())

	httpClient := &http.Client{Timeout: cfg.FetchTimeout}
	registry := source.NewRegistry()
	registry.Register(source.NewSyndicated(httpClient, cache, cfg.FetchCacheTTL))
	registry.Register(source.NewAudio(httpClient, cache, cfg.FetchCacheTTL))
	registry.Register(source.NewVideo(httpClient, cfg.VideoAPIBase, cfg.VideoAPIKey, cache, cfg.FetchCacheTTL))
	registry.Register(source.NewEndpoint(httpClient, cache, cfg.FetchCacheTTL))
	registry.Register(source.NewAggregate(registry))

	transcriber := whisperapi.New(cfg.WhisperURL, cfg.WhisperTimeout)

	services := app.Services{
		Fetch:      usecase.NewFetchService(registry, sources, rawItems, queue),
		Process:    usecase.NewProcessService(rawItems, processed, analyzer, cfg.MaxModelChars),
		Transcribe: usecase.NewTranscribeService(rawItems, transcriber, queue),
		Synthesize: usecase.NewSynthesizeService(rawItems, processed, analyses, analyzer, queue, cache,
			cfg.MinDailyItems, cfg.MaxDailyItems, cfg.PredictDelay),
		Predict:  usecase.NewPredictService(analyses, predictions, analyzer),
		Evaluate: usecase.NewEvaluateService(predictions, analyses, comparisons),
	}
	handlers := app.BuildHandlers(services, sources, registry, app.NewRateLimiter())

	workerPool := app.NewPool(queue, handlers, app.PoolConfig{
		Concurrency:        cfg.WorkerConcurrency,
		Pacing:             cfg.WorkerPacing,
		IdleBackoffMin:     cfg.WorkerIdleBackoffMin,
		IdleBackoffMax:     cfg.WorkerIdleBackoffMax,
		JobDeadline:        cfg.JobDeadline,
		TranscribeDeadline: cfg.TranscribeDeadline,
		ShutdownGrace:      cfg.ShutdownGrace,
	})
	freshness := app.NewFreshness(sources, analyses, predictions, queue, app.FreshnessConfig{
		Tick:           cfg.FreshnessTick(),
		SourceFetchTTL: cfg.SourceFetchTTL,
		AnalysisTTL:    cfg.AnalysisTTL,
		PredictionsTTL: cfg.PredictionsTTL,
	})
	sweeper := app.NewSweeper(queue, cfg.SweepInterval, cfg.VisibilityTimeout())

	opsServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: app.NewRouter(app.RouterDeps{
			Queue:    queue,
			Sources:  sources,
			Analyses: analyses,
			Cache:    cache,
			Ready: func(ctx context.Context) error {
				return pool.Ping(ctx)
			},
		}, app.RouterConfig{CORSAllowOrigins: cfg.CORSAllowOrigins, RateLimitPerMin: cfg.RateLimitPerMin}),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}
	go func() {
		slog.Info("ops endpoint listening", slog.Int("port", cfg.Port))
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops endpoint failed", slog.Any("error", err))
		}
	}()

	go freshness.Run(rootCtx)
	go sweeper.Run(rootCtx)

	slog.Info("worker pool starting",
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.String("env", cfg.AppEnv),
	)
	done := make(chan struct{})
	go func() {
		workerPool.Run(rootCtx)
		close(done)
	}()

	<-rootCtx.Done()
	slog.Info("shutdown requested, draining", slog.Duration("grace", cfg.ShutdownGrace))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ops endpoint shutdown failed", slog.Any("error", err))
	}
	select {
	case <-done:
		slog.Info("worker pool drained")
	case <-shutdownCtx.Done():
		slog.Warn("shutdown grace elapsed with jobs in flight, sweeper will reclaim them")
	}
	return nil
}
