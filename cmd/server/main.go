// Command server exposes the ops HTTP API: probes, metrics, queue
// statistics, manual triggers and the latest-analysis read model. It
// also owns schema migration and source seeding at startup.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/feedpulse/internal/adapter/cache/rediscache"
	"github.com/fairyhunter13/feedpulse/internal/adapter/queue/pgqueue"
	"github.com/fairyhunter13/feedpulse/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/feedpulse/internal/app"
	"github.com/fairyhunter13/feedpulse/internal/config"
	"github.com/fairyhunter13/feedpulse/internal/observability"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	seedPath := flag.String("seed", "configs/sources.yaml", "source seed file; empty or missing file skips seeding")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.SetupLogger(cfg)
	observability.InitMetrics()

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		return fmt.Errorf("op=server.run: %w", err)
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
		return fmt.Errorf("op=server.run: %w", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(rootCtx, pool); err != nil {
		return fmt.Errorf("op=server.run: %w", err)
	}

	sources := postgres.NewSourceRepo(pool)
	analyses := postgres.NewAnalysisRepo(pool)
	queue := pgqueue.New(pool, cfg.JobTTL)

	cache := rediscache.New(cfg.RedisAddr, cfg.RedisPassword)
	if err := cache.Ping(rootCtx); err != nil {
		slog.Warn("redis unreachable at startup, caching degrades to misses", slog.Any("error", err))
	}

	if *seedPath != "" {
		if err := seedSources(rootCtx, sources, *seedPath); err != nil {
			return fmt.Errorf("op=server.run: %w", err)
		}
	}

	server := &http.Server{
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

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("op=server.run: %w", err)
	case <-rootCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("op=server.run: shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
