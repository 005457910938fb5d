package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// RouterConfig tunes the ops HTTP surface.
type RouterConfig struct {
	CORSAllowOrigins string
	RateLimitPerMin  int
}

// RouterDeps carries the ports the HTTP handlers read and poke.
type RouterDeps struct {
	Queue    domain.Queue
	Sources  domain.SourceRepository
	Analyses domain.AnalysisRepository
	Cache    domain.Cache
	// Ready reports backend health for the readiness probe.
	Ready func(ctx context.Context) error
}

// NewRouter builds the ops router: health and readiness probes, queue
// statistics, manual refresh and rebuild triggers, and the latest
// analysis read model.
func NewRouter(deps RouterDeps, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{cfg.CORSAllowOrigins},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	if cfg.RateLimitPerMin > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(req.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable", "error": err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/queue/stats", func(w http.ResponseWriter, req *http.Request) {
			stats, err := deps.Queue.Stats(req.Context())
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, stats)
		})

		// force a fetch outside the freshness schedule; the queue dedup
		// makes repeated calls harmless
		r.Post("/sources/{id}/refresh", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			src, err := deps.Sources.Get(req.Context(), id)
			if err != nil {
				writeErr(w, err)
				return
			}
			if deps.Cache != nil {
				if err := deps.Cache.InvalidateTag(req.Context(), "source:"+src.ID); err != nil {
					slog.Debug("refresh cache invalidation failed", slog.Any("error", err))
				}
			}
			jobID, err := deps.Queue.Enqueue(req.Context(), domain.JobFeedFetch,
				map[string]any{"source_ref": src.ID}, domain.WithPriority(1))
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
		})

		r.Get("/analyses/latest", func(w http.ResponseWriter, req *http.Request) {
			a, err := deps.Analyses.Latest(req.Context())
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, analysisView(a))
		})

		r.Post("/admin/analyses/{date}/rebuild", func(w http.ResponseWriter, req *http.Request) {
			date := chi.URLParam(req, "date")
			if _, err := time.Parse("2006-01-02", date); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
				return
			}
			jobID, err := deps.Queue.Enqueue(req.Context(), domain.JobDailyAnalysis,
				map[string]any{"date": date}, domain.WithPriority(1))
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
		})
	})

	return r
}

func analysisView(a domain.DailyAnalysis) map[string]any {
	return map[string]any{
		"id":               a.ID,
		"date":             a.Date,
		"market_sentiment": a.MarketSentiment,
		"key_themes":       a.KeyThemes,
		"summary":          a.Summary,
		"confidence":       a.Confidence,
		"sources_analyzed": a.SourcesAnalyzed,
		"created_at":       a.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", slog.Any("error", err))
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
