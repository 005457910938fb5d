package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

func testRouter(deps RouterDeps) http.Handler {
	return NewRouter(deps, RouterConfig{CORSAllowOrigins: "*", RateLimitPerMin: 0})
}

func TestRouterHealthz(t *testing.T) {
	r := testRouter(RouterDeps{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		r := testRouter(RouterDeps{Ready: func(context.Context) error { return nil }})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
	t.Run("backend down", func(t *testing.T) {
		r := testRouter(RouterDeps{Ready: func(context.Context) error { return errors.New("pg down") }})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestRouterQueueStats(t *testing.T) {
	q := newScriptQueue()
	r := testRouter(RouterDeps{Queue: q})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queue/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRouterSourceRefresh(t *testing.T) {
	sources := &stubSources{active: []domain.Source{{ID: "s1", Active: true}}}
	queue := &captureQueue{}
	r := testRouter(RouterDeps{Queue: queue, Sources: sources})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sources/s1/refresh", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	fetches := queue.byKind(domain.JobFeedFetch)
	require.Len(t, fetches, 1)
	assert.Equal(t, "s1", fetches[0]["source_ref"])
	queue.mu.Lock()
	assert.Equal(t, 1, queue.jobs[0].Priority, "manual refresh is most urgent")
	queue.mu.Unlock()
}

func TestRouterSourceRefreshUnknownSource(t *testing.T) {
	r := testRouter(RouterDeps{Queue: &captureQueue{}, Sources: &stubSources{}})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sources/ghost/refresh", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterLatestAnalysis(t *testing.T) {
	latest := domain.DailyAnalysis{
		ID: "an-1", Date: "2026-08-24",
		MarketSentiment: domain.SentimentBullish,
		KeyThemes:       []string{"rates"},
		Confidence:      0.7,
		SourcesAnalyzed: 12,
		CreatedAt:       time.Now().UTC(),
	}
	r := testRouter(RouterDeps{Analyses: &stubAnalyses{latest: &latest}})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/analyses/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2026-08-24", body["date"])
	assert.Equal(t, "bullish", body["market_sentiment"])
	assert.Equal(t, float64(12), body["sources_analyzed"])
}

func TestRouterLatestAnalysisEmpty(t *testing.T) {
	r := testRouter(RouterDeps{Analyses: &stubAnalyses{}})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/analyses/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterRebuildAnalysis(t *testing.T) {
	queue := &captureQueue{}
	r := testRouter(RouterDeps{Queue: queue})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/analyses/2026-08-20/rebuild", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	jobs := queue.byKind(domain.JobDailyAnalysis)
	require.Len(t, jobs, 1)
	assert.Equal(t, "2026-08-20", jobs[0]["date"])
}

func TestRouterRebuildAnalysisBadDate(t *testing.T) {
	r := testRouter(RouterDeps{Queue: &captureQueue{}})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/analyses/yesterday/rebuild", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
