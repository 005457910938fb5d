package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

func endpointSource(url string, cfg map[string]any) domain.Source {
	return domain.Source{ID: "ep-1", Name: "api", Kind: domain.SourceEndpoint, URL: url, Config: cfg}
}

func TestEndpointFetchLatestMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"articles": []any{
					map[string]any{
						"uid":       "n-1",
						"headline":  "Manufacturing output beats expectations",
						"summary":   "Factory activity expanded for a third month.",
						"text":      "Full body of the article.",
						"timestamp": "2026-08-24T07:30:00Z",
						"permalink": "http://example.com/n-1",
						"tags":      []any{"economy", "manufacturing"},
					},
				},
			},
		})
	}))
	defer srv.Close()

	e := NewEndpoint(srv.Client(), nil, 0)
	got, err := e.FetchLatest(context.Background(), endpointSource(srv.URL, map[string]any{
		"auth":      map[string]any{"type": "bearer", "credentials": map[string]any{"token": "sekrit"}},
		"data_path": "data.articles",
		"mapping": map[string]any{
			"id":           "uid",
			"title":        "headline",
			"description":  "summary",
			"body":         "text",
			"published_at": "timestamp",
			"url":          "permalink",
			"tags":         "tags",
		},
	}))
	require.NoError(t, err)
	require.Len(t, got, 1)

	it := got[0]
	assert.Equal(t, "n-1", it.ExternalID)
	assert.Equal(t, "Manufacturing output beats expectations", it.Title)
	assert.Equal(t, "Factory activity expanded for a third month.", it.Description)
	assert.Equal(t, "Full body of the article.", it.Body)
	assert.Equal(t, time.Date(2026, 8, 24, 7, 30, 0, 0, time.UTC), it.PublishedAt)
	assert.Equal(t, "http://example.com/n-1", it.Metadata["url"])
	assert.Equal(t, []string{"economy", "manufacturing"}, it.Metadata["categories"])
}

func TestEndpointFetchLatestConventionalFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []any{
				map[string]any{
					"id":           "c-1",
					"title":        "Retail sales rise in July figures",
					"description":  "Consumers kept spending.",
					"published_at": "2026-08-20T10:00:00Z",
				},
			},
		})
	}))
	defer srv.Close()

	e := NewEndpoint(srv.Client(), nil, 0)
	got, err := e.FetchLatest(context.Background(), endpointSource(srv.URL, nil))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c-1", got[0].ExternalID)
	assert.Equal(t, "Retail sales rise in July figures", got[0].Title)
}

func TestEndpointFetchLatestPagePagination(t *testing.T) {
	var pagesServed []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pagesServed = append(pagesServed, page)
		items := []any{}
		if page == "1" || page == "2" {
			items = append(items, map[string]any{
				"id":           "p-" + page,
				"title":        "Paged story number " + page + " arrives",
				"description":  "body of the paged story",
				"published_at": "2026-08-24T0" + page + ":00:00Z",
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	}))
	defer srv.Close()

	e := NewEndpoint(srv.Client(), nil, 0)
	got, err := e.FetchLatest(context.Background(), endpointSource(srv.URL, map[string]any{
		"pagination": map[string]any{"type": "page", "page_size": 1, "max_pages": 5},
	}))
	require.NoError(t, err)
	assert.Len(t, got, 2)
	// the empty third page stops the walk before max_pages
	assert.Equal(t, []string{"1", "2", "3"}, pagesServed)
}

func TestEndpointFetchLatestCursorPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		resp := map[string]any{"items": []any{}}
		switch cursor {
		case "":
			resp["items"] = []any{map[string]any{
				"id": "r-1", "title": "First cursor page story here",
				"description": "x", "published_at": "2026-08-24T01:00:00Z",
			}}
			resp["next_cursor"] = "tok-2"
		case "tok-2":
			resp["items"] = []any{map[string]any{
				"id": "r-2", "title": "Second cursor page story here",
				"description": "x", "published_at": "2026-08-24T02:00:00Z",
			}}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewEndpoint(srv.Client(), nil, 0)
	got, err := e.FetchLatest(context.Background(), endpointSource(srv.URL, map[string]any{
		"pagination": map[string]any{"type": "cursor", "max_pages": 5},
	}))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestEndpointFetchLatestStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{status: http.StatusTooManyRequests, want: domain.ErrUpstreamRateLimit},
		{status: http.StatusUnauthorized, want: domain.ErrAuthRejected},
		{status: http.StatusBadGateway, want: domain.ErrUpstreamTimeout},
		{status: http.StatusNotFound, want: domain.ErrParse},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			e := NewEndpoint(srv.Client(), nil, 0)
			_, err := e.FetchLatest(context.Background(), endpointSource(srv.URL, nil))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestEndpointFetchLatestBadDataPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"stuff": []any{}})
	}))
	defer srv.Close()

	e := NewEndpoint(srv.Client(), nil, 0)
	_, err := e.FetchLatest(context.Background(), endpointSource(srv.URL, map[string]any{
		"data_path": "missing.path",
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrParse))
}

func TestEndpointRateLimitFromConfig(t *testing.T) {
	e := NewEndpoint(http.DefaultClient, nil, 0)
	src := endpointSource("http://x", map[string]any{
		"rate_limit": map[string]any{"requests": 5, "period_ms": 2000},
	})
	requests, period, ok := e.RateLimit(src)
	assert.True(t, ok)
	assert.Equal(t, 5, requests)
	assert.Equal(t, 2*time.Second, period)

	requests, period, ok = e.RateLimit(endpointSource("http://x", nil))
	assert.True(t, ok)
	assert.Equal(t, 10, requests)
	assert.Equal(t, time.Minute, period)
}
