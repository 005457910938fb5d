package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

func videoAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/channels", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.URL.Query().Get("key"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []any{map[string]any{
				"contentDetails": map[string]any{
					"relatedPlaylists": map[string]any{"uploads": "UU123"},
				},
			}},
		})
	})
	mux.HandleFunc("/playlistItems", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "UU123", r.URL.Query().Get("playlistId"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []any{
				map[string]any{"contentDetails": map[string]any{"videoId": "vid-1"}},
				map[string]any{"contentDetails": map[string]any{"videoId": "vid-2"}},
			},
		})
	})
	mux.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []any{
				map[string]any{
					"id": "vid-1",
					"snippet": map[string]any{
						"title":       "Markets weekly wrap and outlook",
						"description": "A look at the week in markets.",
						"publishedAt": "2026-08-23T12:00:00Z",
					},
					"contentDetails": map[string]any{"duration": "PT25M30S"},
					"statistics":     map[string]any{"viewCount": "15000"},
				},
				map[string]any{
					"id": "vid-2",
					"snippet": map[string]any{
						"title":       "A tiny clip nobody watched yet",
						"description": "short",
						"publishedAt": "2026-08-23T13:00:00Z",
					},
					"contentDetails": map[string]any{"duration": "PT45S"},
					"statistics":     map[string]any{"viewCount": "12"},
				},
			},
		})
	})
	return httptest.NewServer(mux)
}

func TestVideoFetchLatest(t *testing.T) {
	srv := videoAPIServer(t)
	defer srv.Close()

	v := NewVideo(srv.Client(), srv.URL, "key-1", nil, 0)
	src := domain.Source{ID: "yt-1", Kind: domain.SourceVideo, URL: "UC-channel", Config: map[string]any{
		"min_views":    100,
		"min_duration": 60,
	}}
	got, err := v.FetchLatest(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, got, 1, "the short low-view clip is filtered out")

	it := got[0]
	assert.Equal(t, "vid-1", it.ExternalID)
	assert.Equal(t, "Markets weekly wrap and outlook", it.Title)
	assert.Equal(t, 25*60+30, it.Metadata["duration_seconds"])
	assert.Equal(t, 15000, it.Metadata["view_count"])
	assert.Equal(t, "https://www.youtube.com/watch?v=vid-1", it.Metadata["url"])
}

func TestVideoFetchLatestTranscripts(t *testing.T) {
	srv := videoAPIServer(t)
	defer srv.Close()

	tt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("v") != "vid-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`<transcript><text start="0">Welcome back</text><text start="2">to the markets wrap.</text></transcript>`))
	}))
	defer tt.Close()

	v := NewVideo(srv.Client(), srv.URL, "key-1", nil, 0)
	v.transcriptBase = tt.URL
	src := domain.Source{ID: "yt-1", Kind: domain.SourceVideo, URL: "UC-channel", Config: map[string]any{
		"fetch_transcripts": true,
	}}
	got, err := v.FetchLatest(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// newest first: vid-2 has no caption track, vid-1 does
	assert.Equal(t, "vid-2", got[0].ExternalID)
	assert.Empty(t, got[0].Body, "missing caption track is tolerated")
	assert.Equal(t, "vid-1", got[1].ExternalID)
	assert.Equal(t, "Welcome back to the markets wrap.", got[1].Body)
}

func TestVideoFetchLatestNoAPIKey(t *testing.T) {
	v := NewVideo(http.DefaultClient, "http://api", "", nil, 0)
	_, err := v.FetchLatest(context.Background(), domain.Source{ID: "yt", URL: "UC1", Config: nil})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAuthRejected))
}

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{raw: "PT25M30S", want: 1530},
		{raw: "PT1H2M3S", want: 3723},
		{raw: "PT45S", want: 45},
		{raw: "PT2H", want: 7200},
		{raw: "bogus", want: 0},
		{raw: "", want: 0},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, parseISODuration(tc.raw), "duration %q", tc.raw)
	}
}

func TestChannelIDFromURL(t *testing.T) {
	assert.Equal(t, "UC123", channelIDFromURL("UC123"))
	assert.Equal(t, "UC123", channelIDFromURL("https://www.youtube.com/channel/UC123"))
	assert.Equal(t, "somehandle", channelIDFromURL("https://www.youtube.com/somehandle"))
}
