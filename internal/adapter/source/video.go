package source

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/pkg/textx"
)

// Video fetches the latest uploads of a video channel through a
// YouTube-style data API: channel -> uploads playlist -> video details.
type Video struct {
	http           *http.Client
	apiBase        string
	apiKey         string
	transcriptBase string
	cache          domain.Cache
	ttl            time.Duration
}

const defaultTranscriptBase = "https://video.google.com/timedtext"

// NewVideo constructs the adapter. apiKey is the platform default; a
// per-source api_key in the config overrides it.
func NewVideo(httpClient *http.Client, apiBase, apiKey string, cache domain.Cache, cacheTTL time.Duration) *Video {
	return &Video{
		http:           httpClient,
		apiBase:        strings.TrimRight(apiBase, "/"),
		apiKey:         apiKey,
		transcriptBase: defaultTranscriptBase,
		cache:          cache,
		ttl:            cacheTTL,
	}
}

// Kind implements Adapter.
func (v *Video) Kind() domain.SourceKind { return domain.SourceVideo }

// RateLimit implements Adapter. Video APIs meter by quota units, so the
// bucket is tighter than the feed adapters.
func (v *Video) RateLimit(domain.Source) (int, time.Duration, bool) {
	return 4, time.Minute, true
}

// Validate implements Adapter.
func (v *Video) Validate(it domain.RawItem) bool {
	if !validateItem(it) {
		return false
	}
	id, _ := it.Metadata["video_id"].(string)
	return id != ""
}

// FetchLatest implements Adapter.
func (v *Video) FetchLatest(ctx context.Context, src domain.Source) ([]domain.RawItem, error) {
	var cfg VideoConfig
	if err := DecodeConfig(src.Config, &cfg); err != nil {
		return nil, err
	}
	key := cfg.APIKey
	if key == "" {
		key = v.apiKey
	}
	if key == "" {
		return nil, fmt.Errorf("op=video.fetch: %w: no api key for source %s", domain.ErrAuthRejected, src.ID)
	}
	channelID := channelIDFromURL(src.URL)
	if channelID == "" {
		return nil, fmt.Errorf("op=video.fetch: %w: cannot derive channel id from %q", domain.ErrInvalidArgument, src.URL)
	}
	limit := cfg.MaxVideos
	if limit == 0 {
		limit = cfg.ItemCap(15)
	}
	return cachedFetch(ctx, v.cache, src, v.ttl, func() ([]domain.RawItem, error) {
		uploads, err := v.uploadsPlaylist(ctx, channelID, key)
		if err != nil {
			return nil, err
		}
		ids, err := v.playlistVideoIDs(ctx, uploads, limit, key)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		videos, err := v.videoDetails(ctx, ids, key)
		if err != nil {
			return nil, err
		}
		items := make([]domain.RawItem, 0, len(videos))
		for _, vid := range videos {
			if cfg.MinViews > 0 && vid.views < cfg.MinViews {
				continue
			}
			if cfg.MinDuration > 0 && vid.duration < cfg.MinDuration {
				continue
			}
			if cfg.MaxDuration > 0 && vid.duration > cfg.MaxDuration {
				continue
			}
			var body string
			if cfg.FetchTranscripts {
				body = v.transcript(ctx, vid.id)
			}
			items = append(items, domain.RawItem{
				SourceID:    src.ID,
				ExternalID:  vid.id,
				Title:       textx.SanitizeText(vid.title),
				Description: textx.Normalize(vid.description, 2000),
				Body:        body,
				PublishedAt: vid.publishedAt,
				Metadata: map[string]any{
					"video_id":         vid.id,
					"url":              "https://www.youtube.com/watch?v=" + vid.id,
					"duration_seconds": vid.duration,
					"view_count":       vid.views,
					"channel_id":       channelID,
				},
				Status: domain.ItemPending,
			})
		}
		items = sinceWatermark(items, src.LastFetchedAt, limit)
		items = applyKeywordFilters(items, cfg.FilterKeywords, cfg.ExcludeKeywords)
		return capItems(items, limit), nil
	})
}

type videoDetail struct {
	id          string
	title       string
	description string
	publishedAt time.Time
	duration    int
	views       int
}

// uploadsPlaylist resolves the channel's uploads playlist id.
func (v *Video) uploadsPlaylist(ctx context.Context, channelID, key string) (string, error) {
	var resp struct {
		Items []struct {
			ContentDetails struct {
				RelatedPlaylists struct {
					Uploads string `json:"uploads"`
				} `json:"relatedPlaylists"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	q := url.Values{"part": {"contentDetails"}, "id": {channelID}, "key": {key}}
	if err := v.getJSON(ctx, "/channels", q, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails.RelatedPlaylists.Uploads == "" {
		return "", fmt.Errorf("op=video.fetch: %w: channel %s has no uploads playlist", domain.ErrNotFound, channelID)
	}
	return resp.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

// playlistVideoIDs lists the newest video ids on the playlist.
func (v *Video) playlistVideoIDs(ctx context.Context, playlistID string, limit int, key string) ([]string, error) {
	var resp struct {
		Items []struct {
			ContentDetails struct {
				VideoID string `json:"videoId"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	if limit > 50 {
		limit = 50
	}
	q := url.Values{
		"part":       {"contentDetails"},
		"playlistId": {playlistID},
		"maxResults": {strconv.Itoa(limit)},
		"key":        {key},
	}
	if err := v.getJSON(ctx, "/playlistItems", q, &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.ContentDetails.VideoID != "" {
			ids = append(ids, it.ContentDetails.VideoID)
		}
	}
	return ids, nil
}

// videoDetails hydrates duration, view count and snippet for a batch of
// video ids.
func (v *Video) videoDetails(ctx context.Context, ids []string, key string) ([]videoDetail, error) {
	var resp struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title       string `json:"title"`
				Description string `json:"description"`
				PublishedAt string `json:"publishedAt"`
			} `json:"snippet"`
			ContentDetails struct {
				Duration string `json:"duration"`
			} `json:"contentDetails"`
			Statistics struct {
				ViewCount string `json:"viewCount"`
			} `json:"statistics"`
		} `json:"items"`
	}
	q := url.Values{
		"part": {"snippet,contentDetails,statistics"},
		"id":   {strings.Join(ids, ",")},
		"key":  {key},
	}
	if err := v.getJSON(ctx, "/videos", q, &resp); err != nil {
		return nil, err
	}
	out := make([]videoDetail, 0, len(resp.Items))
	for _, it := range resp.Items {
		published, err := time.Parse(time.RFC3339, it.Snippet.PublishedAt)
		if err != nil {
			published = time.Now().UTC()
		}
		views, _ := strconv.Atoi(it.Statistics.ViewCount)
		out = append(out, videoDetail{
			id:          it.ID,
			title:       it.Snippet.Title,
			description: it.Snippet.Description,
			publishedAt: published.UTC(),
			duration:    parseISODuration(it.ContentDetails.Duration),
			views:       views,
		})
	}
	return out, nil
}

// getJSON performs one API call and decodes the body, mapping status
// codes onto the domain taxonomy.
func (v *Video) getJSON(ctx context.Context, path string, q url.Values, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.apiBase+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("op=video.fetch: %w: %v", domain.ErrInternal, err)
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return fmt.Errorf("op=video.fetch: %w: %v", domain.ErrUpstreamTimeout, err)
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("op=video.fetch: %w: status %d", domain.ErrUpstreamRateLimit, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("op=video.fetch: %w: status %d", domain.ErrAuthRejected, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("op=video.fetch: %w: status %d", domain.ErrUpstreamTimeout, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("op=video.fetch: %w: status %d", domain.ErrParse, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("op=video.fetch: %w: %v", domain.ErrParse, err)
	}
	return nil
}

// transcript fetches the video's caption track from a timedtext-style
// endpoint. Best effort: any failure yields an empty body and the item
// proceeds on title+description alone.
func (v *Video) transcript(ctx context.Context, videoID string) string {
	q := url.Values{"lang": {"en"}, "v": {videoID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.transcriptBase+"?"+q.Encode(), nil)
	if err != nil {
		return ""
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return ""
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var doc struct {
		Texts []struct {
			Value string `xml:",chardata"`
		} `xml:"text"`
	}
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return ""
	}
	parts := make([]string, 0, len(doc.Texts))
	for _, t := range doc.Texts {
		if s := strings.TrimSpace(t.Value); s != "" {
			parts = append(parts, s)
		}
	}
	return textx.Normalize(strings.Join(parts, " "), 20000)
}

// channelIDFromURL accepts either a bare channel id or a channel URL and
// returns the id segment.
func channelIDFromURL(raw string) string {
	if !strings.Contains(raw, "/") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// parseISODuration converts an ISO-8601 duration (PT1H2M3S) into
// seconds. Unparseable input yields zero.
func parseISODuration(raw string) int {
	raw = strings.TrimPrefix(raw, "PT")
	total, num := 0, 0
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
		case r == 'H':
			total += num * 3600
			num = 0
		case r == 'M':
			total += num * 60
			num = 0
		case r == 'S':
			total += num
			num = 0
		default:
			return 0
		}
	}
	return total
}
