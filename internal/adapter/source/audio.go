package source

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// Audio fetches podcast feeds. Episodes arrive with an empty body; when
// transcription is enabled the fetch pipeline schedules a transcribe job
// instead of blocking on audio download here.
type Audio struct {
	parser *gofeed.Parser
	cache  domain.Cache
	ttl    time.Duration
}

// NewAudio constructs the adapter.
func NewAudio(httpClient *http.Client, cache domain.Cache, cacheTTL time.Duration) *Audio {
	p := gofeed.NewParser()
	p.Client = httpClient
	return &Audio{parser: p, cache: cache, ttl: cacheTTL}
}

// Kind implements Adapter.
func (a *Audio) Kind() domain.SourceKind { return domain.SourceAudio }

// RateLimit implements Adapter.
func (a *Audio) RateLimit(domain.Source) (int, time.Duration, bool) {
	return 6, time.Minute, true
}

// Validate implements Adapter. Episodes additionally need a playable
// audio URL.
func (a *Audio) Validate(it domain.RawItem) bool {
	if !validateItem(it) {
		return false
	}
	u, _ := it.Metadata["audio_url"].(string)
	return u != ""
}

// FetchLatest implements Adapter.
func (a *Audio) FetchLatest(ctx context.Context, src domain.Source) ([]domain.RawItem, error) {
	var cfg AudioConfig
	if err := DecodeConfig(src.Config, &cfg); err != nil {
		return nil, err
	}
	minDur, maxDur := cfg.Durations()
	return cachedFetch(ctx, a.cache, src, a.ttl, func() ([]domain.RawItem, error) {
		feed, err := a.parser.ParseURLWithContext(src.URL, ctx)
		if err != nil {
			return nil, classifyFeedErr(err)
		}
		items := make([]domain.RawItem, 0, len(feed.Items))
		for _, entry := range feed.Items {
			audioURL := enclosureAudioURL(entry)
			if audioURL == "" {
				continue
			}
			dur := episodeDuration(entry)
			if dur > 0 && (dur < minDur || dur > maxDur) {
				continue
			}
			it := feedEntryToItem(src.ID, entry)
			it.Body = "" // transcription fills this later
			it.Metadata["audio_url"] = audioURL
			it.Metadata["duration_seconds"] = dur
			it.Metadata["transcript_pending"] = cfg.ExtractTranscript
			items = append(items, it)
		}
		limit := cfg.MaxEpisodes
		if limit == 0 {
			limit = cfg.ItemCap(10)
		}
		items = sinceWatermark(items, src.LastFetchedAt, limit)
		items = applyKeywordFilters(items, cfg.FilterKeywords, cfg.ExcludeKeywords)
		return capItems(items, limit), nil
	})
}

// enclosureAudioURL finds the episode audio in the enclosures, falling
// back to any extension link that looks like audio.
func enclosureAudioURL(entry *gofeed.Item) string {
	for _, enc := range entry.Enclosures {
		if strings.HasPrefix(enc.Type, "audio/") && enc.URL != "" {
			return enc.URL
		}
	}
	for _, enc := range entry.Enclosures {
		if enc.URL != "" && looksLikeAudio(enc.URL) {
			return enc.URL
		}
	}
	if entry.Link != "" && looksLikeAudio(entry.Link) {
		return entry.Link
	}
	return ""
}

func looksLikeAudio(u string) bool {
	lower := strings.ToLower(u)
	for _, ext := range []string{".mp3", ".m4a", ".ogg", ".wav", ".aac", ".flac"} {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

// episodeDuration reads the itunes duration extension; supports plain
// seconds and HH:MM:SS / MM:SS forms. Zero means unknown.
func episodeDuration(entry *gofeed.Item) int {
	if entry.ITunesExt == nil || entry.ITunesExt.Duration == "" {
		return 0
	}
	raw := strings.TrimSpace(entry.ITunesExt.Duration)
	if !strings.Contains(raw, ":") {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0
		}
		return n
	}
	parts := strings.Split(raw, ":")
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return total
}
