package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/pkg/textx"
)

// defaultRemoveSelectors strips boilerplate and common ad containers from
// extracted article bodies.
var defaultRemoveSelectors = []string{
	"script", "style", "nav", "footer", "header", "aside", "iframe",
	".ad", ".ads", ".advertisement", ".sponsored", ".newsletter", ".related",
	".share", ".comments", ".cookie-banner",
}

// defaultContentSelectors locate the main content region when the source
// does not configure its own.
var defaultContentSelectors = []string{"article", "main", ".article-body", ".post-content", ".entry-content"}

// Syndicated fetches and normalizes web feeds (RSS/Atom), optionally
// extracting the full article body from each entry's page.
type Syndicated struct {
	parser *gofeed.Parser
	http   *http.Client
	cache  domain.Cache
	ttl    time.Duration
}

// NewSyndicated constructs the adapter.
func NewSyndicated(httpClient *http.Client, cache domain.Cache, cacheTTL time.Duration) *Syndicated {
	p := gofeed.NewParser()
	p.Client = httpClient
	return &Syndicated{parser: p, http: httpClient, cache: cache, ttl: cacheTTL}
}

// Kind implements Adapter.
func (s *Syndicated) Kind() domain.SourceKind { return domain.SourceSyndicated }

// RateLimit implements Adapter; syndicated feeds get a modest default
// bucket to stay polite with publishers.
func (s *Syndicated) RateLimit(domain.Source) (int, time.Duration, bool) {
	return 10, time.Minute, true
}

// Validate implements Adapter.
func (s *Syndicated) Validate(it domain.RawItem) bool { return validateItem(it) }

// FetchLatest implements Adapter.
func (s *Syndicated) FetchLatest(ctx context.Context, src domain.Source) ([]domain.RawItem, error) {
	var cfg SyndicatedConfig
	if err := DecodeConfig(src.Config, &cfg); err != nil {
		return nil, err
	}
	return cachedFetch(ctx, s.cache, src, s.ttl, func() ([]domain.RawItem, error) {
		feed, err := s.parser.ParseURLWithContext(src.URL, ctx)
		if err != nil {
			return nil, classifyFeedErr(err)
		}
		items := make([]domain.RawItem, 0, len(feed.Items))
		for _, entry := range feed.Items {
			it := feedEntryToItem(src.ID, entry)
			if cfg.ExtractFullContent {
				if body := s.extractArticle(ctx, entry.Link, cfg); body != "" {
					it.Body = body
				}
			}
			items = append(items, it)
		}
		items = sinceWatermark(items, src.LastFetchedAt, cfg.ItemCap(20))
		items = applyKeywordFilters(items, cfg.FilterKeywords, cfg.ExcludeKeywords)
		return capItems(items, cfg.ItemCap(20)), nil
	})
}

// feedEntryToItem converts one gofeed entry into a raw item.
func feedEntryToItem(sourceID string, entry *gofeed.Item) domain.RawItem {
	extID := entry.GUID
	if extID == "" {
		extID = entry.Link
	}
	published := time.Now().UTC()
	if entry.PublishedParsed != nil {
		published = entry.PublishedParsed.UTC()
	} else if entry.UpdatedParsed != nil {
		published = entry.UpdatedParsed.UTC()
	}
	meta := map[string]any{"url": entry.Link}
	if len(entry.Categories) > 0 {
		meta["categories"] = entry.Categories
	}
	if entry.Author != nil {
		meta["author"] = entry.Author.Name
	}
	return domain.RawItem{
		SourceID:    sourceID,
		ExternalID:  extID,
		Title:       textx.SanitizeText(entry.Title),
		Description: textx.Normalize(stripHTML(entry.Description), 2000),
		Body:        textx.Normalize(stripHTML(entry.Content), 0),
		PublishedAt: published,
		Metadata:    meta,
		Status:      domain.ItemPending,
	}
}

// extractArticle fetches the entry page and selects the configured
// content regions. Best-effort: any failure returns "" and the feed's own
// description/content stands.
func (s *Syndicated) extractArticle(ctx context.Context, pageURL string, cfg SyndicatedConfig) string {
	if pageURL == "" {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	resp, err := s.http.Do(req)
	if err != nil {
		slog.Debug("article fetch failed", slog.String("url", pageURL), slog.Any("error", err))
		return ""
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return ""
	}
	remove := defaultRemoveSelectors
	if len(cfg.RemoveSelectors) > 0 {
		remove = append(remove, cfg.RemoveSelectors...)
	}
	for _, sel := range remove {
		doc.Find(sel).Remove()
	}
	selectors := cfg.ContentSelectors
	if len(selectors) == 0 {
		selectors = defaultContentSelectors
	}
	for _, sel := range selectors {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if text := textx.Normalize(node.Text(), 0); len(text) > 200 {
				return text
			}
		}
	}
	return ""
}

// stripHTML flattens markup in feed-provided description/content fields.
func stripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

// classifyFeedErr maps gofeed errors onto the domain taxonomy.
func classifyFeedErr(err error) error {
	var httpErr gofeed.HTTPError
	if ok := asHTTPError(err, &httpErr); ok {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("op=syndicated.fetch: %w: %v", domain.ErrUpstreamRateLimit, err)
		case httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("op=syndicated.fetch: %w: %v", domain.ErrAuthRejected, err)
		case httpErr.StatusCode >= 500:
			return fmt.Errorf("op=syndicated.fetch: %w: %v", domain.ErrUpstreamTimeout, err)
		default:
			return fmt.Errorf("op=syndicated.fetch: %w: %v", domain.ErrParse, err)
		}
	}
	if strings.Contains(err.Error(), "Failed to detect feed type") {
		return fmt.Errorf("op=syndicated.fetch: %w: %v", domain.ErrParse, err)
	}
	return fmt.Errorf("op=syndicated.fetch: %w: %v", domain.ErrUpstreamTimeout, err)
}

func asHTTPError(err error, target *gofeed.HTTPError) bool {
	switch he := err.(type) {
	case gofeed.HTTPError:
		*target = he
		return true
	case *gofeed.HTTPError:
		*target = *he
		return true
	}
	return false
}
