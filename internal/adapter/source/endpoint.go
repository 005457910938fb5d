package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/pkg/textx"
)

// Endpoint fetches arbitrary JSON APIs described entirely by source
// config: method, auth, pagination and a field mapping onto raw items.
type Endpoint struct {
	http  *http.Client
	cache domain.Cache
	ttl   time.Duration
}

// NewEndpoint constructs the adapter.
func NewEndpoint(httpClient *http.Client, cache domain.Cache, cacheTTL time.Duration) *Endpoint {
	return &Endpoint{http: httpClient, cache: cache, ttl: cacheTTL}
}

// Kind implements Adapter.
func (e *Endpoint) Kind() domain.SourceKind { return domain.SourceEndpoint }

// RateLimit implements Adapter; the bucket comes from the source config
// when declared, otherwise a conservative default.
func (e *Endpoint) RateLimit(src domain.Source) (int, time.Duration, bool) {
	var cfg EndpointConfig
	if err := DecodeConfig(src.Config, &cfg); err == nil && cfg.RateLimit.Requests > 0 {
		period := time.Duration(cfg.RateLimit.PeriodMS) * time.Millisecond
		if period <= 0 {
			period = time.Minute
		}
		return cfg.RateLimit.Requests, period, true
	}
	return 10, time.Minute, true
}

// Validate implements Adapter.
func (e *Endpoint) Validate(it domain.RawItem) bool { return validateItem(it) }

// FetchLatest implements Adapter.
func (e *Endpoint) FetchLatest(ctx context.Context, src domain.Source) ([]domain.RawItem, error) {
	var cfg EndpointConfig
	if err := DecodeConfig(src.Config, &cfg); err != nil {
		return nil, err
	}
	return cachedFetch(ctx, e.cache, src, e.ttl, func() ([]domain.RawItem, error) {
		items, err := e.fetchPages(ctx, src, cfg)
		if err != nil {
			return nil, err
		}
		items = sinceWatermark(items, src.LastFetchedAt, cfg.ItemCap(50))
		items = applyKeywordFilters(items, cfg.FilterKeywords, cfg.ExcludeKeywords)
		return capItems(items, cfg.ItemCap(50)), nil
	})
}

// fetchPages walks the endpoint's pagination and collects mapped items.
func (e *Endpoint) fetchPages(ctx context.Context, src domain.Source, cfg EndpointConfig) ([]domain.RawItem, error) {
	maxPages := cfg.Pagination.MaxPages
	if maxPages == 0 || cfg.Pagination.Type == "" || cfg.Pagination.Type == "none" {
		maxPages = 1
	}
	pageSize := cfg.Pagination.PageSize
	if pageSize == 0 {
		pageSize = 50
	}
	var (
		items  []domain.RawItem
		cursor string
	)
	for page := 0; page < maxPages; page++ {
		params := url.Values{}
		for k, v := range cfg.Params {
			params.Set(k, v)
		}
		switch cfg.Pagination.Type {
		case "offset":
			params.Set(paramName(cfg.Pagination.OffsetParam, "offset"), strconv.Itoa(page*pageSize))
			params.Set("limit", strconv.Itoa(pageSize))
		case "page":
			params.Set(paramName(cfg.Pagination.PageParam, "page"), strconv.Itoa(page+1))
			params.Set("per_page", strconv.Itoa(pageSize))
		case "cursor":
			if page > 0 && cursor == "" {
				return items, nil
			}
			if cursor != "" {
				params.Set(paramName(cfg.Pagination.CursorParam, "cursor"), cursor)
			}
		}
		payload, err := e.request(ctx, src.URL, cfg, params)
		if err != nil {
			return nil, err
		}
		records, ok := navigatePath(payload, cfg.DataPath)
		if !ok {
			return nil, fmt.Errorf("op=endpoint.fetch: %w: data_path %q not found in response", domain.ErrParse, cfg.DataPath)
		}
		if len(records) == 0 {
			return items, nil
		}
		for _, rec := range records {
			obj, ok := rec.(map[string]any)
			if !ok {
				continue
			}
			items = append(items, mapRecord(src.ID, obj, cfg.Mapping))
		}
		cursor = nextCursor(payload)
	}
	return items, nil
}

// request performs one call with auth and headers applied.
func (e *Endpoint) request(ctx context.Context, endpoint string, cfg EndpointConfig, params url.Values) (map[string]any, error) {
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	var body *strings.Reader
	reqURL := endpoint
	if method == http.MethodPost && cfg.Body != "" {
		body = strings.NewReader(cfg.Body)
	} else {
		body = strings.NewReader("")
	}
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(reqURL, "?") {
			sep = "&"
		}
		reqURL += sep + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("op=endpoint.fetch: %w: %v", domain.ErrInvalidArgument, err)
	}
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if err := e.applyAuth(ctx, req, cfg.Auth); err != nil {
		return nil, err
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=endpoint.fetch: %w: %v", domain.ErrUpstreamTimeout, err)
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("op=endpoint.fetch: %w: status %d", domain.ErrUpstreamRateLimit, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("op=endpoint.fetch: %w: status %d", domain.ErrAuthRejected, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("op=endpoint.fetch: %w: status %d", domain.ErrUpstreamTimeout, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("op=endpoint.fetch: %w: status %d", domain.ErrParse, resp.StatusCode)
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("op=endpoint.fetch: %w: %v", domain.ErrParse, err)
	}
	return payload, nil
}

// applyAuth decorates the request per the configured scheme.
func (e *Endpoint) applyAuth(ctx context.Context, req *http.Request, auth EndpointAuth) error {
	creds := auth.Credentials
	switch auth.Type {
	case "", "none":
		return nil
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+creds["token"])
	case "basic":
		req.SetBasicAuth(creds["username"], creds["password"])
	case "apikey":
		header := creds["header"]
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, creds["key"])
	case "oauth2":
		token, err := e.clientCredentialsToken(ctx, creds)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	default:
		return fmt.Errorf("op=endpoint.fetch: %w: unknown auth type %q", domain.ErrInvalidArgument, auth.Type)
	}
	return nil
}

// clientCredentialsToken runs the oauth2 client-credentials grant. Tokens
// are not cached here; the fetch cache keeps call volume low enough.
func (e *Endpoint) clientCredentialsToken(ctx context.Context, creds map[string]string) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {creds["client_id"]},
		"client_secret": {creds["client_secret"]},
	}
	if scope := creds["scope"]; scope != "" {
		form.Set("scope", scope)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds["token_url"], strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("op=endpoint.oauth2: %w: %v", domain.ErrInvalidArgument, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=endpoint.oauth2: %w: %v", domain.ErrUpstreamTimeout, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("op=endpoint.oauth2: %w: token endpoint status %d", domain.ErrAuthRejected, resp.StatusCode)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("op=endpoint.oauth2: %w: %v", domain.ErrParse, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("op=endpoint.oauth2: %w: empty access token", domain.ErrAuthRejected)
	}
	return tok.AccessToken, nil
}

// navigatePath walks a dot path ("data.items") into the payload and
// returns the array found there. An empty path means the payload's
// top-level array under a conventional key, or the payload itself when
// it carries "items"/"data"/"results".
func navigatePath(payload map[string]any, path string) ([]any, bool) {
	if path == "" {
		for _, key := range []string{"items", "data", "results", "articles", "entries"} {
			if arr, ok := payload[key].([]any); ok {
				return arr, true
			}
		}
		return nil, false
	}
	var cur any = payload
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	arr, ok := cur.([]any)
	return arr, ok
}

// nextCursor looks for the conventional cursor fields in the response.
func nextCursor(payload map[string]any) string {
	for _, key := range []string{"next_cursor", "nextCursor", "next", "cursor"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	if meta, ok := payload["meta"].(map[string]any); ok {
		if s, ok := meta["next_cursor"].(string); ok {
			return s
		}
	}
	return ""
}

// mapRecord builds a raw item from one record using the configured
// mapping, falling back to conventional field names where the mapping is
// silent.
func mapRecord(sourceID string, rec map[string]any, m EndpointMapping) domain.RawItem {
	extID := pickString(rec, m.ID, "id", "guid", "_id", "uuid")
	title := pickString(rec, m.Title, "title", "name", "headline")
	it := domain.RawItem{
		SourceID:    sourceID,
		ExternalID:  extID,
		Title:       textx.SanitizeText(title),
		Description: textx.Normalize(pickString(rec, m.Description, "description", "summary", "excerpt"), 2000),
		Body:        textx.Normalize(pickString(rec, m.Body, "body", "content", "text"), 0),
		PublishedAt: pickTime(rec, m.PublishedAt, "published_at", "publishedAt", "pub_date", "created_at", "date"),
		Metadata:    map[string]any{},
		Status:      domain.ItemPending,
	}
	if u := pickString(rec, m.URL, "url", "link", "permalink"); u != "" {
		it.Metadata["url"] = u
	}
	if author := pickString(rec, m.Author, "author", "byline"); author != "" {
		it.Metadata["author"] = author
	}
	if tags := pickStrings(rec, m.Tags, "tags", "categories", "topics"); len(tags) > 0 {
		it.Metadata["categories"] = tags
	}
	return it
}

// pickString returns the first non-empty string at mapped (when set) or
// any of the fallback keys.
func pickString(rec map[string]any, mapped string, fallbacks ...string) string {
	keys := fallbacks
	if mapped != "" {
		keys = append([]string{mapped}, fallbacks...)
	}
	for _, k := range keys {
		switch v := rec[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func pickStrings(rec map[string]any, mapped string, fallbacks ...string) []string {
	keys := fallbacks
	if mapped != "" {
		keys = append([]string{mapped}, fallbacks...)
	}
	for _, k := range keys {
		arr, ok := rec[k].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(arr))
		for _, v := range arr {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// pickTime parses the first recognizable timestamp; RFC3339 first, then
// the common date-only and unix-epoch forms. Missing timestamps resolve
// to now so new items still enter the window.
func pickTime(rec map[string]any, mapped string, fallbacks ...string) time.Time {
	keys := fallbacks
	if mapped != "" {
		keys = append([]string{mapped}, fallbacks...)
	}
	for _, k := range keys {
		switch v := rec[k].(type) {
		case string:
			for _, layout := range []string{time.RFC3339, time.RFC1123Z, time.RFC1123, "2006-01-02 15:04:05", "2006-01-02"} {
				if t, err := time.Parse(layout, v); err == nil {
					return t.UTC()
				}
			}
		case float64:
			if v > 1e9 {
				return time.Unix(int64(v), 0).UTC()
			}
		}
	}
	return time.Now().UTC()
}

func paramName(configured, def string) string {
	if configured != "" {
		return configured
	}
	return def
}
