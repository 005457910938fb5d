package source

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

var validate = validator.New()

// CommonConfig holds the options every source kind accepts.
type CommonConfig struct {
	Categories      []string `json:"categories"`
	Priority        int      `json:"priority" validate:"omitempty,min=1,max=10"`
	UpdateFrequency string   `json:"update_frequency" validate:"omitempty,oneof=realtime hourly daily weekly"`
	FilterKeywords  []string `json:"filter_keywords"`
	ExcludeKeywords []string `json:"exclude_keywords"`
	MaxItems        int      `json:"max_items" validate:"omitempty,min=1,max=200"`
}

// FetchTTL maps update_frequency onto the freshness TTL; fallback is the
// system default passed in.
func (c CommonConfig) FetchTTL(def time.Duration) time.Duration {
	switch c.UpdateFrequency {
	case "realtime":
		return 5 * time.Minute
	case "hourly":
		return time.Hour
	case "daily":
		return 24 * time.Hour
	case "weekly":
		return 7 * 24 * time.Hour
	}
	return def
}

// ItemCap returns max_items with the kind default applied.
func (c CommonConfig) ItemCap(def int) int {
	if c.MaxItems > 0 {
		return c.MaxItems
	}
	return def
}

// SyndicatedConfig configures the syndicated (web feed) adapter.
type SyndicatedConfig struct {
	CommonConfig
	ExtractFullContent bool     `json:"extract_full_content"`
	ContentSelectors   []string `json:"content_selectors"`
	RemoveSelectors    []string `json:"remove_selectors"`
}

// AudioConfig configures the audio (podcast) adapter.
type AudioConfig struct {
	CommonConfig
	ExtractTranscript bool   `json:"extract_transcript"`
	TranscriptSource  string `json:"transcript_source" validate:"omitempty,oneof=whisper_like external_api"`
	MinDuration       int    `json:"min_duration" validate:"omitempty,min=0"`
	MaxDuration       int    `json:"max_duration" validate:"omitempty,min=0"`
	MaxEpisodes       int    `json:"max_episodes" validate:"omitempty,min=1"`
}

// Durations returns the duration window with the 60s/7200s defaults.
func (c AudioConfig) Durations() (min, max int) {
	min, max = c.MinDuration, c.MaxDuration
	if min == 0 {
		min = 60
	}
	if max == 0 {
		max = 7200
	}
	return min, max
}

// VideoConfig configures the video channel adapter.
type VideoConfig struct {
	CommonConfig
	APIKey           string `json:"api_key"`
	FetchTranscripts bool   `json:"fetch_transcripts"`
	MaxVideos        int    `json:"max_videos" validate:"omitempty,min=1,max=50"`
	MinDuration      int    `json:"min_duration" validate:"omitempty,min=0"`
	MaxDuration      int    `json:"max_duration" validate:"omitempty,min=0"`
	MinViews         int    `json:"min_views" validate:"omitempty,min=0"`
	SortBy           string `json:"sort_by" validate:"omitempty,oneof=date view_count relevance"`
}

// EndpointAuth describes how the generic-endpoint adapter authenticates.
type EndpointAuth struct {
	Type        string            `json:"type" validate:"omitempty,oneof=bearer basic apikey oauth2"`
	Credentials map[string]string `json:"credentials"`
}

// EndpointPagination describes how to walk a paged endpoint.
type EndpointPagination struct {
	Type        string `json:"type" validate:"omitempty,oneof=offset cursor page none"`
	PageSize    int    `json:"page_size" validate:"omitempty,min=1,max=500"`
	MaxPages    int    `json:"max_pages" validate:"omitempty,min=1,max=50"`
	PageParam   string `json:"page_param"`
	CursorParam string `json:"cursor_param"`
	OffsetParam string `json:"offset_param"`
}

// EndpointMapping maps endpoint fields onto raw item fields.
type EndpointMapping struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Body        string `json:"body"`
	PublishedAt string `json:"published_at"`
	URL         string `json:"url"`
	Author      string `json:"author"`
	Tags        string `json:"tags"`
}

// EndpointRateLimit declares the token bucket for one endpoint.
type EndpointRateLimit struct {
	Requests int `json:"requests" validate:"omitempty,min=1"`
	PeriodMS int `json:"period_ms" validate:"omitempty,min=100"`
}

// EndpointConfig configures the generic-endpoint adapter.
type EndpointConfig struct {
	CommonConfig
	Method     string             `json:"method" validate:"omitempty,oneof=GET POST"`
	Headers    map[string]string  `json:"headers"`
	Auth       EndpointAuth       `json:"auth"`
	Params     map[string]string  `json:"params"`
	Body       string             `json:"body"`
	Pagination EndpointPagination `json:"pagination"`
	DataPath   string             `json:"data_path"`
	Mapping    EndpointMapping    `json:"mapping"`
	RateLimit  EndpointRateLimit  `json:"rate_limit"`
}

// AggregateSub is one sub-source of an aggregate.
type AggregateSub struct {
	Kind    string         `json:"kind" validate:"required,oneof=syndicated audio video generic-endpoint"`
	URL     string         `json:"url" validate:"required"`
	Config  map[string]any `json:"config"`
	Weight  float64        `json:"weight" validate:"min=0,max=1"`
	Enabled bool           `json:"enabled"`
}

// AggregateConfig configures the aggregate adapter.
type AggregateConfig struct {
	CommonConfig
	Sources             []AggregateSub `json:"sources" validate:"required,min=1,dive"`
	AggregationStrategy string         `json:"aggregation_strategy" validate:"omitempty,oneof=merge weighted consensus"`
	Deduplication       bool           `json:"deduplication"`
	CrossReference      bool           `json:"cross_reference"`
}

// DecodeConfig converts the free-form source config map into a typed
// config struct and validates it. Unknown keys are ignored.
func DecodeConfig(raw map[string]any, dst any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("op=source.decode_config: %w: %v", domain.ErrInvalidArgument, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("op=source.decode_config: %w: %v", domain.ErrInvalidArgument, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("op=source.decode_config: %w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}
