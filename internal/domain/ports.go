package domain

import (
	"context"
	"time"
)

// Repositories (ports)

type SourceRepository interface {
	Create(ctx context.Context, s Source) (string, error)
	Update(ctx context.Context, s Source) error
	Get(ctx context.Context, id string) (Source, error)
	GetByName(ctx context.Context, name string) (Source, error)
	ListActive(ctx context.Context) ([]Source, error)
	TouchFetched(ctx context.Context, id string, at time.Time) error
}

type RawItemRepository interface {
	// Insert persists one item; ErrConflict when (source_id, external_id)
	// already exists.
	Insert(ctx context.Context, it RawItem) (string, error)
	Get(ctx context.Context, id string) (RawItem, error)
	SetBody(ctx context.Context, id, body string) error
	SetStatus(ctx context.Context, id string, st ItemStatus) error
	// ListPublishedBetween returns items published in [from, to), newest
	// first, capped at limit.
	ListPublishedBetween(ctx context.Context, from, to time.Time, limit int) ([]RawItem, error)
}

type ProcessedItemRepository interface {
	// Upsert keeps the 1:1 relation with RawItem: a second write for the
	// same raw item replaces the first.
	Upsert(ctx context.Context, p ProcessedItem) (string, error)
	GetByRawItem(ctx context.Context, rawItemID string) (ProcessedItem, error)
	ListByRawItems(ctx context.Context, rawItemIDs []string) ([]ProcessedItem, error)
}

type AnalysisRepository interface {
	// Upsert swaps the row for the date atomically.
	Upsert(ctx context.Context, a DailyAnalysis) (string, error)
	Get(ctx context.Context, id string) (DailyAnalysis, error)
	GetByDate(ctx context.Context, date string) (DailyAnalysis, error)
	Latest(ctx context.Context) (DailyAnalysis, error)
}

type PredictionRepository interface {
	// Upsert is keyed by (analysis_id, kind, horizon).
	Upsert(ctx context.Context, p Prediction) (string, error)
	Get(ctx context.Context, id string) (Prediction, error)
	ListByAnalysis(ctx context.Context, analysisID string) ([]Prediction, error)
	// ListDue returns predictions whose horizon elapsed before now and
	// that have no comparison yet.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Prediction, error)
}

type ComparisonRepository interface {
	// Insert is idempotent per (prediction_id, analysis_id).
	Insert(ctx context.Context, c PredictionComparison) (string, error)
	ListByPrediction(ctx context.Context, predictionID string) ([]PredictionComparison, error)
}

// Queue (port) — durable typed job queue per the state machine in the
// pgqueue adapter. Enqueue dedups non-terminal jobs by kind-specific
// payload key and returns the existing id on a hit.
type Queue interface {
	Enqueue(ctx context.Context, kind JobKind, payload map[string]any, opts ...EnqueueOption) (string, error)
	// Dequeue atomically claims the most urgent eligible job, or returns
	// ErrNotFound when none is eligible.
	Dequeue(ctx context.Context) (Job, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID, errMsg string) error
	// FailPermanent fails the job terminally regardless of remaining
	// attempts. For non-retryable handler errors.
	FailPermanent(ctx context.Context, jobID, errMsg string) error
	// Release puts a claimed job back as pending after delay without
	// counting the attempt. Used when a rate-limit token is unavailable.
	Release(ctx context.Context, jobID string, delay time.Duration) error
	Stats(ctx context.Context) (map[JobStatus]int, error)
}

// EnqueueOptions carries optional enqueue parameters.
type EnqueueOptions struct {
	Priority int
	Delay    time.Duration
}

// EnqueueOption mutates EnqueueOptions.
type EnqueueOption func(*EnqueueOptions)

// WithPriority sets job priority in [1,10]; smaller is more urgent.
func WithPriority(p int) EnqueueOption { return func(o *EnqueueOptions) { o.Priority = p } }

// WithDelay defers eligibility by d.
func WithDelay(d time.Duration) EnqueueOption { return func(o *EnqueueOptions) { o.Delay = d } }

// AIClient (port) — the language-model capability. Two implementations
// exist: a real vendor client and a lexical fallback that must stay
// complete enough to run the whole pipeline offline.
type AIClient interface {
	// AnalyzeItem extracts topics, sentiment, entities and a summary from
	// normalized item text.
	AnalyzeItem(ctx context.Context, text string) (ItemAnalysis, error)
	// SynthesizeDay produces the daily synthesis from item summaries.
	SynthesizeDay(ctx context.Context, date string, items []ItemDigest) (DaySynthesis, error)
	// Predict drafts one prediction text for the horizon.
	Predict(ctx context.Context, a DailyAnalysis, horizon Horizon) (PredictionDraft, error)
}

// ItemAnalysis is the structured result of analyzing one item.
type ItemAnalysis struct {
	Topics    []string `json:"topics"`
	Sentiment float64  `json:"sentiment"`
	Entities  Entities `json:"entities"`
	Summary   string   `json:"summary"`
}

// ItemDigest is the slice of a processed item fed into daily synthesis.
type ItemDigest struct {
	Summary   string
	Topics    []string
	Sentiment float64
	Weight    float64
}

// DaySynthesis is the structured result of the daily synthesis call.
type DaySynthesis struct {
	MarketSentiment MarketSentiment `json:"market_sentiment"`
	Confidence      float64         `json:"confidence"`
	KeyThemes       []string        `json:"key_themes"`
	Summary         string          `json:"summary"`
	AIBlob          map[string]any  `json:"ai_blob"`
}

// PredictionDraft is one drafted prediction before persistence.
type PredictionDraft struct {
	Kind       PredictionKind `json:"kind"`
	Text       string         `json:"text"`
	Confidence float64        `json:"confidence"`
	Basis      []string       `json:"basis"`
}

// Transcriber (port) converts an audio URL into text. Implementations may
// call an out-of-process service and take minutes.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// Cache (port) — short-TTL key/value with tag invalidation. Never the
// source of truth; all readers tolerate a miss (ErrNotFound).
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration, tags ...string) error
	InvalidateTag(ctx context.Context, tag string) error
}
