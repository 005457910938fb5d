// Package domain holds the core entities, error taxonomy and ports of the
// feed-intelligence pipeline. Adapters and usecases depend on this package;
// it depends on nothing but the standard library.
package domain

import "time"

// SourceKind enumerates the supported source adapter kinds.
type SourceKind string

const (
	SourceSyndicated SourceKind = "syndicated"
	SourceAudio      SourceKind = "audio"
	SourceVideo      SourceKind = "video"
	SourceEndpoint   SourceKind = "generic-endpoint"
	SourceAggregate  SourceKind = "aggregate"
)

// Source is a configured external origin of items.
// Sources are never deleted while referenced; they are soft-disabled
// via Active.
type Source struct {
	ID            string
	Name          string
	Kind          SourceKind
	URL           string
	Active        bool
	Config        map[string]any
	LastFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ItemStatus tracks a raw item through the pipeline.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// RawItem is one unit as received from a source, deduplicated per
// (SourceID, ExternalID). Body may be empty until transcription fills it.
type RawItem struct {
	ID          string
	SourceID    string
	ExternalID  string
	Title       string
	Description string
	Body        string
	PublishedAt time.Time
	Metadata    map[string]any
	Status      ItemStatus
	CreatedAt   time.Time
}

// Entities groups categorized named entities extracted from one item.
type Entities struct {
	Companies []string `json:"companies"`
	People    []string `json:"people"`
	Locations []string `json:"locations"`
	Tickers   []string `json:"tickers"`
}

// ProcessedItem is the analytic view of one RawItem (1:1).
type ProcessedItem struct {
	ID             string
	RawItemID      string
	NormalizedText string
	Topics         []string
	Sentiment      float64 // [-1,1]
	Entities       Entities
	Summary        string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// MarketSentiment labels the aggregate mood of one analysis.
type MarketSentiment string

const (
	SentimentBullish MarketSentiment = "bullish"
	SentimentBearish MarketSentiment = "bearish"
	SentimentNeutral MarketSentiment = "neutral"
)

// DailyAnalysis is the dated synthesis across processed items.
// Exactly one exists per date; regeneration replaces it atomically.
type DailyAnalysis struct {
	ID              string
	Date            string // civil date, YYYY-MM-DD
	MarketSentiment MarketSentiment
	KeyThemes       []string
	Summary         string
	AIBlob          map[string]any
	Confidence      float64 // [0,1]
	SourcesAnalyzed int
	CreatedAt       time.Time
}

// PredictionKind enumerates the kinds of forward-looking statements.
type PredictionKind string

const (
	PredictMarketDirection   PredictionKind = "market_direction"
	PredictSectorPerformance PredictionKind = "sector_performance"
	PredictEconomicIndicator PredictionKind = "economic_indicator"
	PredictGeopoliticalEvent PredictionKind = "geopolitical_event"
)

// Horizon is a fixed forward window for predictions.
type Horizon string

const (
	Horizon1W Horizon = "1w"
	Horizon1M Horizon = "1m"
	Horizon3M Horizon = "3m"
	Horizon6M Horizon = "6m"
	Horizon1Y Horizon = "1y"
)

// Prediction is issued against a DailyAnalysis for one horizon.
type Prediction struct {
	ID         string
	AnalysisID string
	Kind       PredictionKind
	Text       string
	Confidence float64 // [0,1], never above the analysis confidence
	Horizon    Horizon
	Data       map[string]any
	CreatedAt  time.Time
}

// PredictionComparison scores a prior prediction against a later analysis.
// Immutable once written.
type PredictionComparison struct {
	ID           string
	PredictionID string
	AnalysisID   string
	Accuracy     float64 // [0,1]
	Outcome      string
	CreatedAt    time.Time
}

// JobKind enumerates the typed jobs the queue accepts.
type JobKind string

const (
	JobFeedFetch           JobKind = "feed_fetch"
	JobContentProcess      JobKind = "content_process"
	JobTranscribeAudio     JobKind = "transcribe_audio"
	JobDailyAnalysis       JobKind = "daily_analysis"
	JobGeneratePredictions JobKind = "generate_predictions"
	JobPredictionCompare   JobKind = "prediction_compare"
	JobWorkerHeartbeat     JobKind = "worker_heartbeat"
)

// KnownJobKinds lists every kind the queue accepts on enqueue.
var KnownJobKinds = map[JobKind]bool{
	JobFeedFetch:           true,
	JobContentProcess:      true,
	JobTranscribeAudio:     true,
	JobDailyAnalysis:       true,
	JobGeneratePredictions: true,
	JobPredictionCompare:   true,
	JobWorkerHeartbeat:     true,
}

// JobStatus is the queue state machine's vertex set.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobRetry      JobStatus = "retry"
)

const (
	// DefaultJobPriority applies when the caller does not pick one.
	// Smaller is more urgent; the valid range is [1,10].
	DefaultJobPriority = 5
	// DefaultMaxAttempts bounds retries per job.
	DefaultMaxAttempts = 3
)

// Job is one durable queue entry.
type Job struct {
	ID          string
	Kind        JobKind
	Payload     map[string]any
	Priority    int
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	ScheduledAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	ExpiresAt   time.Time
	Error       string
	CreatedAt   time.Time
}
