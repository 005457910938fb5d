package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fairyhunter13/feedpulse/internal/adapter/source"
	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/internal/usecase"
)

// Handler executes one claimed job.
type Handler func(ctx context.Context, job domain.Job) error

// ThrottledError signals that the handler could not obtain a rate-limit
// token; the dispatcher releases the job back to pending after Delay
// without burning an attempt.
type ThrottledError struct {
	Delay time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled, retry in %s", e.Delay)
}

// Services groups the pipeline services the handlers dispatch into.
type Services struct {
	Fetch      *usecase.FetchService
	Process    *usecase.ProcessService
	Transcribe *usecase.TranscribeService
	Synthesize *usecase.SynthesizeService
	Predict    *usecase.PredictService
	Evaluate   *usecase.EvaluateService
}

// BuildHandlers maps each job kind onto its service call. The fetch
// handler consults the per-source rate limiter before doing network
// work.
func BuildHandlers(svc Services, sources domain.SourceRepository,
	registry *source.Registry, limiter *RateLimiter) map[domain.JobKind]Handler {
	return map[domain.JobKind]Handler{
		domain.JobFeedFetch: func(ctx context.Context, job domain.Job) error {
			sourceID, err := payloadRef(job, "source_ref")
			if err != nil {
				return err
			}
			if limiter != nil {
				if err := throttleSource(ctx, sources, registry, limiter, sourceID); err != nil {
					return err
				}
			}
			return svc.Fetch.Execute(ctx, sourceID)
		},
		domain.JobContentProcess: func(ctx context.Context, job domain.Job) error {
			id, err := payloadRef(job, "raw_ref")
			if err != nil {
				return err
			}
			return svc.Process.Execute(ctx, id)
		},
		domain.JobTranscribeAudio: func(ctx context.Context, job domain.Job) error {
			id, err := payloadRef(job, "raw_ref")
			if err != nil {
				return err
			}
			return svc.Transcribe.Execute(ctx, id)
		},
		domain.JobDailyAnalysis: func(ctx context.Context, job domain.Job) error {
			date, err := payloadRef(job, "date")
			if err != nil {
				return err
			}
			// A force payload flag needs no dispatch here: synthesis
			// always regenerates the date and the upsert replaces the
			// previous row.
			return svc.Synthesize.Execute(ctx, date)
		},
		domain.JobGeneratePredictions: func(ctx context.Context, job domain.Job) error {
			id, err := payloadRef(job, "analysis_ref")
			if err != nil {
				return err
			}
			return svc.Predict.Execute(ctx, id)
		},
		domain.JobPredictionCompare: func(ctx context.Context, job domain.Job) error {
			id, err := payloadRef(job, "prediction_ref")
			if err != nil {
				return err
			}
			// analysis_ref is optional: absent means latest
			analysisID, _ := job.Payload["analysis_ref"].(string)
			return svc.Evaluate.Execute(ctx, id, analysisID)
		},
		domain.JobWorkerHeartbeat: func(context.Context, domain.Job) error {
			return nil
		},
	}
}

// throttleSource checks the source's declared token bucket.
func throttleSource(ctx context.Context, sources domain.SourceRepository,
	registry *source.Registry, limiter *RateLimiter, sourceID string) error {
	src, err := sources.Get(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("op=app.throttle: %w", err)
	}
	adapter, err := registry.Get(src.Kind)
	if err != nil {
		return fmt.Errorf("op=app.throttle: %w", err)
	}
	requests, period, limited := adapter.RateLimit(src)
	if !limited {
		return nil
	}
	if ok, wait := limiter.Allow("source:"+sourceID, requests, period); !ok {
		return &ThrottledError{Delay: wait}
	}
	return nil
}

// payloadRef reads a required string field from the job payload. Missing
// fields are permanent: retrying a malformed payload cannot help.
func payloadRef(job domain.Job, field string) (string, error) {
	v, ok := job.Payload[field].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("op=app.handler kind=%s: %w: payload missing %q",
			job.Kind, domain.ErrInvalidArgument, field)
	}
	return v, nil
}

// IsThrottled reports whether err is a rate-limit release request and
// extracts the delay.
func IsThrottled(err error) (time.Duration, bool) {
	var te *ThrottledError
	if errors.As(err, &te) {
		return te.Delay, true
	}
	return 0, false
}
