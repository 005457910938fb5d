package domain

import "errors"

// Error taxonomy (sentinels). Handlers wrap these with operation context;
// the worker classifies failures by errors.Is against them.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrAuthRejected      = errors.New("auth rejected")
	ErrParse             = errors.New("parse failure")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrInternal          = errors.New("internal error")
)

// IsRetryable reports whether a handler failure should go through the
// queue's retry/backoff policy. Permanent conditions (bad config, auth
// rejection, invalid arguments) fail the job terminally.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrAuthRejected),
		errors.Is(err, ErrConflict):
		return false
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrUpstreamTimeout),
		errors.Is(err, ErrUpstreamRateLimit),
		errors.Is(err, ErrInsufficientData),
		errors.Is(err, ErrStoreUnavailable):
		return true
	}
	// Unclassified errors are treated as transient so a crash-adjacent
	// blip does not burn a job permanently on first sight.
	return true
}
