// Package source contains the adapters that turn external feeds into raw
// items: syndicated web feeds, podcast audio, video channels, generic
// JSON endpoints and weighted aggregates of all of these.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// Adapter is the capability each source kind implements.
type Adapter interface {
	Kind() domain.SourceKind
	// FetchLatest returns items published after the source watermark
	// (or its most recent items when no watermark exists), already
	// filtered and truncated per the source config. An empty result is
	// not an error.
	FetchLatest(ctx context.Context, src domain.Source) ([]domain.RawItem, error)
	// Validate is the shape and minimum-content check before persistence.
	Validate(it domain.RawItem) bool
	// RateLimit declares the token bucket for calls on behalf of src;
	// ok=false means the kind is unthrottled.
	RateLimit(src domain.Source) (requests int, period time.Duration, ok bool)
}

// Registry maps source kinds onto adapters. Populated once at startup,
// read-only afterwards.
type Registry struct {
	adapters map[domain.SourceKind]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[domain.SourceKind]Adapter{}}
}

// Register adds one adapter; last registration per kind wins.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Kind()] = a
}

// Get resolves the adapter for a kind.
func (r *Registry) Get(kind domain.SourceKind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("op=source.registry: %w: no adapter for kind %q", domain.ErrInvalidArgument, kind)
	}
	return a, nil
}

// validateItem is the common minimum-content check: an identifiable item
// with a title and a plausible publish time.
func validateItem(it domain.RawItem) bool {
	if it.ExternalID == "" || it.Title == "" {
		return false
	}
	if it.PublishedAt.IsZero() || it.PublishedAt.After(time.Now().Add(24*time.Hour)) {
		return false
	}
	return len(it.Title)+len(it.Description)+len(it.Body) >= 10
}
