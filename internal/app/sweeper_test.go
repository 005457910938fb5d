package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/internal/observability"
)

type fakeReclaimer struct {
	reclaimed  int
	visibility time.Duration
	stats      map[domain.JobStatus]int
}

func (f *fakeReclaimer) ReclaimStuck(_ context.Context, visibility time.Duration) (int, error) {
	f.visibility = visibility
	return f.reclaimed, nil
}

func (f *fakeReclaimer) Stats(context.Context) (map[domain.JobStatus]int, error) {
	return f.stats, nil
}

func TestSweepLeavesSweptCounterToQueue(t *testing.T) {
	before := testutil.ToFloat64(observability.JobsSweptTotal)

	rec := &fakeReclaimer{reclaimed: 3, stats: map[domain.JobStatus]int{domain.JobPending: 2}}
	s := NewSweeper(rec, time.Minute, 8*time.Minute)
	s.sweep(context.Background())

	assert.Equal(t, 8*time.Minute, rec.visibility)
	// The reclaim SQL in the queue adapter counts swept jobs.
	assert.Equal(t, before, testutil.ToFloat64(observability.JobsSweptTotal))
}

func TestSweepPublishesQueueDepth(t *testing.T) {
	rec := &fakeReclaimer{stats: map[domain.JobStatus]int{
		domain.JobPending:    5,
		domain.JobProcessing: 1,
	}}
	NewSweeper(rec, time.Minute, time.Minute).sweep(context.Background())

	assert.Equal(t, 5.0, testutil.ToFloat64(observability.QueueDepth.WithLabelValues(string(domain.JobPending))))
	assert.Equal(t, 1.0, testutil.ToFloat64(observability.QueueDepth.WithLabelValues(string(domain.JobProcessing))))
}
