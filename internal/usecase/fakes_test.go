package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// In-memory port implementations shared by the service tests.

type fakeSourceRepo struct {
	mu      sync.Mutex
	sources map[string]domain.Source
	touched map[string]time.Time
}

func newFakeSourceRepo(sources ...domain.Source) *fakeSourceRepo {
	r := &fakeSourceRepo{sources: map[string]domain.Source{}, touched: map[string]time.Time{}}
	for _, s := range sources {
		r.sources[s.ID] = s
	}
	return r
}

func (r *fakeSourceRepo) Create(_ context.Context, s domain.Source) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.ID] = s
	return s.ID, nil
}

func (r *fakeSourceRepo) Update(_ context.Context, s domain.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.ID] = s
	return nil
}

func (r *fakeSourceRepo) Get(_ context.Context, id string) (domain.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return domain.Source{}, domain.ErrNotFound
	}
	return s, nil
}

func (r *fakeSourceRepo) GetByName(_ context.Context, name string) (domain.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sources {
		if s.Name == name {
			return s, nil
		}
	}
	return domain.Source{}, domain.ErrNotFound
}

func (r *fakeSourceRepo) ListActive(_ context.Context) ([]domain.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Source
	for _, s := range r.sources {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSourceRepo) TouchFetched(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched[id] = at
	return nil
}

type fakeRawItemRepo struct {
	mu    sync.Mutex
	items map[string]domain.RawItem
	seq   int
}

func newFakeRawItemRepo(items ...domain.RawItem) *fakeRawItemRepo {
	r := &fakeRawItemRepo{items: map[string]domain.RawItem{}}
	for _, it := range items {
		r.items[it.ID] = it
	}
	return r
}

func (r *fakeRawItemRepo) Insert(_ context.Context, it domain.RawItem) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.SourceID == it.SourceID && existing.ExternalID == it.ExternalID {
			return "", domain.ErrConflict
		}
	}
	r.seq++
	it.ID = fmt.Sprintf("raw-%d", r.seq)
	r.items[it.ID] = it
	return it.ID, nil
}

func (r *fakeRawItemRepo) Get(_ context.Context, id string) (domain.RawItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return domain.RawItem{}, domain.ErrNotFound
	}
	return it, nil
}

func (r *fakeRawItemRepo) SetBody(_ context.Context, id, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	it.Body = body
	r.items[id] = it
	return nil
}

func (r *fakeRawItemRepo) SetStatus(_ context.Context, id string, st domain.ItemStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	it.Status = st
	r.items[id] = it
	return nil
}

func (r *fakeRawItemRepo) ListPublishedBetween(_ context.Context, from, to time.Time, limit int) ([]domain.RawItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RawItem
	for _, it := range r.items {
		if !it.PublishedAt.Before(from) && it.PublishedAt.Before(to) {
			out = append(out, it)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeProcessedRepo struct {
	mu    sync.Mutex
	byRaw map[string]domain.ProcessedItem
	seq   int
}

func newFakeProcessedRepo() *fakeProcessedRepo {
	return &fakeProcessedRepo{byRaw: map[string]domain.ProcessedItem{}}
}

func (r *fakeProcessedRepo) Upsert(_ context.Context, p domain.ProcessedItem) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byRaw[p.RawItemID]; ok {
		p.ID = existing.ID
	} else {
		r.seq++
		p.ID = fmt.Sprintf("proc-%d", r.seq)
	}
	r.byRaw[p.RawItemID] = p
	return p.ID, nil
}

func (r *fakeProcessedRepo) GetByRawItem(_ context.Context, rawItemID string) (domain.ProcessedItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byRaw[rawItemID]
	if !ok {
		return domain.ProcessedItem{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *fakeProcessedRepo) ListByRawItems(_ context.Context, ids []string) ([]domain.ProcessedItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ProcessedItem
	for _, id := range ids {
		if p, ok := r.byRaw[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeAnalysisRepo struct {
	mu     sync.Mutex
	byID   map[string]domain.DailyAnalysis
	byDate map[string]string
	seq    int
}

func newFakeAnalysisRepo(existing ...domain.DailyAnalysis) *fakeAnalysisRepo {
	r := &fakeAnalysisRepo{byID: map[string]domain.DailyAnalysis{}, byDate: map[string]string{}}
	for _, a := range existing {
		r.byID[a.ID] = a
		r.byDate[a.Date] = a.ID
	}
	return r
}

func (r *fakeAnalysisRepo) Upsert(_ context.Context, a domain.DailyAnalysis) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byDate[a.Date]; ok {
		a.ID = id
	} else {
		r.seq++
		a.ID = fmt.Sprintf("an-%d", r.seq)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	r.byID[a.ID] = a
	r.byDate[a.Date] = a.ID
	return a.ID, nil
}

func (r *fakeAnalysisRepo) Get(_ context.Context, id string) (domain.DailyAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return domain.DailyAnalysis{}, domain.ErrNotFound
	}
	return a, nil
}

func (r *fakeAnalysisRepo) GetByDate(_ context.Context, date string) (domain.DailyAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byDate[date]
	if !ok {
		return domain.DailyAnalysis{}, domain.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *fakeAnalysisRepo) Latest(_ context.Context) (domain.DailyAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest domain.DailyAnalysis
	found := false
	for _, a := range r.byID {
		if !found || a.Date > latest.Date {
			latest = a
			found = true
		}
	}
	if !found {
		return domain.DailyAnalysis{}, domain.ErrNotFound
	}
	return latest, nil
}

type fakePredictionRepo struct {
	mu   sync.Mutex
	byID map[string]domain.Prediction
	seq  int
}

func newFakePredictionRepo(existing ...domain.Prediction) *fakePredictionRepo {
	r := &fakePredictionRepo{byID: map[string]domain.Prediction{}}
	for _, p := range existing {
		r.byID[p.ID] = p
	}
	return r
}

func (r *fakePredictionRepo) Upsert(_ context.Context, p domain.Prediction) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.byID {
		if existing.AnalysisID == p.AnalysisID && existing.Kind == p.Kind && existing.Horizon == p.Horizon {
			p.ID = id
			r.byID[id] = p
			return id, nil
		}
	}
	r.seq++
	p.ID = fmt.Sprintf("pred-%d", r.seq)
	r.byID[p.ID] = p
	return p.ID, nil
}

func (r *fakePredictionRepo) Get(_ context.Context, id string) (domain.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *fakePredictionRepo) ListByAnalysis(_ context.Context, analysisID string) ([]domain.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Prediction
	for _, p := range r.byID {
		if p.AnalysisID == analysisID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakePredictionRepo) ListDue(_ context.Context, _ time.Time, _ int) ([]domain.Prediction, error) {
	return nil, nil
}

type fakeComparisonRepo struct {
	mu       sync.Mutex
	inserted []domain.PredictionComparison
}

func (r *fakeComparisonRepo) Insert(_ context.Context, c domain.PredictionComparison) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = fmt.Sprintf("cmp-%d", len(r.inserted)+1)
	r.inserted = append(r.inserted, c)
	return c.ID, nil
}

func (r *fakeComparisonRepo) ListByPrediction(_ context.Context, predictionID string) ([]domain.PredictionComparison, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PredictionComparison
	for _, c := range r.inserted {
		if c.PredictionID == predictionID {
			out = append(out, c)
		}
	}
	return out, nil
}

type enqueued struct {
	Kind    domain.JobKind
	Payload map[string]any
	Opts    domain.EnqueueOptions
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []enqueued
}

func (q *fakeQueue) Enqueue(_ context.Context, kind domain.JobKind, payload map[string]any, opts ...domain.EnqueueOption) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	o := domain.EnqueueOptions{Priority: domain.DefaultJobPriority}
	for _, opt := range opts {
		opt(&o)
	}
	q.jobs = append(q.jobs, enqueued{Kind: kind, Payload: payload, Opts: o})
	return fmt.Sprintf("job-%d", len(q.jobs)), nil
}

func (q *fakeQueue) Dequeue(context.Context) (domain.Job, error) {
	return domain.Job{}, domain.ErrNotFound
}
func (q *fakeQueue) Complete(context.Context, string) error               { return nil }
func (q *fakeQueue) Fail(context.Context, string, string) error          { return nil }
func (q *fakeQueue) FailPermanent(context.Context, string, string) error { return nil }
func (q *fakeQueue) Release(context.Context, string, time.Duration) error {
	return nil
}
func (q *fakeQueue) Stats(context.Context) (map[domain.JobStatus]int, error) {
	return map[domain.JobStatus]int{}, nil
}

func (q *fakeQueue) kinds() []domain.JobKind {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.JobKind, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.Kind)
	}
	return out
}

// fakeAI is a scriptable AIClient.
type fakeAI struct {
	analyze    func(text string) (domain.ItemAnalysis, error)
	synthesize func(date string, items []domain.ItemDigest) (domain.DaySynthesis, error)
	predict    func(a domain.DailyAnalysis, h domain.Horizon) (domain.PredictionDraft, error)
}

func (f *fakeAI) AnalyzeItem(_ context.Context, text string) (domain.ItemAnalysis, error) {
	if f.analyze == nil {
		return domain.ItemAnalysis{Summary: "ok"}, nil
	}
	return f.analyze(text)
}

func (f *fakeAI) SynthesizeDay(_ context.Context, date string, items []domain.ItemDigest) (domain.DaySynthesis, error) {
	if f.synthesize == nil {
		return domain.DaySynthesis{MarketSentiment: domain.SentimentNeutral}, nil
	}
	return f.synthesize(date, items)
}

func (f *fakeAI) Predict(_ context.Context, a domain.DailyAnalysis, h domain.Horizon) (domain.PredictionDraft, error) {
	if f.predict == nil {
		return domain.PredictionDraft{Kind: domain.PredictMarketDirection}, nil
	}
	return f.predict(a, h)
}

type fakeTranscriber struct {
	text string
	err  error
	urls []string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audioURL string) (string, error) {
	f.urls = append(f.urls, audioURL)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}
