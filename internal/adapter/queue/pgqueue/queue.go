// Package pgqueue implements the durable job queue on PostgreSQL. It is
// the single queue path in the system: every enqueue, claim, completion
// and retry goes through the SQL here, so the state machine is enforced
// in one place against the shared store.
package pgqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/feedpulse/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/internal/observability"
)

const (
	// BackoffBase is the first retry delay; retry n waits
	// min(BackoffCap, BackoffBase * 2^(n-1)).
	BackoffBase = time.Minute
	// BackoffCap bounds the retry delay.
	BackoffCap = time.Hour
)

// dedupKeyField maps each job kind to the payload field that identifies
// duplicate work. Kinds absent from the map are never deduplicated.
var dedupKeyField = map[domain.JobKind]string{
	domain.JobFeedFetch:           "source_ref",
	domain.JobContentProcess:      "raw_ref",
	domain.JobDailyAnalysis:       "date",
	domain.JobGeneratePredictions: "analysis_ref",
	domain.JobPredictionCompare:   "prediction_ref",
	domain.JobTranscribeAudio:     "raw_ref",
}

// Queue is the Postgres-backed implementation of domain.Queue.
type Queue struct {
	pool   postgres.PgxPool
	jobTTL time.Duration
}

// New constructs a Queue. jobTTL bounds how long a job stays eligible
// before the sweep expires it.
func New(pool postgres.PgxPool, jobTTL time.Duration) *Queue {
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	return &Queue{pool: pool, jobTTL: jobTTL}
}

// Backoff returns the retry delay after the n-th failed attempt (n >= 1).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= BackoffCap {
			return BackoffCap
		}
	}
	if d > BackoffCap {
		return BackoffCap
	}
	return d
}

// DedupKey returns the dedup field and value for a kind/payload pair, or
// ok=false when the kind carries no dedup policy or the field is absent.
func DedupKey(kind domain.JobKind, payload map[string]any) (field, value string, ok bool) {
	field, hasPolicy := dedupKeyField[kind]
	if !hasPolicy {
		return "", "", false
	}
	v, present := payload[field]
	if !present {
		return "", "", false
	}
	s, isStr := v.(string)
	if !isStr || s == "" {
		return "", "", false
	}
	return field, s, true
}

// Enqueue validates and persists one job. When a non-terminal job with the
// same kind and dedup key already exists, its id is returned and no row is
// inserted. Dedup is best-effort under races; handler idempotence absorbs
// the rare duplicate.
func (q *Queue) Enqueue(ctx context.Context, kind domain.JobKind, payload map[string]any, opts ...domain.EnqueueOption) (string, error) {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "queue.Enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("job.kind", string(kind)))

	if !domain.KnownJobKinds[kind] {
		return "", fmt.Errorf("op=queue.enqueue: %w: unknown kind %q", domain.ErrInvalidArgument, kind)
	}
	o := domain.EnqueueOptions{Priority: domain.DefaultJobPriority}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Priority < 1 || o.Priority > 10 {
		return "", fmt.Errorf("op=queue.enqueue: %w: priority %d outside [1,10]", domain.ErrInvalidArgument, o.Priority)
	}
	if o.Delay < 0 {
		return "", fmt.Errorf("op=queue.enqueue: %w: negative delay", domain.ErrInvalidArgument)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue: %w: payload not serializable: %v", domain.ErrInvalidArgument, err)
	}

	if field, value, ok := DedupKey(kind, payload); ok {
		// The field name comes from the compile-time map above, never
		// from input, so string interpolation is safe and lets the
		// planner hit the functional dedup index.
		dq := `SELECT id FROM jobs WHERE kind=$1 AND payload_json->>'` + field + `'=$2 AND status IN ('pending','processing','retry') LIMIT 1`
		var existing string
		err := q.pool.QueryRow(ctx, dq, kind, value).Scan(&existing)
		switch {
		case err == nil:
			observability.JobsDedupedTotal.WithLabelValues(string(kind)).Inc()
			span.SetAttributes(attribute.Bool("job.deduped", true))
			return existing, nil
		case errors.Is(err, pgx.ErrNoRows):
			// no duplicate; fall through to insert
		default:
			return "", fmt.Errorf("op=queue.enqueue: %w", mapErr(err))
		}
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	iq := `INSERT INTO jobs (id, kind, payload_json, priority, status, attempts, max_attempts, scheduled_at, expires_at, created_at)
	       VALUES ($1,$2,$3,$4,'pending',0,$5,$6,$7,$8)`
	_, err = q.pool.Exec(ctx, iq, id, kind, body, o.Priority, domain.DefaultMaxAttempts,
		now.Add(o.Delay), now.Add(q.jobTTL), now)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue: %w", mapErr(err))
	}
	observability.JobsEnqueuedTotal.WithLabelValues(string(kind)).Inc()
	return id, nil
}

const jobCols = `id, kind, payload_json, priority, status, attempts, max_attempts, scheduled_at, started_at, completed_at, expires_at, error_message, created_at`

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var payload []byte
	if err := row.Scan(&j.ID, &j.Kind, &payload, &j.Priority, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.ScheduledAt, &j.StartedAt, &j.CompletedAt, &j.ExpiresAt, &j.Error, &j.CreatedAt); err != nil {
		return domain.Job{}, err
	}
	_ = json.Unmarshal(payload, &j.Payload)
	return j, nil
}

// Dequeue atomically claims the most urgent eligible job: lowest priority
// value first, then earliest scheduled_at, then earliest created_at.
// FOR UPDATE SKIP LOCKED guarantees two concurrent claims never return the
// same row. ErrNotFound means nothing is eligible.
func (q *Queue) Dequeue(ctx context.Context) (domain.Job, error) {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "queue.Dequeue")
	defer span.End()

	cq := `UPDATE jobs SET status='processing', started_at=now(), attempts=attempts+1
	       WHERE id = (
	         SELECT id FROM jobs
	         WHERE status IN ('pending','retry') AND scheduled_at <= now() AND expires_at > now()
	         ORDER BY priority ASC, scheduled_at ASC, created_at ASC
	         FOR UPDATE SKIP LOCKED
	         LIMIT 1
	       )
	       RETURNING ` + jobCols
	j, err := scanJob(q.pool.QueryRow(ctx, cq))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, domain.ErrNotFound
		}
		return domain.Job{}, fmt.Errorf("op=queue.dequeue: %w", mapErr(err))
	}
	span.SetAttributes(
		attribute.String("job.id", j.ID),
		attribute.String("job.kind", string(j.Kind)),
		attribute.Int("job.attempts", j.Attempts),
	)
	return j, nil
}

// Complete transitions processing → completed. Idempotent on
// already-completed jobs.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "queue.Complete")
	defer span.End()
	uq := `UPDATE jobs SET status='completed', completed_at=now()
	       WHERE id=$1 AND status IN ('processing','completed')
	       RETURNING kind`
	var kind string
	if err := q.pool.QueryRow(ctx, uq, jobID).Scan(&kind); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("op=queue.complete: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=queue.complete: %w", mapErr(err))
	}
	observability.JobsCompletedTotal.WithLabelValues(kind).Inc()
	return nil
}

// Fail applies the retry policy: with attempts left the job moves to
// retry with exponential backoff; otherwise it fails terminally.
func (q *Queue) Fail(ctx context.Context, jobID, errMsg string) error {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "queue.Fail")
	defer span.End()
	uq := `UPDATE jobs SET
	         status = CASE WHEN attempts < max_attempts THEN 'retry' ELSE 'failed' END,
	         scheduled_at = CASE WHEN attempts < max_attempts
	           THEN now() + (LEAST($2 * POWER(2, GREATEST(attempts,1)-1), $3) * INTERVAL '1 second')
	           ELSE scheduled_at END,
	         completed_at = CASE WHEN attempts < max_attempts THEN completed_at ELSE now() END,
	         error_message = $4
	       WHERE id=$1 AND status='processing'
	       RETURNING kind, status`
	var kind, status string
	err := q.pool.QueryRow(ctx, uq, jobID, BackoffBase.Seconds(), BackoffCap.Seconds(), errMsg).Scan(&kind, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("op=queue.fail: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=queue.fail: %w", mapErr(err))
	}
	if status == string(domain.JobFailed) {
		observability.JobsFailedTotal.WithLabelValues(kind).Inc()
	} else {
		observability.JobsRetriedTotal.WithLabelValues(kind).Inc()
	}
	span.SetAttributes(attribute.String("job.final_status", status))
	return nil
}

// FailPermanent bypasses retries: the job fails terminally regardless of
// remaining attempts. Used for non-retryable handler errors.
func (q *Queue) FailPermanent(ctx context.Context, jobID, errMsg string) error {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "queue.FailPermanent")
	defer span.End()
	uq := `UPDATE jobs SET status='failed', attempts=max_attempts, completed_at=now(), error_message=$2
	       WHERE id=$1 AND status='processing'
	       RETURNING kind`
	var kind string
	if err := q.pool.QueryRow(ctx, uq, jobID, errMsg).Scan(&kind); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("op=queue.fail_permanent: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=queue.fail_permanent: %w", mapErr(err))
	}
	observability.JobsFailedTotal.WithLabelValues(kind).Inc()
	return nil
}

// Release puts a claimed job back as pending after delay without counting
// the attempt. Used when a rate-limit token is unavailable.
func (q *Queue) Release(ctx context.Context, jobID string, delay time.Duration) error {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "queue.Release")
	defer span.End()
	uq := `UPDATE jobs SET status='pending', attempts=GREATEST(attempts-1,0), started_at=NULL,
	         scheduled_at=now() + ($2 * INTERVAL '1 second')
	       WHERE id=$1 AND status='processing'`
	tag, err := q.pool.Exec(ctx, uq, jobID, delay.Seconds())
	if err != nil {
		return fmt.Errorf("op=queue.release: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=queue.release: %w", domain.ErrNotFound)
	}
	return nil
}

// ReclaimStuck reruns the fail policy for jobs stuck in processing longer
// than the visibility timeout, and expires pending jobs past expires_at.
// Returns how many processing jobs were reclaimed.
func (q *Queue) ReclaimStuck(ctx context.Context, visibility time.Duration) (int, error) {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "queue.ReclaimStuck")
	defer span.End()

	uq := `UPDATE jobs SET
	         status = CASE WHEN attempts < max_attempts THEN 'retry' ELSE 'failed' END,
	         scheduled_at = CASE WHEN attempts < max_attempts
	           THEN now() + (LEAST($2 * POWER(2, GREATEST(attempts,1)-1), $3) * INTERVAL '1 second')
	           ELSE scheduled_at END,
	         completed_at = CASE WHEN attempts < max_attempts THEN completed_at ELSE now() END,
	         error_message = 'worker_timeout'
	       WHERE status='processing' AND started_at < now() - ($1 * INTERVAL '1 second')`
	tag, err := q.pool.Exec(ctx, uq, visibility.Seconds(), BackoffBase.Seconds(), BackoffCap.Seconds())
	if err != nil {
		return 0, fmt.Errorf("op=queue.reclaim: %w", mapErr(err))
	}
	reclaimed := int(tag.RowsAffected())

	// Expired pending/retry jobs are terminal failures on the sweep.
	eq := `UPDATE jobs SET status='failed', completed_at=now(), error_message='expired'
	       WHERE status IN ('pending','retry') AND expires_at <= now()`
	if _, err := q.pool.Exec(ctx, eq); err != nil {
		return reclaimed, fmt.Errorf("op=queue.expire: %w", mapErr(err))
	}
	if reclaimed > 0 {
		observability.JobsSweptTotal.Add(float64(reclaimed))
	}
	span.SetAttributes(attribute.Int("jobs.reclaimed", reclaimed))
	return reclaimed, nil
}

// Stats returns the job count per status.
func (q *Queue) Stats(ctx context.Context) (map[domain.JobStatus]int, error) {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "queue.Stats")
	defer span.End()
	rows, err := q.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("op=queue.stats: %w", mapErr(err))
	}
	defer rows.Close()
	out := map[domain.JobStatus]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("op=queue.stats: %w", err)
		}
		out[domain.JobStatus(st)] = n
	}
	return out, rows.Err()
}
