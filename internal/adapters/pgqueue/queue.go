// Package pgqueue implements the two independent durable job queues of
// §4.3 directly atop the image_jobs/model_jobs tables already owned by
// the Data Store, rather than maintaining a separate queue store.
package pgqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/sync/semaphore"

	"github.com/forgectl/forge3d/internal/core/domain"
	"github.com/forgectl/forge3d/internal/core/ports"
)

const pollInterval = 3 * time.Second

type claimedJob struct {
	ID        string `db:"id"`
	EntityID  string `db:"entity_id"`
	RequestID string `db:"request_id"`
}

// Queue is a ports.JobQueue backed by one of the two job tables. One
// instance is created per queue (image, model); the table/column names it
// targets are fixed at construction, never user input. retry and
// deadLetter delegate the queue's bookkeeping to the Data Store's
// queue-specific methods, so the job row has exactly one writer for its
// retry/dead-letter transitions.
type Queue struct {
	db      *sqlx.DB
	dsn     string
	log     *slog.Logger
	name    domain.QueueName
	table   string
	idCol   string
	channel string

	retry      func(ctx context.Context, id string, nextRetryAt time.Time, errMsg string) error
	deadLetter func(ctx context.Context, id string, errMsg string) error
}

// dsn is the raw connection string, needed separately from db because
// pq.Listener manages its own dedicated connection outside the pool.
func NewImageQueue(db *sqlx.DB, dsn string, log *slog.Logger, store ports.DataStore) *Queue {
	return &Queue{
		db: db, dsn: dsn, log: log, name: domain.QueueImage, table: "image_jobs", idCol: "image_id", channel: "forge3d_image_jobs",
		retry: store.RetryImageJob, deadLetter: store.DeadLetterImageJob,
	}
}

func NewModelQueue(db *sqlx.DB, dsn string, log *slog.Logger, store ports.DataStore) *Queue {
	return &Queue{
		db: db, dsn: dsn, log: log, name: domain.QueueModel, table: "model_jobs", idCol: "model_id", channel: "forge3d_model_jobs",
		retry: store.RetryModelJob, deadLetter: store.DeadLetterModelJob,
	}
}

// Enqueue notifies waiting workers; the job row itself is created by the
// Data Store transaction that created the owning Image/Model (§4.3: rows
// are born in PENDING status, never inserted by the queue). Non-zero opts
// override the priority/max_retries the row was created with.
func (q *Queue) Enqueue(ctx context.Context, jobKey string, payload domain.JobPayload, opts ports.EnqueueOptions) error {
	if opts.Priority != 0 || opts.Attempts != 0 {
		query := fmt.Sprintf(`
			UPDATE %s
			SET priority = COALESCE(NULLIF($1, 0), priority), max_retries = COALESCE(NULLIF($2, 0), max_retries), updated_at = now()
			WHERE id = $3
		`, q.table)
		if _, err := q.db.ExecContext(ctx, query, opts.Priority, opts.Attempts, jobKey); err != nil {
			return domain.Classify(domain.KindRetryable, "apply enqueue options for "+string(q.name)+" queue", err)
		}
	}

	_, err := q.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, q.channel, jobKey)
	if err != nil {
		return domain.Classify(domain.KindRetryable, "notify "+string(q.name)+" queue", err)
	}
	return nil
}

// Run selects batches of due jobs (the handler's conditional
// MarkXJobRunning is what keeps two worker processes from both running one
// job), wakes on LISTEN/NOTIFY in addition to the polling ticker, and
// bounds in-flight handlers to concurrency via a weighted semaphore.
func (q *Queue) Run(ctx context.Context, concurrency int, handler func(ctx context.Context, jobID string, payload domain.JobPayload) error) error {
	sem := semaphore.NewWeighted(int64(concurrency))
	wake := make(chan struct{}, 1)
	go q.listen(ctx, wake)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		case <-ticker.C:
		}

		jobs, err := q.claim(ctx, concurrency)
		if err != nil {
			q.log.Error("claim jobs", "queue", q.name, "error", err)
			continue
		}

		for _, j := range jobs {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			j := j
			go func() {
				defer sem.Release(1)
				payload := domain.JobPayload{"job_id": j.ID, q.idCol: j.EntityID, "request_id": j.RequestID}
				err := handler(ctx, j.ID, payload)
				if err != nil {
					q.onFailure(ctx, j.ID, err)
				}
			}()
		}
	}
}

// claim is a pure SELECT: it never mutates status itself. The handler's own
// conditional MarkXJobRunning (WHERE status IN (PENDING, RETRYING)) is the
// single atomic claim transition, so it must see the row still in one of
// those statuses. The query runs outside a transaction, so its FOR UPDATE
// SKIP LOCKED row locks last only for the statement: two worker processes
// can both select the same row, and only the one whose MarkXJobRunning
// succeeds runs it.
func (q *Queue) claim(ctx context.Context, limit int) ([]claimedJob, error) {
	query := fmt.Sprintf(`
		SELECT id, %s AS entity_id, request_id FROM %s
		WHERE status IN ($1, $2) AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY priority ASC, created_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, q.idCol, q.table)

	var jobs []claimedJob
	err := q.db.SelectContext(ctx, &jobs, query, domain.JobStatusPending, domain.JobStatusRetrying, limit)
	if err != nil {
		return nil, domain.Classify(domain.KindRetryable, "claim "+string(q.name)+" jobs", err)
	}
	return jobs, nil
}

// onFailure applies the retry/dead-letter bookkeeping documented on
// ports.JobQueue: KindRetryable schedules a backed-off retry within the
// job's max_retries budget, anything else dead-letters immediately. This is
// the job row's sole writer for these transitions; handlers must not also
// flip the row to FAILED or write a dead letter themselves.
func (q *Queue) onFailure(ctx context.Context, jobID string, handlerErr error) {
	msg := handlerErr.Error()
	kind := domain.KindOf(handlerErr)
	if kind == domain.KindIntegrity {
		q.log.Error("job failed with an integrity or unclassified error", "queue", q.name, "job_id", jobID, "error", handlerErr)
	}

	if kind == domain.KindRetryable {
		var retryCount, maxRetries int
		err := q.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT retry_count, max_retries FROM %s WHERE id = $1`, q.table), jobID).Scan(&retryCount, &maxRetries)
		if err == nil && retryCount+1 < maxRetries {
			if err := q.retry(ctx, jobID, time.Now().Add(domain.Backoff(retryCount+1)), msg); err != nil {
				q.log.Error("schedule retry", "queue", q.name, "job_id", jobID, "error", err)
			}
			return
		}
	}

	if err := q.deadLetter(ctx, jobID, msg); err != nil {
		q.log.Error("dead letter job", "queue", q.name, "job_id", jobID, "error", err)
	}
}

func (q *Queue) listen(ctx context.Context, wake chan<- struct{}) {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			q.log.Warn("listener event", "queue", q.name, "error", err)
		}
	}
	listener := pq.NewListener(q.dsn, 10*time.Second, time.Minute, reportProblem)
	defer listener.Close()

	if err := listener.Listen(q.channel); err != nil {
		q.log.Error("listen on channel", "queue", q.name, "channel", q.channel, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-listener.Notify:
			select {
			case wake <- struct{}{}:
			default:
			}
		case <-time.After(90 * time.Second):
			listener.Ping()
		}
	}
}

