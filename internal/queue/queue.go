// Package queue is the durable delivery queue: one row per (issue,
// subscriber) in issue_delivery_queue, claimed with FOR UPDATE SKIP LOCKED so
// concurrent workers never process the same job at once.
package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sungwon/newsletter-relay/internal/storage"
)

// ErrJobClosed is returned when Complete or Release is called on a job that
// was already completed or released.
var ErrJobClosed = errors.New("queue: job already closed")

// DB is the subset of *pgxpool.Pool the queue needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queue reads and removes delivery jobs.
type Queue struct {
	db DB
}

// New creates a Queue.
func New(db DB) *Queue {
	return &Queue{db: db}
}

// Job is one pending delivery, locked by the transaction that dequeued it.
// Exactly one of Complete or Release must be called.
type Job struct {
	IssueID         uuid.UUID
	SubscriberEmail string

	tx pgx.Tx
}

const dequeueOne = `SELECT newsletter_issue_id, subscriber_email
FROM issue_delivery_queue
FOR UPDATE
SKIP LOCKED
LIMIT 1`

// DequeueOne locks one pending job not locked by another worker. It returns
// nil, nil when no job is available.
func (q *Queue) DequeueOne(ctx context.Context) (*Job, error) {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return nil, storage.Wrap("begin dequeue transaction", err)
	}

	job := &Job{tx: tx}
	err = tx.QueryRow(ctx, dequeueOne).Scan(&job.IssueID, &job.SubscriberEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		return nil, nil
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, storage.Wrap("dequeue delivery task", err)
	}
	return job, nil
}

type closedRow struct{}

func (closedRow) Scan(...any) error { return ErrJobClosed }

// QueryRow reads inside the job's transaction, so handling a job needs no
// second pool connection.
func (j *Job) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if j.tx == nil {
		return closedRow{}
	}
	return j.tx.QueryRow(ctx, sql, args...)
}

const deleteTask = `DELETE FROM issue_delivery_queue
WHERE newsletter_issue_id = $1 AND subscriber_email = $2`

// Complete deletes the job and commits. The job is gone for good.
func (j *Job) Complete(ctx context.Context) error {
	if j.tx == nil {
		return ErrJobClosed
	}
	tx := j.tx
	j.tx = nil

	if _, err := tx.Exec(ctx, deleteTask, j.IssueID, j.SubscriberEmail); err != nil {
		_ = tx.Rollback(ctx)
		return storage.Wrap("delete delivery task", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.Wrap("commit delivery task", err)
	}
	return nil
}

// Release rolls back, leaving the job pending for any worker to pick up.
func (j *Job) Release(ctx context.Context) error {
	if j.tx == nil {
		return ErrJobClosed
	}
	tx := j.tx
	j.tx = nil

	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return storage.Wrap("release delivery task", err)
	}
	return nil
}

const countPending = `SELECT count(*) FROM issue_delivery_queue`

// Depth returns the number of pending jobs, locked or not.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, countPending).Scan(&n); err != nil {
		return 0, storage.Wrap("count delivery queue", err)
	}
	return n, nil
}

const countPendingForIssue = `SELECT count(*) FROM issue_delivery_queue
WHERE newsletter_issue_id = $1`

// PendingForIssue returns how many deliveries of an issue are still pending.
func (q *Queue) PendingForIssue(ctx context.Context, issueID uuid.UUID) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, countPendingForIssue, issueID).Scan(&n); err != nil {
		return 0, storage.Wrap("count pending deliveries", err)
	}
	return n, nil
}
