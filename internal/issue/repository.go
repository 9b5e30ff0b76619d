// Package issue stores newsletter issues and fans a published issue out into
// one delivery job per confirmed subscriber.
package issue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sungwon/newsletter-relay/internal/storage"
)

// ErrIssueNotFound is returned by Get for an unknown issue id.
var ErrIssueNotFound = errors.New("issue not found")

// NewIssue is the content of an issue about to be published.
type NewIssue struct {
	Title       string
	TextContent string
	HTMLContent string
}

// Issue is a published newsletter issue. Issues are immutable.
type Issue struct {
	ID          uuid.UUID
	Title       string
	TextContent string
	HTMLContent string
	PublishedAt time.Time
}

// Execer is satisfied by pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository writes issues inside a caller-supplied transaction so the issue,
// its delivery jobs and the idempotency record commit together.
type Repository struct {
	db  Querier
	now func() time.Time
}

// NewRepository creates a Repository reading through db.
func NewRepository(db Querier) *Repository {
	return &Repository{db: db, now: time.Now}
}

const insertIssue = `INSERT INTO newsletter_issues (
    newsletter_issue_id, title, text_content, html_content, published_at
) VALUES ($1, $2, $3, $4, $5)`

// Publish inserts issue within tx and returns its new id.
func (r *Repository) Publish(ctx context.Context, tx Execer, issue NewIssue) (uuid.UUID, error) {
	id := uuid.New()
	_, err := tx.Exec(ctx, insertIssue, id, issue.Title, issue.TextContent, issue.HTMLContent, r.now().UTC())
	if err != nil {
		return uuid.Nil, storage.Wrap("insert newsletter issue", err)
	}
	return id, nil
}

const enqueueDeliveries = `INSERT INTO issue_delivery_queue (newsletter_issue_id, subscriber_email)
SELECT $1, email
FROM subscriptions
WHERE status = 'confirmed'`

// EnqueueDeliveries creates one pending job per subscriber confirmed at the
// moment of the statement, within tx, and returns how many were created.
func (r *Repository) EnqueueDeliveries(ctx context.Context, tx Execer, issueID uuid.UUID) (int64, error) {
	tag, err := tx.Exec(ctx, enqueueDeliveries, issueID)
	if err != nil {
		return 0, storage.Wrap("enqueue delivery tasks", err)
	}
	return tag.RowsAffected(), nil
}

const getIssue = `SELECT newsletter_issue_id, title, text_content, html_content, published_at
FROM newsletter_issues
WHERE newsletter_issue_id = $1`

// Get loads an issue by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Issue, error) {
	return r.GetWith(ctx, r.db, id)
}

// GetWith loads an issue through q. Delivery workers pass the dequeued job
// so the read shares the job's transaction.
func (r *Repository) GetWith(ctx context.Context, q Querier, id uuid.UUID) (*Issue, error) {
	var is Issue
	err := q.QueryRow(ctx, getIssue, id).
		Scan(&is.ID, &is.Title, &is.TextContent, &is.HTMLContent, &is.PublishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIssueNotFound
	}
	if err != nil {
		return nil, storage.Wrap("get newsletter issue", err)
	}
	return &is, nil
}
