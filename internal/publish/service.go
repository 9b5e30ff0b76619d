// Package publish turns a validated issue into a committed issue, its
// delivery jobs and a saved idempotent response, in one transaction.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter-relay/internal/archive"
	"github.com/sungwon/newsletter-relay/internal/idempotency"
	"github.com/sungwon/newsletter-relay/internal/issue"
	"github.com/sungwon/newsletter-relay/internal/metrics"
)

// IssuePath is the URL prefix of published issues; the response's Location
// header is IssuePath + "/" + id.
const IssuePath = "/api/v1/newsletters"

type idempotencyStore interface {
	BeginOrReplay(ctx context.Context, userID uuid.UUID, key idempotency.Key) (idempotency.NextAction, error)
	CaptureResponse(ctx context.Context, tx pgx.Tx, userID uuid.UUID, key idempotency.Key, resp *idempotency.Response) (*idempotency.Response, error)
}

type issueWriter interface {
	Publish(ctx context.Context, tx issue.Execer, ni issue.NewIssue) (uuid.UUID, error)
	EnqueueDeliveries(ctx context.Context, tx issue.Execer, issueID uuid.UUID) (int64, error)
}

// Notifier is told after a publish commits. *queue.Notifier implements it.
type Notifier interface {
	Notify(ctx context.Context) error
}

// Config controls waiting on a key claimed by a concurrent request.
type Config struct {
	RaceRetries    int
	RaceRetryDelay time.Duration
}

// Service publishes issues exactly once per (user, idempotency key).
type Service struct {
	store    idempotencyStore
	issues   issueWriter
	notifier Notifier
	archiver *archive.Archiver
	config   Config
	log      zerolog.Logger
}

// NewService creates a Service. notifier and archiver may be nil.
func NewService(store idempotencyStore, issues issueWriter, notifier Notifier, archiver *archive.Archiver, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		issues:   issues,
		notifier: notifier,
		archiver: archiver,
		config:   cfg,
		log:      log,
	}
}

// Result is the outcome of Publish. Response is what the caller must return
// to its client, whether freshly produced or replayed.
type Result struct {
	Response *idempotency.Response
	Replayed bool
	// IssueID and DeliveriesEnqueued are set only when Replayed is false.
	IssueID            uuid.UUID
	DeliveriesEnqueued int64
}

// Accepted is the JSON body of a successful publish.
type Accepted struct {
	IssueID            uuid.UUID `json:"issue_id"`
	DeliveriesEnqueued int64     `json:"deliveries_enqueued"`
}

// Publish claims key for userID and, if the claim wins, inserts the issue,
// fans it out to every confirmed subscriber and saves the response, all in
// one commit. If the key was used before, the saved response is returned and
// nothing is written. While another request holds the key, Publish waits up
// to RaceRetries times before returning idempotency.ErrResponseNotReady.
func (s *Service) Publish(ctx context.Context, userID uuid.UUID, key idempotency.Key, ni issue.NewIssue) (*Result, error) {
	next, err := s.claim(ctx, userID, key)
	if err != nil {
		return nil, err
	}

	if next.Saved != nil {
		metrics.IssuesPublishedTotal.WithLabelValues("replayed").Inc()
		s.log.Info().
			Str("user_id", userID.String()).
			Str("idempotency_key", key.String()).
			Int("status", next.Saved.StatusCode).
			Msg("replaying saved publish response")
		return &Result{Response: next.Saved, Replayed: true}, nil
	}

	tx := next.Tx
	issueID, err := s.issues.Publish(ctx, tx, ni)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	n, err := s.issues.EnqueueDeliveries(ctx, tx, issueID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}

	resp, err := acceptedResponse(issueID, n)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	saved, err := s.store.CaptureResponse(ctx, tx, userID, key, resp)
	if err != nil {
		return nil, err
	}

	metrics.IssuesPublishedTotal.WithLabelValues("claimed").Inc()
	metrics.DeliveriesEnqueuedTotal.Add(float64(n))
	s.log.Info().
		Str("user_id", userID.String()).
		Str("newsletter_issue_id", issueID.String()).
		Int64("deliveries_enqueued", n).
		Msg("newsletter issue published")

	s.afterCommit(ctx, issueID, ni)

	return &Result{Response: saved, IssueID: issueID, DeliveriesEnqueued: n}, nil
}

func (s *Service) claim(ctx context.Context, userID uuid.UUID, key idempotency.Key) (idempotency.NextAction, error) {
	for attempt := 0; ; attempt++ {
		next, err := s.store.BeginOrReplay(ctx, userID, key)
		if !errors.Is(err, idempotency.ErrResponseNotReady) {
			return next, err
		}
		if attempt >= s.config.RaceRetries {
			metrics.IssuesPublishedTotal.WithLabelValues("not_ready").Inc()
			return idempotency.NextAction{}, err
		}

		timer := time.NewTimer(s.config.RaceRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return idempotency.NextAction{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// afterCommit runs the side effects that must not roll back a publish.
func (s *Service) afterCommit(ctx context.Context, issueID uuid.UUID, ni issue.NewIssue) {
	ctx = context.WithoutCancel(ctx)

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx); err != nil {
			s.log.Warn().Err(err).Msg("failed to notify delivery workers")
		}
	}
	s.archiver.Archive(ctx, issueID, archive.Content{
		Title: ni.Title,
		HTML:  ni.HTMLContent,
		Text:  ni.TextContent,
	})
}

func acceptedResponse(issueID uuid.UUID, n int64) (*idempotency.Response, error) {
	rec := idempotency.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.Header().Set("Location", IssuePath+"/"+issueID.String())
	rec.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(rec).Encode(Accepted{IssueID: issueID, DeliveriesEnqueued: n}); err != nil {
		return nil, err
	}
	return rec.Response(), nil
}
