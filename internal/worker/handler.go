// Package worker delivers one queued issue to one subscriber.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter-relay/internal/domain"
	"github.com/sungwon/newsletter-relay/internal/issue"
	"github.com/sungwon/newsletter-relay/internal/mail"
	"github.com/sungwon/newsletter-relay/internal/metrics"
	"github.com/sungwon/newsletter-relay/internal/queue"
)

// issueLoader loads the content of a published issue through q.
type issueLoader interface {
	GetWith(ctx context.Context, q issue.Querier, id uuid.UUID) (*issue.Issue, error)
}

// Handler implements queue.JobHandler by sending the issue through a
// mail.Client.
type Handler struct {
	issues issueLoader
	client mail.Client
	log    zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(issues issueLoader, client mail.Client, log zerolog.Logger) *Handler {
	return &Handler{
		issues: issues,
		client: client,
		log:    log,
	}
}

// HandleJob sends one delivery. An address that no longer validates is
// dropped without sending. A failed send retains the job for a later poll;
// the failure is only logged and counted.
func (h *Handler) HandleJob(ctx context.Context, job *queue.Job) (queue.Disposition, error) {
	log := h.log.With().
		Str("newsletter_issue_id", job.IssueID.String()).
		Str("subscriber_email", job.SubscriberEmail).
		Logger()

	to, err := domain.ParseSubscriberEmail(job.SubscriberEmail)
	if err != nil {
		log.Warn().Err(err).Msg("skipping a confirmed subscriber, their stored contact details are invalid")
		metrics.DeliveriesTotal.WithLabelValues("skipped_invalid").Inc()
		return queue.Remove, nil
	}

	// Read through the job's transaction: one pool connection per job.
	is, err := h.issues.GetWith(ctx, job, job.IssueID)
	if err != nil {
		return queue.Retain, fmt.Errorf("load issue %s: %w", job.IssueID, err)
	}

	start := time.Now()
	sendErr := h.client.Send(ctx, mail.Email{
		To:       to.String(),
		Subject:  is.Title,
		HTMLBody: is.HTMLContent,
		TextBody: is.TextContent,
	})
	duration := time.Since(start)
	metrics.DeliverySendDuration.Observe(duration.Seconds())

	if sendErr != nil && ctx.Err() != nil {
		log.Info().Err(sendErr).Msg("delivery interrupted by shutdown, job stays queued")
		return queue.Retain, nil
	}
	if sendErr != nil {
		log.Error().Err(sendErr).
			Str("provider", h.client.Name()).
			Bool("permanent", mail.IsPermanent(sendErr)).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("failed to deliver issue to subscriber, will retry")
		metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
		metrics.DeliveryFailuresTotal.Inc()
		return queue.Retain, nil
	}

	log.Info().
		Str("provider", h.client.Name()).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("issue delivered")
	metrics.DeliveriesTotal.WithLabelValues("sent").Inc()
	return queue.Remove, nil
}
