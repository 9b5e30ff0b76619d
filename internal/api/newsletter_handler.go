package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sungwon/newsletter-relay/internal/auth"
	"github.com/sungwon/newsletter-relay/internal/idempotency"
	"github.com/sungwon/newsletter-relay/internal/issue"
	"github.com/sungwon/newsletter-relay/internal/logger"
	"github.com/sungwon/newsletter-relay/internal/publish"
)

// IdempotencyKeyHeader may carry the key instead of the request body.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIssueBodyBytes = 10 << 20

// Publisher publishes an issue idempotently. *publish.Service implements it.
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, key idempotency.Key, ni issue.NewIssue) (*publish.Result, error)
}

// IssueReader loads published issues. *issue.Repository implements it.
type IssueReader interface {
	Get(ctx context.Context, id uuid.UUID) (*issue.Issue, error)
}

// PendingCounter counts undelivered jobs of an issue. *queue.Queue implements it.
type PendingCounter interface {
	PendingForIssue(ctx context.Context, issueID uuid.UUID) (int64, error)
}

// publishRequest is the JSON body for POST /api/v1/newsletters.
type publishRequest struct {
	Title          string `json:"title" validate:"required"`
	HTMLContent    string `json:"html_content" validate:"required"`
	TextContent    string `json:"text_content" validate:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

type issueResponse struct {
	IssueID           uuid.UUID `json:"issue_id"`
	Title             string    `json:"title"`
	TextContent       string    `json:"text_content"`
	HTMLContent       string    `json:"html_content"`
	PublishedAt       time.Time `json:"published_at"`
	PendingDeliveries int64     `json:"pending_deliveries"`
}

// PublishNewsletterHandler handles POST /api/v1/newsletters.
// The first request for an idempotency key publishes the issue and answers
// 202 Accepted; later requests with the same key get the saved response back
// byte for byte.
func PublishNewsletterHandler(publisher Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		var req publishRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIssueBodyBytes)).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		if errs := validateRequest(req); errs != nil {
			respondValidationErrors(w, errs)
			return
		}

		rawKey := req.IdempotencyKey
		if rawKey == "" {
			rawKey = r.Header.Get(IdempotencyKeyHeader)
		}
		key, err := idempotency.ParseKey(rawKey)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		userID := auth.UserFromContext(r.Context())
		if userID == uuid.Nil {
			respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		res, err := publisher.Publish(r.Context(), userID, key, issue.NewIssue{
			Title:       req.Title,
			TextContent: req.TextContent,
			HTMLContent: req.HTMLContent,
		})
		if err != nil {
			respondPublishError(w, r, err)
			return
		}

		if err := res.Response.Write(w); err != nil {
			log.Warn().Err(err).Msg("failed to write publish response")
		}
	}
}

func respondPublishError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, idempotency.ErrResponseNotReady):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "a request with this idempotency key is still being processed")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
	default:
		lg := logger.FromContext(r.Context())
		lg.Error().Err(err).Msg("publish failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// GetNewsletterHandler handles GET /api/v1/newsletters/{id}.
func GetNewsletterHandler(issues IssueReader, pending PendingCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid issue id")
			return
		}

		is, err := issues.Get(r.Context(), id)
		if errors.Is(err, issue.ErrIssueNotFound) {
			respondError(w, http.StatusNotFound, "issue not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to load issue")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		n, err := pending.PendingForIssue(r.Context(), id)
		if err != nil {
			log.Error().Err(err).Msg("failed to count pending deliveries")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		respondJSON(w, http.StatusOK, issueResponse{
			IssueID:           is.ID,
			Title:             is.Title,
			TextContent:       is.TextContent,
			HTMLContent:       is.HTMLContent,
			PublishedAt:       is.PublishedAt,
			PendingDeliveries: n,
		})
	}
}
