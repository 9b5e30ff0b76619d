package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/google/uuid"

	"github.com/sungwon/newsletter-relay/internal/domain"
	"github.com/sungwon/newsletter-relay/internal/logger"
	"github.com/sungwon/newsletter-relay/internal/storage"
	"github.com/sungwon/newsletter-relay/internal/subscription"
)

// Subscriptions registers and confirms subscribers. *subscription.Service
// implements it.
type Subscriptions interface {
	Subscribe(ctx context.Context, name domain.SubscriberName, email domain.SubscriberEmail) (*storage.Subscription, error)
	Confirm(ctx context.Context, token string) (uuid.UUID, error)
}

type subscribeRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// decodeSubscribeRequest accepts an HTML form post or a JSON body.
func decodeSubscribeRequest(r *http.Request) (subscribeRequest, error) {
	var req subscribeRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Name = r.PostForm.Get("name")
	req.Email = r.PostForm.Get("email")
	return req, nil
}

// SubscribeHandler handles POST /subscriptions.
func SubscribeHandler(subs Subscriptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		req, err := decodeSubscribeRequest(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		var details []string
		name, err := domain.ParseSubscriberName(req.Name)
		if err != nil {
			details = append(details, err.Error())
		}
		email, err := domain.ParseSubscriberEmail(req.Email)
		if err != nil {
			details = append(details, err.Error())
		}
		if details != nil {
			respondValidationErrors(w, details)
			return
		}

		sub, err := subs.Subscribe(r.Context(), name, email)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrAlreadySubscribed):
			respondError(w, http.StatusConflict, "email already subscribed")
			return
		default:
			log.Error().Err(err).Msg("subscribe failed")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{
			"subscriber_id": sub.ID.String(),
			"status":        sub.Status,
		})
	}
}

// ConfirmHandler handles GET /subscriptions/confirm?subscription_token=...
func ConfirmHandler(subs Subscriptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("subscription_token")
		if token == "" {
			respondError(w, http.StatusBadRequest, "subscription_token is required")
			return
		}

		_, err := subs.Confirm(r.Context(), token)
		switch {
		case err == nil:
			respondJSON(w, http.StatusOK, map[string]string{"status": storage.StatusConfirmed})
		case errors.Is(err, subscription.ErrUnknownToken):
			respondError(w, http.StatusUnauthorized, "unknown subscription token")
		default:
			lg := logger.FromContext(r.Context())
			lg.Error().Err(err).Msg("confirm failed")
			respondError(w, http.StatusInternalServerError, "internal server error")
		}
	}
}
