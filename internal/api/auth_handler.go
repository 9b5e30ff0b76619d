package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sungwon/newsletter-relay/internal/auth"
	"github.com/sungwon/newsletter-relay/internal/logger"
	"github.com/sungwon/newsletter-relay/internal/metrics"
	"github.com/sungwon/newsletter-relay/internal/storage"
)

// Authenticator checks publisher credentials. *auth.Authenticator implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*storage.User, error)
}

// loginRequest is the JSON body for POST /api/v1/login.
type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// tokenResponse is the JSON response carrying the access token.
type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

// LoginHandler handles POST /api/v1/login.
// Authenticates a publisher and returns a bearer token.
func LoginHandler(authn Authenticator, jwtService *auth.JWTService, expiry time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if errs := validateRequest(req); errs != nil {
			respondValidationErrors(w, errs)
			return
		}

		user, err := authn.Authenticate(r.Context(), req.Username, req.Password)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrInvalidCredentials):
			metrics.APIAuthFailuresTotal.Inc()
			respondError(w, http.StatusUnauthorized, "invalid username or password")
			return
		case errors.Is(err, auth.ErrLockedOut):
			metrics.APIAuthFailuresTotal.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(60))
			respondError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
			return
		default:
			log.Error().Err(err).Msg("login failed")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		token, err := jwtService.GenerateToken(user.ID, user.Username)
		if err != nil {
			log.Error().Err(err).Msg("failed to sign token")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		log.Info().Str("user_id", user.ID.String()).Msg("publisher logged in")
		respondJSON(w, http.StatusOK, tokenResponse{
			Token:     token,
			TokenType: "Bearer",
			ExpiresIn: int(expiry.Seconds()),
		})
	}
}
