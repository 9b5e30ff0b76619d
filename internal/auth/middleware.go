package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sungwon/newsletter-relay/internal/metrics"
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	usernameKey contextKey = "username"
)

// UserFromContext retrieves the authenticated user id from the request
// context. Returns uuid.Nil if no user is set.
func UserFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(userIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// UsernameFromContext returns an empty string if no user is set.
func UsernameFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(usernameKey).(string); ok {
		return name
	}
	return ""
}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, id uuid.UUID, username string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, id)
	return context.WithValue(ctx, usernameKey, username)
}

// BearerAuth returns an HTTP middleware that validates JWT Bearer tokens and
// injects the user into the request context.
func BearerAuth(jwtService *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w, "invalid authorization format, expected Bearer <token>")
				return
			}

			tokenStr := strings.TrimSpace(parts[1])
			if tokenStr == "" {
				unauthorized(w, "empty token")
				return
			}

			userID, claims, err := jwtService.ValidateToken(tokenStr)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := WithUser(r.Context(), userID, claims.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// unauthorized writes the API's error body shape with the "unauthorized" code.
func unauthorized(w http.ResponseWriter, message string) {
	metrics.APIAuthFailuresTotal.Inc()
	w.Header().Set("WWW-Authenticate", `Bearer realm="publish"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": message})
}
