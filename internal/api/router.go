package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter-relay/internal/auth"
	"github.com/sungwon/newsletter-relay/internal/metrics"
	"github.com/sungwon/newsletter-relay/internal/publish"
	"github.com/sungwon/newsletter-relay/internal/subscription"
)

// Deps are the collaborators the HTTP API needs.
type Deps struct {
	DB            Pinger
	Authenticator Authenticator
	JWT           *auth.JWTService
	TokenExpiry   time.Duration
	Subscriptions Subscriptions
	Publisher     Publisher
	Issues        IssueReader
	Pending       PendingCounter
	Log           zerolog.Logger
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(d.Log))
	r.Use(MetricsMiddleware)
	r.Use(RecoverMiddleware(d.Log))

	// Health and metrics endpoints (no auth required)
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(d.DB))
	r.Method("GET", "/metrics", metrics.Handler())

	// Subscriber endpoints (public)
	r.Post("/subscriptions", SubscribeHandler(d.Subscriptions))
	r.Get(subscription.ConfirmPath, ConfirmHandler(d.Subscriptions))

	r.Post("/api/v1/login", LoginHandler(d.Authenticator, d.JWT, d.TokenExpiry))

	// Publisher routes (auth required)
	r.Group(func(r chi.Router) {
		r.Use(auth.BearerAuth(d.JWT))

		r.Post(publish.IssuePath, PublishNewsletterHandler(d.Publisher))
		r.Get(publish.IssuePath+"/{id}", GetNewsletterHandler(d.Issues, d.Pending))
	})

	return r
}
