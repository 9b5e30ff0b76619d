// Package subscription registers subscribers and confirms them through a
// token mailed to the subscriber.
package subscription

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter-relay/internal/domain"
	"github.com/sungwon/newsletter-relay/internal/mail"
	"github.com/sungwon/newsletter-relay/internal/storage"
)

// ConfirmPath is where the confirmation link points.
const ConfirmPath = "/subscriptions/confirm"

const tokenLength = 25

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var (
	// ErrUnknownToken is returned by Confirm for a token that was never issued.
	ErrUnknownToken = errors.New("unknown subscription token")
	// ErrConfirmationNotSent means the subscriber was stored but the
	// confirmation email could not be sent.
	ErrConfirmationNotSent = errors.New("confirmation email not sent")
)

// Beginner opens transactions. *pgxpool.Pool implements it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service implements subscribe and confirm.
type Service struct {
	db      Beginner
	queries *storage.Queries
	mail    mail.Client
	baseURL string
	log     zerolog.Logger
}

// NewService creates a Service. queries must read through the same database
// db opens transactions on.
func NewService(db Beginner, queries *storage.Queries, client mail.Client, baseURL string, log zerolog.Logger) *Service {
	return &Service{
		db:      db,
		queries: queries,
		mail:    client,
		baseURL: baseURL,
		log:     log,
	}
}

// Subscribe stores a pending subscriber and its token in one transaction,
// then mails the confirmation link. storage.ErrAlreadySubscribed is returned
// for a known email.
func (s *Service) Subscribe(ctx context.Context, name domain.SubscriberName, email domain.SubscriberEmail) (*storage.Subscription, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, storage.Wrap("begin subscribe", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := s.queries.WithTx(tx)
	sub, err := q.InsertSubscription(ctx, email.String(), name.String())
	if err != nil {
		return nil, err
	}
	if err := q.InsertSubscriptionToken(ctx, token, sub.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storage.Wrap("commit subscribe", err)
	}

	if err := s.mail.Send(ctx, ConfirmationEmail(email.String(), ConfirmationLink(s.baseURL, token))); err != nil {
		s.log.Error().Err(err).
			Str("subscriber_id", sub.ID.String()).
			Msg("failed to send confirmation email")
		return sub, fmt.Errorf("%w: %w", ErrConfirmationNotSent, err)
	}

	s.log.Info().Str("subscriber_id", sub.ID.String()).Msg("new subscriber pending confirmation")
	return sub, nil
}

// Confirm marks the subscriber owning token as confirmed. Confirming twice
// is harmless.
func (s *Service) Confirm(ctx context.Context, token string) (uuid.UUID, error) {
	id, err := s.queries.GetSubscriberIDFromToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return uuid.Nil, ErrUnknownToken
	}
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.queries.ConfirmSubscription(ctx, id); err != nil {
		return uuid.Nil, err
	}
	s.log.Info().Str("subscriber_id", id.String()).Msg("subscription confirmed")
	return id, nil
}

// GenerateToken returns a random alphanumeric token.
func GenerateToken() (string, error) {
	alphabetSize := big.NewInt(int64(len(tokenAlphabet)))
	b := make([]byte, tokenLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate subscription token: %w", err)
		}
		b[i] = tokenAlphabet[n.Int64()]
	}
	return string(b), nil
}

// ConfirmationLink is the URL a subscriber follows to confirm.
func ConfirmationLink(baseURL, token string) string {
	return baseURL + ConfirmPath + "?subscription_token=" + url.QueryEscape(token)
}

// ConfirmationEmail builds the welcome message carrying link.
func ConfirmationEmail(to, link string) mail.Email {
	return mail.Email{
		To:      to,
		Subject: "Welcome!",
		HTMLBody: fmt.Sprintf(
			"Welcome to our newsletter!<br />Click <a href=\"%s\">here</a> to confirm your subscription.", link),
		TextBody: fmt.Sprintf(
			"Welcome to our newsletter!\nVisit %s to confirm your subscription.", link),
	}
}
