package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Subscription statuses.
const (
	StatusPendingConfirmation = "pending_confirmation"
	StatusConfirmed           = "confirmed"
)

// ErrAlreadySubscribed is returned when the email already has a subscription.
var ErrAlreadySubscribed = errors.New("storage: email already subscribed")

// Subscription is a row of the subscriptions table.
type Subscription struct {
	ID           uuid.UUID
	Email        string
	Name         string
	SubscribedAt time.Time
	Status       string
}

const insertSubscription = `INSERT INTO subscriptions (id, email, name, subscribed_at, status)
VALUES ($1, $2, $3, $4, $5)`

// InsertSubscription adds a subscriber in the pending_confirmation state.
func (q *Queries) InsertSubscription(ctx context.Context, email, name string) (*Subscription, error) {
	s := &Subscription{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		SubscribedAt: time.Now().UTC(),
		Status:       StatusPendingConfirmation,
	}
	_, err := q.db.Exec(ctx, insertSubscription, s.ID, s.Email, s.Name, s.SubscribedAt, s.Status)
	if IsUniqueViolation(err) {
		return nil, ErrAlreadySubscribed
	}
	if err != nil {
		return nil, Wrap("insert subscription", err)
	}
	return s, nil
}

const insertSubscriptionToken = `INSERT INTO subscription_tokens (subscription_token, subscriber_id)
VALUES ($1, $2)`

func (q *Queries) InsertSubscriptionToken(ctx context.Context, token string, subscriberID uuid.UUID) error {
	_, err := q.db.Exec(ctx, insertSubscriptionToken, token, subscriberID)
	return Wrap("insert subscription token", err)
}

const getSubscriberIDFromToken = `SELECT subscriber_id FROM subscription_tokens
WHERE subscription_token = $1`

// GetSubscriberIDFromToken returns ErrNotFound for an unknown token.
func (q *Queries) GetSubscriberIDFromToken(ctx context.Context, token string) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, getSubscriberIDFromToken, token).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, Wrap("get subscriber id from token", err)
	}
	return id, nil
}

const confirmSubscription = `UPDATE subscriptions SET status = 'confirmed' WHERE id = $1`

func (q *Queries) ConfirmSubscription(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, confirmSubscription, id)
	return Wrap("confirm subscription", err)
}

const getSubscription = `SELECT id, email, name, subscribed_at, status
FROM subscriptions WHERE id = $1`

// GetSubscription returns ErrNotFound when the id is unknown.
func (q *Queries) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	var s Subscription
	err := q.db.QueryRow(ctx, getSubscription, id).
		Scan(&s.ID, &s.Email, &s.Name, &s.SubscribedAt, &s.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Wrap("get subscription", err)
	}
	return &s, nil
}

const countConfirmed = `SELECT count(*) FROM subscriptions WHERE status = 'confirmed'`

// CountConfirmed returns the number of confirmed subscribers.
func (q *Queries) CountConfirmed(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, countConfirmed).Scan(&n); err != nil {
		return 0, Wrap("count confirmed subscriptions", err)
	}
	return n, nil
}
