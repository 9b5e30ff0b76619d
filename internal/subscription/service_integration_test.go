//go:build integration

package subscription_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter-relay/internal/domain"
	"github.com/sungwon/newsletter-relay/internal/mail"
	"github.com/sungwon/newsletter-relay/internal/storage"
	"github.com/sungwon/newsletter-relay/internal/storage/storagetest"
	"github.com/sungwon/newsletter-relay/internal/subscription"
)

var sharedPG *storagetest.Postgres

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	sharedPG, err = storagetest.Start(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	sharedPG.Close(ctx)
	os.Exit(code)
}

type recordingMail struct {
	mu   sync.Mutex
	sent []mail.Email
	err  error
}

func (r *recordingMail) Name() string { return "recording" }

func (r *recordingMail) Send(_ context.Context, e mail.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, e)
	return r.err
}

var linkPattern = regexp.MustCompile(`https?://\S+subscription_token=[A-Za-z0-9]+`)

func newService(t *testing.T, m *recordingMail) (*subscription.Service, *storage.Queries) {
	t.Helper()
	if err := sharedPG.Truncate(context.Background()); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	q := storage.New(sharedPG.DB.Pool)
	return subscription.NewService(sharedPG.DB.Pool, q, m, "http://localhost:8080", zerolog.Nop()), q
}

func mustInput(t *testing.T, name, email string) (domain.SubscriberName, domain.SubscriberEmail) {
	t.Helper()
	n, err := domain.ParseSubscriberName(name)
	if err != nil {
		t.Fatalf("name: %v", err)
	}
	e, err := domain.ParseSubscriberEmail(email)
	if err != nil {
		t.Fatalf("email: %v", err)
	}
	return n, e
}

func TestSubscribeThenConfirm(t *testing.T) {
	ctx := context.Background()
	m := &recordingMail{}
	svc, q := newService(t, m)
	name, email := mustInput(t, "le guin", "ursula_le_guin@gmail.com")

	sub, err := svc.Subscribe(ctx, name, email)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if sub.Status != storage.StatusPendingConfirmation {
		t.Errorf("status = %q", sub.Status)
	}
	if len(m.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(m.sent))
	}

	link := linkPattern.FindString(m.sent[0].TextBody)
	u, err := url.Parse(link)
	if err != nil || link == "" {
		t.Fatalf("no confirmation link in %q", m.sent[0].TextBody)
	}

	id, err := svc.Confirm(ctx, u.Query().Get("subscription_token"))
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if id != sub.ID {
		t.Errorf("confirmed %s, want %s", id, sub.ID)
	}

	got, err := q.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscription() error = %v", err)
	}
	if got.Status != storage.StatusConfirmed {
		t.Errorf("status = %q, want confirmed", got.Status)
	}
}

func TestSubscribe_Duplicate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, &recordingMail{})
	name, email := mustInput(t, "le guin", "ursula_le_guin@gmail.com")

	if _, err := svc.Subscribe(ctx, name, email); err != nil {
		t.Fatalf("first Subscribe() error = %v", err)
	}
	if _, err := svc.Subscribe(ctx, name, email); !errors.Is(err, storage.ErrAlreadySubscribed) {
		t.Errorf("second Subscribe() error = %v, want ErrAlreadySubscribed", err)
	}
}

func TestSubscribe_MailFailureKeepsSubscriber(t *testing.T) {
	ctx := context.Background()
	svc, q := newService(t, &recordingMail{err: errors.New("provider down")})
	name, email := mustInput(t, "le guin", "ursula_le_guin@gmail.com")

	sub, err := svc.Subscribe(ctx, name, email)
	if !errors.Is(err, subscription.ErrConfirmationNotSent) {
		t.Fatalf("Subscribe() error = %v, want ErrConfirmationNotSent", err)
	}
	if _, err := q.GetSubscription(ctx, sub.ID); err != nil {
		t.Errorf("subscriber not stored: %v", err)
	}
}

func TestConfirm_UnknownToken(t *testing.T) {
	svc, _ := newService(t, &recordingMail{})

	if _, err := svc.Confirm(context.Background(), "doesnotexist"); !errors.Is(err, subscription.ErrUnknownToken) {
		t.Errorf("Confirm() error = %v, want ErrUnknownToken", err)
	}
}
