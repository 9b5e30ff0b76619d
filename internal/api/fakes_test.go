package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter-relay/internal/auth"
	"github.com/sungwon/newsletter-relay/internal/domain"
	"github.com/sungwon/newsletter-relay/internal/idempotency"
	"github.com/sungwon/newsletter-relay/internal/issue"
	"github.com/sungwon/newsletter-relay/internal/publish"
	"github.com/sungwon/newsletter-relay/internal/storage"
	"github.com/sungwon/newsletter-relay/internal/subscription"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeAuthenticator struct {
	user     *storage.User
	password string
	err      error
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, username, password string) (*storage.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.user == nil || f.user.Username != username || f.password != password {
		return nil, auth.ErrInvalidCredentials
	}
	return f.user, nil
}

type fakeSubscriptions struct {
	subscribed []string
	tokens     map[string]uuid.UUID
	err        error
}

func (f *fakeSubscriptions) Subscribe(_ context.Context, name domain.SubscriberName, email domain.SubscriberEmail) (*storage.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subscribed = append(f.subscribed, email.String())
	return &storage.Subscription{
		ID:     uuid.New(),
		Email:  email.String(),
		Name:   name.String(),
		Status: storage.StatusPendingConfirmation,
	}, nil
}

func (f *fakeSubscriptions) Confirm(_ context.Context, token string) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	id, ok := f.tokens[token]
	if !ok {
		return uuid.Nil, subscription.ErrUnknownToken
	}
	return id, nil
}

// fakePublisher saves the first response per (user, key) and replays it.
type fakePublisher struct {
	mu    sync.Mutex
	saved map[string]*idempotency.Response
	calls int
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, userID uuid.UUID, key idempotency.Key, ni issue.NewIssue) (*publish.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.saved == nil {
		f.saved = map[string]*idempotency.Response{}
	}
	k := userID.String() + "/" + key.String()
	if resp, ok := f.saved[k]; ok {
		return &publish.Result{Response: resp, Replayed: true}, nil
	}

	id := uuid.New()
	rec := idempotency.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.Header().Set("Location", publish.IssuePath+"/"+id.String())
	rec.WriteHeader(http.StatusAccepted)
	_, _ = rec.Write([]byte(`{"issue_id":"` + id.String() + `","deliveries_enqueued":2}` + "\n"))
	f.saved[k] = rec.Response()
	return &publish.Result{Response: f.saved[k], IssueID: id, DeliveriesEnqueued: 2}, nil
}

type fakeIssues struct {
	issues map[uuid.UUID]*issue.Issue
	err    error
}

func (f *fakeIssues) Get(_ context.Context, id uuid.UUID) (*issue.Issue, error) {
	if f.err != nil {
		return nil, f.err
	}
	is, ok := f.issues[id]
	if !ok {
		return nil, issue.ErrIssueNotFound
	}
	return is, nil
}

type fakePending struct {
	n   int64
	err error
}

func (f fakePending) PendingForIssue(context.Context, uuid.UUID) (int64, error) { return f.n, f.err }

var errBoom = errors.New("boom")

type testEnv struct {
	deps      Deps
	user      *storage.User
	publisher *fakePublisher
	subs      *fakeSubscriptions
	issues    *fakeIssues
}

func newTestEnv() *testEnv {
	user := &storage.User{ID: uuid.New(), Username: "admin"}
	env := &testEnv{
		user:      user,
		publisher: &fakePublisher{},
		subs:      &fakeSubscriptions{tokens: map[string]uuid.UUID{}},
		issues:    &fakeIssues{issues: map[uuid.UUID]*issue.Issue{}},
	}
	env.deps = Deps{
		DB:            fakePinger{},
		Authenticator: &fakeAuthenticator{user: user, password: "secret"},
		JWT: auth.NewJWTService(auth.JWTConfig{
			SigningKey: "test-secret-key-that-is-long-enough-32",
			Issuer:     "newsletter-relay-test",
			Expiry:     15 * time.Minute,
		}),
		TokenExpiry:   15 * time.Minute,
		Subscriptions: env.subs,
		Publisher:     env.publisher,
		Issues:        env.issues,
		Pending:       fakePending{n: 3},
		Log:           zerolog.Nop(),
	}
	return env
}

func (env *testEnv) token() string {
	tok, err := env.deps.JWT.GenerateToken(env.user.ID, env.user.Username)
	if err != nil {
		panic(err)
	}
	return tok
}
