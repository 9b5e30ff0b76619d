package smtp

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter-relay/internal/auth"
	"github.com/sungwon/newsletter-relay/internal/idempotency"
	"github.com/sungwon/newsletter-relay/internal/issue"
	"github.com/sungwon/newsletter-relay/internal/publish"
	"github.com/sungwon/newsletter-relay/internal/storage"
)

const testPublishAddress = "publish@newsletter.local"

type fakeAuth struct {
	user     *storage.User
	password string
	err      error
}

func (f *fakeAuth) Authenticate(_ context.Context, username, password string) (*storage.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.user == nil || username != f.user.Username || password != f.password {
		return nil, auth.ErrInvalidCredentials
	}
	return f.user, nil
}

type publishCall struct {
	userID uuid.UUID
	key    idempotency.Key
	issue  issue.NewIssue
}

// fakePublisher replays the first result for a repeated key.
type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	seen  map[string]bool
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, userID uuid.UUID, key idempotency.Key, ni issue.NewIssue) (*publish.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, publishCall{userID: userID, key: key, issue: ni})
	if f.err != nil {
		return nil, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	resp := &idempotency.Response{StatusCode: http.StatusAccepted}
	if f.seen[key.String()] {
		return &publish.Result{Response: resp, Replayed: true}, nil
	}
	f.seen[key.String()] = true
	return &publish.Result{Response: resp, IssueID: uuid.New(), DeliveriesEnqueued: 3}, nil
}

var errBoom = errors.New("boom")

func newTestBackend(pub *fakePublisher) (*Backend, *storage.User) {
	user := &storage.User{ID: uuid.New(), Username: "admin"}
	a := &fakeAuth{user: user, password: "secret"}
	return NewBackend(a, pub, testPublishAddress, zerolog.Nop(), 10), user
}
