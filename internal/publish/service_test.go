package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter-relay/internal/archive"
	"github.com/sungwon/newsletter-relay/internal/idempotency"
	"github.com/sungwon/newsletter-relay/internal/issue"
)

type fakeTx struct {
	pgx.Tx
	rolledBack bool
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolledBack = true
	return nil
}

// fakeStore replays whatever was captured for a key, mimicking the
// idempotency table.
type fakeStore struct {
	mu        sync.Mutex
	saved     map[string]*idempotency.Response
	notReady  int
	beginErr  error
	captureFn func() error
	tx        *fakeTx
	claims    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: map[string]*idempotency.Response{}, tx: &fakeTx{}}
}

func (f *fakeStore) BeginOrReplay(_ context.Context, userID uuid.UUID, key idempotency.Key) (idempotency.NextAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	if f.beginErr != nil {
		return idempotency.NextAction{}, f.beginErr
	}
	if f.notReady > 0 {
		f.notReady--
		return idempotency.NextAction{}, idempotency.ErrResponseNotReady
	}
	if resp, ok := f.saved[userID.String()+key.String()]; ok {
		return idempotency.NextAction{Saved: resp}, nil
	}
	return idempotency.NextAction{Tx: f.tx}, nil
}

func (f *fakeStore) CaptureResponse(_ context.Context, _ pgx.Tx, userID uuid.UUID, key idempotency.Key, resp *idempotency.Response) (*idempotency.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureFn != nil {
		if err := f.captureFn(); err != nil {
			return nil, err
		}
	}
	f.saved[userID.String()+key.String()] = resp
	return resp, nil
}

type fakeIssues struct {
	published  []issue.NewIssue
	jobs       int64
	publishErr error
	enqueueErr error
}

func (f *fakeIssues) Publish(_ context.Context, _ issue.Execer, ni issue.NewIssue) (uuid.UUID, error) {
	if f.publishErr != nil {
		return uuid.Nil, f.publishErr
	}
	f.published = append(f.published, ni)
	return uuid.New(), nil
}

func (f *fakeIssues) EnqueueDeliveries(context.Context, issue.Execer, uuid.UUID) (int64, error) {
	return f.jobs, f.enqueueErr
}

type fakeNotifier struct{ calls int }

func (f *fakeNotifier) Notify(context.Context) error {
	f.calls++
	return nil
}

func newIssue() issue.NewIssue {
	return issue.NewIssue{Title: "Issue", TextContent: "text", HTMLContent: "<p>html</p>"}
}

func mustKey(t *testing.T, raw string) idempotency.Key {
	t.Helper()
	k, err := idempotency.ParseKey(raw)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	return k
}

func testConfig() Config {
	return Config{RaceRetries: 3, RaceRetryDelay: time.Millisecond}
}

func TestPublish_FirstRequestPublishes(t *testing.T) {
	store := newFakeStore()
	issues := &fakeIssues{jobs: 3}
	notifier := &fakeNotifier{}
	svc := NewService(store, issues, notifier, nil, testConfig(), zerolog.Nop())

	res, err := svc.Publish(context.Background(), uuid.New(), mustKey(t, "k1"), newIssue())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Replayed {
		t.Error("first request must not be a replay")
	}
	if res.DeliveriesEnqueued != 3 {
		t.Errorf("expected 3 deliveries, got %d", res.DeliveriesEnqueued)
	}
	if res.Response.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202, got %d", res.Response.StatusCode)
	}
	if loc := res.Response.Header("Location"); loc != IssuePath+"/"+res.IssueID.String() {
		t.Errorf("unexpected location %q", loc)
	}

	var body Accepted
	if err := json.Unmarshal(res.Response.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.IssueID != res.IssueID || body.DeliveriesEnqueued != 3 {
		t.Errorf("unexpected body: %+v", body)
	}
	if notifier.calls != 1 {
		t.Errorf("expected one wake-up notification, got %d", notifier.calls)
	}
}

func TestPublish_RepeatReplaysWithoutSideEffects(t *testing.T) {
	store := newFakeStore()
	issues := &fakeIssues{jobs: 2}
	notifier := &fakeNotifier{}
	svc := NewService(store, issues, notifier, nil, testConfig(), zerolog.Nop())
	userID := uuid.New()

	first, err := svc.Publish(context.Background(), userID, mustKey(t, "same"), newIssue())
	if err != nil {
		t.Fatalf("first publish: %v", err)
	}
	second, err := svc.Publish(context.Background(), userID, mustKey(t, "same"), newIssue())
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}

	if !second.Replayed {
		t.Error("expected replay")
	}
	if string(second.Response.Body) != string(first.Response.Body) {
		t.Error("replayed body differs from the first response")
	}
	if len(issues.published) != 1 {
		t.Errorf("expected 1 issue, got %d", len(issues.published))
	}
	if notifier.calls != 1 {
		t.Errorf("replay must not notify workers, got %d calls", notifier.calls)
	}
}

func TestPublish_DifferentUsersDoNotShareKeys(t *testing.T) {
	store := newFakeStore()
	issues := &fakeIssues{}
	svc := NewService(store, issues, nil, nil, testConfig(), zerolog.Nop())

	for range 2 {
		if _, err := svc.Publish(context.Background(), uuid.New(), mustKey(t, "k"), newIssue()); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if len(issues.published) != 2 {
		t.Errorf("expected 2 issues, got %d", len(issues.published))
	}
}

func TestPublish_RetriesWhileResponseNotReady(t *testing.T) {
	store := newFakeStore()
	store.notReady = 2
	svc := NewService(store, &fakeIssues{}, nil, nil, testConfig(), zerolog.Nop())

	if _, err := svc.Publish(context.Background(), uuid.New(), mustKey(t, "k"), newIssue()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if store.claims != 3 {
		t.Errorf("expected 3 claim attempts, got %d", store.claims)
	}
}

func TestPublish_GivesUpAfterRaceRetries(t *testing.T) {
	store := newFakeStore()
	store.notReady = 100
	issues := &fakeIssues{}
	svc := NewService(store, issues, nil, nil, testConfig(), zerolog.Nop())

	_, err := svc.Publish(context.Background(), uuid.New(), mustKey(t, "k"), newIssue())
	if !errors.Is(err, idempotency.ErrResponseNotReady) {
		t.Fatalf("expected ErrResponseNotReady, got %v", err)
	}
	if store.claims != 4 {
		t.Errorf("expected 1 attempt + 3 retries, got %d", store.claims)
	}
	if len(issues.published) != 0 {
		t.Error("nothing may be published while the key is held")
	}
}

func TestPublish_FailuresRollBack(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name   string
		issues *fakeIssues
	}{
		{"insert fails", &fakeIssues{publishErr: boom}},
		{"enqueue fails", &fakeIssues{enqueueErr: boom}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			notifier := &fakeNotifier{}
			svc := NewService(store, tt.issues, notifier, nil, testConfig(), zerolog.Nop())

			_, err := svc.Publish(context.Background(), uuid.New(), mustKey(t, "k"), newIssue())
			if !errors.Is(err, boom) {
				t.Fatalf("expected boom, got %v", err)
			}
			if !store.tx.rolledBack {
				t.Error("expected rollback")
			}
			if len(store.saved) != 0 {
				t.Error("no response may be saved after a failure")
			}
			if notifier.calls != 0 {
				t.Error("workers must not be notified after a failure")
			}
		})
	}
}

func TestPublish_CaptureFailureReturnsError(t *testing.T) {
	store := newFakeStore()
	store.captureFn = func() error { return errors.New("commit failed") }
	notifier := &fakeNotifier{}
	svc := NewService(store, &fakeIssues{}, notifier, nil, testConfig(), zerolog.Nop())

	if _, err := svc.Publish(context.Background(), uuid.New(), mustKey(t, "k"), newIssue()); err == nil {
		t.Fatal("expected error")
	}
	if notifier.calls != 0 {
		t.Error("workers must not be notified when the commit fails")
	}
}

func TestPublish_ArchivesAfterCommit(t *testing.T) {
	dir := t.TempDir()
	arch, err := archive.New(context.Background(), archive.Config{Type: "local", Path: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	svc := NewService(newFakeStore(), &fakeIssues{}, nil, arch, testConfig(), zerolog.Nop())

	res, err := svc.Publish(context.Background(), uuid.New(), mustKey(t, "k"), newIssue())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	html, err := arch.HTML(context.Background(), res.IssueID)
	if err != nil || string(html) != "<p>html</p>" {
		t.Errorf("archived html = %q, %v", html, err)
	}
}
