package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sungwon/newsletter-relay/internal/auth"
	"github.com/sungwon/newsletter-relay/internal/idempotency"
	"github.com/sungwon/newsletter-relay/internal/issue"
	"github.com/sungwon/newsletter-relay/internal/storage"
)

const validIssue = `{"title":"Issue #1","html_content":"<p>hi</p>","text_content":"hi"`

func publishRequestFor(env *testEnv, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/newsletters", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(auth.WithUser(req.Context(), env.user.ID, env.user.Username))
}

func TestPublishNewsletterHandler_Accepted(t *testing.T) {
	env := newTestEnv()
	h := PublishNewsletterHandler(env.publisher)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, publishRequestFor(env, validIssue+`,"idempotency_key":"k1"}`))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		IssueID            uuid.UUID `json:"issue_id"`
		DeliveriesEnqueued int64     `json:"deliveries_enqueued"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Header().Get("Location") != "/api/v1/newsletters/"+body.IssueID.String() {
		t.Errorf("Location = %q", rec.Header().Get("Location"))
	}
}

func TestPublishNewsletterHandler_ReplayIsVerbatim(t *testing.T) {
	env := newTestEnv()
	h := PublishNewsletterHandler(env.publisher)

	first := httptest.NewRecorder()
	h.ServeHTTP(first, publishRequestFor(env, validIssue+`,"idempotency_key":"k1"}`))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, publishRequestFor(env, validIssue+`,"idempotency_key":"k1"}`))

	if second.Code != first.Code {
		t.Errorf("replay status = %d, want %d", second.Code, first.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replay body = %q, want %q", second.Body.String(), first.Body.String())
	}
	if second.Header().Get("Location") != first.Header().Get("Location") {
		t.Error("replay Location differs")
	}
}

func TestPublishNewsletterHandler_KeyFromHeader(t *testing.T) {
	env := newTestEnv()
	h := PublishNewsletterHandler(env.publisher)

	req := publishRequestFor(env, validIssue+`}`)
	req.Header.Set(IdempotencyKeyHeader, "from-header")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := env.publisher.saved[env.user.ID.String()+"/from-header"]; !ok {
		t.Error("header key was not used")
	}
}

func TestPublishNewsletterHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"title":`},
		{"missing key", validIssue + `}`},
		{"key too long", validIssue + `,"idempotency_key":"` + strings.Repeat("x", idempotency.MaxKeyLength+1) + `"}`},
		{"missing title", `{"html_content":"<p>hi</p>","text_content":"hi","idempotency_key":"k"}`},
		{"blank title", `{"title":"  ","html_content":"<p>hi</p>","text_content":"hi","idempotency_key":"k"}`},
		{"missing html", `{"title":"t","text_content":"hi","idempotency_key":"k"}`},
		{"missing text", `{"title":"t","html_content":"<p>hi</p>","idempotency_key":"k"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			rec := httptest.NewRecorder()
			PublishNewsletterHandler(env.publisher).ServeHTTP(rec, publishRequestFor(env, tt.body))

			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
			if env.publisher.calls != 0 {
				t.Error("invalid request reached the publisher")
			}
		})
	}
}

func TestPublishNewsletterHandler_PublishErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		retryAfter string
	}{
		{"race not settled", idempotency.ErrResponseNotReady, http.StatusServiceUnavailable, "1"},
		{"storage", storage.Wrap("insert issue", errBoom), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.publisher.err = tt.err
			rec := httptest.NewRecorder()
			PublishNewsletterHandler(env.publisher).ServeHTTP(rec, publishRequestFor(env, validIssue+`,"idempotency_key":"k"}`))

			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.retryAfter)
			}
		})
	}
}

func TestPublishNewsletterHandler_RequiresUser(t *testing.T) {
	env := newTestEnv()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/newsletters",
		strings.NewReader(validIssue+`,"idempotency_key":"k"}`))
	rec := httptest.NewRecorder()

	PublishNewsletterHandler(env.publisher).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func getIssue(h http.Handler, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/newsletters/"+id, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetNewsletterHandler(t *testing.T) {
	env := newTestEnv()
	id := uuid.New()
	env.issues.issues[id] = &issue.Issue{
		ID:          id,
		Title:       "Issue #1",
		TextContent: "hi",
		HTMLContent: "<p>hi</p>",
		PublishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	h := GetNewsletterHandler(env.issues, fakePending{n: 7})

	rec := getIssue(h, id.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp issueResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IssueID != id || resp.Title != "Issue #1" || resp.PendingDeliveries != 7 {
		t.Errorf("unexpected response %+v", resp)
	}

	if rec := getIssue(h, "not-a-uuid"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}
	if rec := getIssue(h, uuid.NewString()); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", rec.Code)
	}
	if rec := getIssue(GetNewsletterHandler(env.issues, fakePending{err: errBoom}), id.String()); rec.Code != http.StatusInternalServerError {
		t.Errorf("pending count failure: expected 500, got %d", rec.Code)
	}
}
