package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRouter_PublisherRoutesRequireToken(t *testing.T) {
	env := newTestEnv()
	r := NewRouter(env.deps)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/newsletters",
		strings.NewReader(validIssue+`,"idempotency_key":"k"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if env.publisher.calls != 0 {
		t.Error("unauthenticated request reached the publisher")
	}
}

func TestRouter_LoginThenPublishTwice(t *testing.T) {
	env := newTestEnv()
	r := NewRouter(env.deps)

	var codes []int
	var bodies []string
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/newsletters",
			strings.NewReader(validIssue+`,"idempotency_key":"same-key"}`))
		req.Header.Set("Authorization", "Bearer "+env.token())
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		bodies = append(bodies, rec.Body.String())
	}

	if codes[0] != http.StatusAccepted || codes[1] != http.StatusAccepted {
		t.Fatalf("codes = %v, want both 202", codes)
	}
	if bodies[0] != bodies[1] {
		t.Errorf("replayed body differs: %q vs %q", bodies[0], bodies[1])
	}
	if len(env.publisher.saved) != 1 {
		t.Errorf("saved %d responses, want 1", len(env.publisher.saved))
	}
}

func TestRouter_CorrelationIDEchoed(t *testing.T) {
	r := NewRouter(newTestEnv().deps)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("X-Correlation-ID = %q, want abc-123", got)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("no correlation id generated")
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	r := NewRouter(newTestEnv().deps)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `api_requests_total{method="GET",path="/healthz",status="200"}`) {
		t.Error("request counter for /healthz not exported")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(newTestEnv().deps.Log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}
