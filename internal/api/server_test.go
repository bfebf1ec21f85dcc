package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/hostbridge/internal/events"
)

type fakeSubmitter struct {
	lastBody []byte
	reply    []byte
}

func (f *fakeSubmitter) Submit(_ context.Context, raw []byte) []byte {
	f.lastBody = raw
	return f.reply
}

type fakeHealth struct{ h Health }

func (f fakeHealth) Health(context.Context) Health { return f.h }

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) Reload(context.Context) error {
	f.calls++
	return f.err
}

func newTestServer(t *testing.T, cfg Config, sub Submitter, health HealthReporter, rel Reloader, hub *events.Hub) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return New(cfg, sub, health, rel, hub, logger)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func TestRPCPassthrough(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{reply: []byte(`{"id":"1","result":{"ok":true}}`)}
	srv := newTestServer(t, Config{}, sub, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"id":"1","method":"capability/list"}`))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if string(sub.lastBody) != `{"id":"1","method":"capability/list"}` {
		t.Fatalf("submitter got %q", sub.lastBody)
	}
	if rec.Body.String() != `{"id":"1","result":{"ok":true}}` {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestRPCAlways200(t *testing.T) {
	t.Parallel()
	// Protocol errors travel inside the envelope, not as HTTP status.
	sub := &fakeSubmitter{reply: []byte(`{"id":null,"error":{"code":-32700,"message":"parse error"}}`)}
	srv := newTestServer(t, Config{}, sub, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "-32700") {
		t.Fatalf("body = %q, want parse error envelope", rec.Body.String())
	}
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{reply: []byte(`{}`)}
	srv := newTestServer(t, Config{APIKey: "secret-token"}, sub, nil, nil, nil)
	routes := srv.Routes()

	// No header.
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{}")))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no header: status = %d, want 401", rec.Code)
	}

	// Wrong key.
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer wrong-token!")
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: status = %d, want 401", rec.Code)
	}

	// Correct key.
	req = httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("correct key: status = %d, want 200", rec.Code)
	}
}

func TestAuthOpenWhenUnconfigured(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{reply: []byte(`{}`)}
	srv := newTestServer(t, Config{}, sub, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{}")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHealthzUnauthenticated(t *testing.T) {
	t.Parallel()
	health := fakeHealth{h: Health{Service: "hostbridge", QueueDepth: 2, Capabilities: 5, Reloads: 1}}
	srv := newTestServer(t, Config{APIKey: "secret"}, &fakeSubmitter{}, health, nil, nil)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got Health
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Service != "hostbridge" || got.Capabilities != 5 || got.Reloads != 1 {
		t.Fatalf("health = %+v", got)
	}
}

func TestAdminReload(t *testing.T) {
	t.Parallel()
	rel := &fakeReloader{}
	srv := newTestServer(t, Config{}, &fakeSubmitter{}, nil, rel, nil)
	routes := srv.Routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reload", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rel.calls != 1 {
		t.Fatalf("reloader called %d times, want 1", rel.calls)
	}

	rel.err = errors.New("tier rebuild failed")
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reload", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestEventsReplay(t *testing.T) {
	t.Parallel()
	hub := events.NewHub(16)
	hub.Publish("job.started", map[string]string{"job_id": "a"})
	hub.Publish("job.completed", map[string]string{"job_id": "a"})

	srv := newTestServer(t, Config{}, &fakeSubmitter{}, nil, nil, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "event: job.started") || !strings.Contains(body, "event: job.completed") {
		t.Fatalf("missing replayed events in:\n%s", body)
	}
	if !strings.Contains(body, "id: 1") || !strings.Contains(body, "id: 2") {
		t.Fatalf("missing event ids in:\n%s", body)
	}
}

func TestEventsLastEventIDSkipsSeen(t *testing.T) {
	t.Parallel()
	hub := events.NewHub(16)
	hub.Publish("job.started", nil)
	hub.Publish("job.completed", nil)

	srv := newTestServer(t, Config{}, &fakeSubmitter{}, nil, nil, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, "event: job.started") {
		t.Fatalf("event 1 should have been skipped:\n%s", body)
	}
	if !strings.Contains(body, "event: job.completed") {
		t.Fatalf("event 2 missing:\n%s", body)
	}
}
