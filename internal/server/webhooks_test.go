package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"taskmarket/internal/config"
	"taskmarket/internal/db"
	"taskmarket/internal/engine"
	"taskmarket/internal/migrate"
)

type hookRecorder struct {
	mu       sync.Mutex
	failures int
	calls    int
	got      []webhookEvent
	headers  []http.Header
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.failures > 0 {
		h.failures--
		http.Error(w, "try later", http.StatusServiceUnavailable)
		return
	}
	data, _ := io.ReadAll(r.Body)
	var evt webhookEvent
	_ = json.Unmarshal(data, &evt)
	h.got = append(h.got, evt)
	h.headers = append(h.headers, r.Header.Clone())
	w.WriteHeader(http.StatusNoContent)
}

func newNotifierEngine(t *testing.T, hooks ...config.Webhook) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Webhooks = hooks
	return engine.New(conn, cfg)
}

func startCursors(t *testing.T, n *Notifier) {
	t.Helper()
	latest, err := n.Engine.Repo.LatestEventID(context.Background())
	if err != nil {
		t.Fatalf("latest event: %v", err)
	}
	n.cursors = map[int]int64{}
	for i := range n.hooks {
		n.cursors[i] = latest
	}
}

func TestNotifierDeliversNewEvents(t *testing.T) {
	rec := &hookRecorder{}
	hook := httptest.NewServer(rec)
	defer hook.Close()

	e := newNotifierEngine(t, config.Webhook{URL: hook.URL, Secret: "s3cret", Events: []string{"task.created"}})
	ctx := context.Background()
	owner, err := e.CreateProfile(ctx, engine.ProfileCreateOptions{Username: "olivia", Location: "Berlin"})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	n := NewNotifier(e, nil)
	startCursors(t, n)

	task, err := e.CreateTask(ctx, engine.TaskCreateOptions{ActorID: owner.ID, Title: "Mow", Description: "lawn", Location: "Berlin"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := e.CreateProfile(ctx, engine.ProfileCreateOptions{Username: "hank", Location: "Berlin"}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	n.dispatchAll(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(rec.got))
	}
	if rec.got[0].Type != "task.created" || rec.got[0].EntityID != task.ID {
		t.Fatalf("unexpected delivery: %+v", rec.got[0])
	}
	h := rec.headers[0]
	if h.Get("X-Taskmarket-Event") != "task.created" || h.Get("X-Taskmarket-Secret") != "s3cret" || h.Get("X-Taskmarket-Delivery") == "" {
		t.Fatalf("unexpected headers: %v", h)
	}
	latest, _ := e.Repo.LatestEventID(ctx)
	if n.cursors[0] != latest {
		t.Fatalf("cursor %d, want %d", n.cursors[0], latest)
	}
}

func TestNotifierRetriesFailedDelivery(t *testing.T) {
	rec := &hookRecorder{failures: 2}
	hook := httptest.NewServer(rec)
	defer hook.Close()

	e := newNotifierEngine(t, config.Webhook{URL: hook.URL, MaxAttempts: 3})
	n := NewNotifier(e, nil)
	n.BaseDelay = time.Millisecond
	startCursors(t, n)

	ctx := context.Background()
	if _, err := e.CreateProfile(ctx, engine.ProfileCreateOptions{Username: "olivia"}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	n.dispatchAll(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.calls != 3 || len(rec.got) != 1 {
		t.Fatalf("calls=%d deliveries=%d", rec.calls, len(rec.got))
	}
}

func TestNotifierKeepsCursorOnFailure(t *testing.T) {
	rec := &hookRecorder{failures: 10}
	hook := httptest.NewServer(rec)
	defer hook.Close()

	e := newNotifierEngine(t, config.Webhook{URL: hook.URL, MaxAttempts: 1})
	n := NewNotifier(e, nil)
	startCursors(t, n)
	before := n.cursors[0]

	ctx := context.Background()
	if _, err := e.CreateProfile(ctx, engine.ProfileCreateOptions{Username: "olivia"}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	n.dispatchAll(ctx)
	if n.cursors[0] != before {
		t.Fatalf("cursor moved to %d after failed delivery", n.cursors[0])
	}
}

func TestNotifierRunStopsOnCancel(t *testing.T) {
	e := newNotifierEngine(t, config.Webhook{URL: "http://127.0.0.1:1/hook"})
	n := NewNotifier(e, nil)
	n.Interval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notifier did not stop")
	}
}

func TestNotifierSkipsDisabledHooks(t *testing.T) {
	off := false
	e := newNotifierEngine(t, config.Webhook{URL: "http://example.invalid", Enabled: &off})
	if NewNotifier(e, nil).Enabled() {
		t.Fatal("disabled hook should not be enabled")
	}
}
