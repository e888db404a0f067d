package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"postsched/internal/channel"
	"postsched/internal/config"
	appLog "postsched/internal/log"
)

func init() {
	appLog.SetOutput(io.Discard)
}

// eventsBackend fakes the calendar provider's events endpoint. It serves a
// single future auto-post event and counts requests; flipping fail makes it
// return 500s.
type eventsBackend struct {
	srv  *httptest.Server
	hits atomic.Int64
	fail atomic.Bool
}

func newEventsBackend() *eventsBackend {
	b := &eventsBackend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		b.hits.Add(1)
		if b.fail.Load() {
			http.Error(w, "upstream broken", http.StatusInternalServerError)
			return
		}

		start := time.Now().Add(48 * time.Hour).UTC()
		resp := map[string]any{
			"success": true,
			"events": []map[string]any{
				{
					"id":          "ev-1",
					"summary":     "weekly collab post",
					"description": "[type: auto-post]",
					"start":       start.Format(time.RFC3339),
					"end":         start.Add(time.Hour).Format(time.RFC3339),
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	return b
}

func testConfig(eventsURL string) *config.Config {
	cfg := &config.Config{
		Listen:               "127.0.0.1:0",
		Timezone:             "UTC",
		EventsURL:            eventsURL,
		PollCron:             "@every 50ms",
		MaxResults:           10,
		MaxReconnectAttempts: 5,
		FetchTimeoutSeconds:  2,
	}
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPollingSessionFillsStore(t *testing.T) {
	backend := newEventsBackend()
	defer backend.srv.Close()

	sess := New(testConfig(backend.srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.Start(ctx)
	defer sess.Stop()

	waitFor(t, 3*time.Second, func() bool { return sess.Store().Count() == 1 },
		"store never filled from the events backend")

	if got := sess.ConnectionState(); got != channel.StatusPollingFallback {
		t.Errorf("ConnectionState = %v, want polling_fallback without a push endpoint", got)
	}

	at, fetchErr := sess.LastFetch()
	if at.IsZero() {
		t.Error("LastFetch time not recorded after a successful cycle")
	}
	if fetchErr != nil {
		t.Errorf("LastFetch error = %v, want nil", fetchErr)
	}

	// The poll cadence keeps driving cycles while running.
	before := backend.hits.Load()
	waitFor(t, 3*time.Second, func() bool { return backend.hits.Load() > before },
		"poller stopped driving fetch cycles")
}

func TestNoFetchAfterTeardown(t *testing.T) {
	backend := newEventsBackend()
	defer backend.srv.Close()

	sess := New(testConfig(backend.srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.Start(ctx)

	waitFor(t, 3*time.Second, func() bool { return sess.Store().Count() == 1 },
		"store never filled")

	sess.Stop()

	// Let any in-flight cycle drain, then confirm the armed poll timers
	// never fire another fetch.
	time.Sleep(100 * time.Millisecond)
	settled := backend.hits.Load()
	time.Sleep(300 * time.Millisecond)

	if after := backend.hits.Load(); after != settled {
		t.Errorf("fetches continued after teardown: %d -> %d", settled, after)
	}

	if got := sess.ConnectionState(); got != channel.StatusClosed {
		t.Errorf("ConnectionState after Stop = %v, want closed", got)
	}

	// Stale contents remain readable after teardown.
	if sess.Store().Count() != 1 {
		t.Errorf("store blanked by teardown, count = %d", sess.Store().Count())
	}
}

func TestFetchErrorKeepsStaleSchedules(t *testing.T) {
	backend := newEventsBackend()
	defer backend.srv.Close()

	sess := New(testConfig(backend.srv.URL))

	if err := sess.RunOnce(context.Background()); err != nil {
		t.Fatalf("initial RunOnce failed: %v", err)
	}
	if sess.Store().Count() != 1 {
		t.Fatalf("store count = %d after initial cycle, want 1", sess.Store().Count())
	}

	backend.fail.Store(true)

	if err := sess.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce against a broken backend should error")
	}

	// Stale data preferred over blanking.
	if sess.Store().Count() != 1 {
		t.Errorf("store count = %d after failed cycle, want stale 1", sess.Store().Count())
	}

	if _, fetchErr := sess.LastFetch(); fetchErr == nil {
		t.Error("LastFetch should surface the transient fetch error")
	}

	// Recovery clears the surfaced error.
	backend.fail.Store(false)
	if err := sess.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce after recovery failed: %v", err)
	}
	if _, fetchErr := sess.LastFetch(); fetchErr != nil {
		t.Errorf("LastFetch error after recovery = %v, want nil", fetchErr)
	}
}

func TestPushSignalTriggersFetch(t *testing.T) {
	backend := newEventsBackend()
	defer backend.srv.Close()

	pushSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"connected"}`))
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"schedule_update"}`))
		_, _, _ = conn.Read(r.Context())
	}))
	defer pushSrv.Close()

	cfg := testConfig(backend.srv.URL)
	cfg.PushURL = "ws" + strings.TrimPrefix(pushSrv.URL, "http")
	cfg.PollCron = "@every 1h" // polling must not be the freshness driver here

	sess := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.Start(ctx)
	defer sess.Stop()

	waitFor(t, 3*time.Second, func() bool { return sess.ConnectionState() == channel.StatusOpen },
		"push channel never opened")

	// Initial refresh + connected + schedule_update: at least three cycles,
	// all driven without the poller.
	waitFor(t, 3*time.Second, func() bool { return backend.hits.Load() >= 3 },
		fmt.Sprintf("push signals did not drive fetch cycles, hits=%d", backend.hits.Load()))

	waitFor(t, 3*time.Second, func() bool { return sess.Store().Count() == 1 },
		"store never filled on the push path")
}

func TestManualRefresh(t *testing.T) {
	backend := newEventsBackend()
	defer backend.srv.Close()

	cfg := testConfig(backend.srv.URL)
	cfg.PollCron = "@every 1h"

	sess := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.Start(ctx)
	defer sess.Stop()

	waitFor(t, 3*time.Second, func() bool { return backend.hits.Load() >= 1 },
		"initial cycle never ran")

	before := backend.hits.Load()
	sess.Refresh()

	waitFor(t, 3*time.Second, func() bool { return backend.hits.Load() > before },
		"manual refresh did not enqueue a fetch cycle")
}

func TestRefreshAfterStopIsNoop(t *testing.T) {
	backend := newEventsBackend()
	defer backend.srv.Close()

	sess := New(testConfig(backend.srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.Start(ctx)
	sess.Stop()

	time.Sleep(50 * time.Millisecond)
	settled := backend.hits.Load()

	sess.Refresh()
	time.Sleep(100 * time.Millisecond)

	if after := backend.hits.Load(); after != settled {
		t.Errorf("Refresh after Stop issued a fetch: %d -> %d", settled, after)
	}
}
