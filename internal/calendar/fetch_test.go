package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchQueryParameters(t *testing.T) {
	loc := time.UTC
	windowStart := time.Date(2025, 1, 10, 0, 0, 0, 0, loc)
	windowEnd := windowStart.AddDate(1, 0, 0)

	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"time_min":    q.Get("time_min"),
			"time_max":    q.Get("time_max"),
			"max_results": q.Get("max_results"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "events": []}`))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, 100, time.Second)
	events, err := f.Fetch(context.Background(), windowStart, windowEnd)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}

	if gotQuery["time_min"] != "2025-01-10T00:00:00Z" {
		t.Errorf("time_min = %q", gotQuery["time_min"])
	}
	if gotQuery["time_max"] != "2026-01-10T00:00:00Z" {
		t.Errorf("time_max = %q", gotQuery["time_max"])
	}
	if gotQuery["max_results"] != "100" {
		t.Errorf("max_results = %q, want 100", gotQuery["max_results"])
	}
}

func TestFetchDecodesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"success": true,
			"events": [
				{
					"id": "ev-1",
					"summary": "collab post",
					"description": "[type: auto-post]",
					"start": "2025-06-01T12:00:00Z",
					"end": "2025-06-01T13:00:00Z",
					"type": "auto-post"
				}
			]
		}`))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, 0, 0)
	events, err := f.Fetch(context.Background(), time.Now(), time.Now().AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.ID != "ev-1" || ev.Summary != "collab post" || ev.Type != "auto-post" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if !ev.Start.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v", ev.Start)
	}
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name: "non-2xx status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "success flag false",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"success": false, "events": []}`))
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "missing success flag",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"events": []}`))
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "missing events array",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"success": true}`))
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "malformed JSON",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"success": tru`))
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			f := NewFetcher(srv.URL, 10, time.Second)
			_, err := f.Fetch(context.Background(), time.Now(), time.Now().AddDate(1, 0, 0))
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("error is %T, want *FetchError", err)
			}
			if fe.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", fe.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestFetchNetworkError(t *testing.T) {
	// Closed server: the dial fails before any response.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	f := NewFetcher(srv.URL, 10, time.Second)
	_, err := f.Fetch(context.Background(), time.Now(), time.Now().AddDate(1, 0, 0))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error is %T, want *FetchError", err)
	}
	if fe.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for network error", fe.StatusCode)
	}
	if fe.Unwrap() == nil {
		t.Error("network FetchError should wrap the transport error")
	}
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.com/api/events?token=abcd", "https://example.com/...(redacted)"},
		{"http://127.0.0.1:3100/api/calendar/events", "http://127.0.0.1:3100/...(redacted)"},
		{"not-a-url", "...(redacted)"},
	}

	for _, tt := range tests {
		if got := redactURL(tt.in); got != tt.want {
			t.Errorf("redactURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
