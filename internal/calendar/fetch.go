package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	appLog "postsched/internal/log"
	"postsched/internal/model"
)

// FetchError reports a failed events query: network failure, non-2xx
// response, or a structurally invalid payload. The caller must keep the
// current schedule list on FetchError; stale data is preferred over
// blanking the UI.
type FetchError struct {
	StatusCode int   // 0 when the request never produced a response
	Cause      error // underlying error, if any
	Reason     string
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("events fetch failed: %s (status %d)", e.Reason, e.StatusCode)
	}
	return "events fetch failed: " + e.Reason
}

func (e *FetchError) Unwrap() error { return e.Cause }

// eventsEnvelope mirrors the provider's response JSON. Events is a pointer
// so a payload missing the array entirely can be told apart from an empty
// list; the former is a FetchError.
type eventsEnvelope struct {
	Success bool                   `json:"success"`
	Events  *[]model.CalendarEvent `json:"events"`
}

// Fetcher issues bounded-window queries against the external events endpoint.
type Fetcher struct {
	client     *http.Client
	eventsURL  string
	maxResults int
}

// NewFetcher creates a Fetcher for the given events endpoint.
func NewFetcher(eventsURL string, maxResults int, timeout time.Duration) *Fetcher {
	if maxResults <= 0 {
		maxResults = 250
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client:     &http.Client{Timeout: timeout},
		eventsURL:  eventsURL,
		maxResults: maxResults,
	}
}

// Window returns the fetch window for a cycle starting at now: the start of
// the current local day through one year later. The bounds capture all
// plausible future entries without unbounded query cost.
func Window(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(1, 0, 0)
}

// Fetch queries the events endpoint for the given window and returns the
// raw calendar events. Any non-2xx status, malformed JSON, success=false,
// or missing events array is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, windowStart, windowEnd time.Time) ([]model.CalendarEvent, error) {
	if f.eventsURL == "" {
		return nil, &FetchError{Reason: "events URL is empty"}
	}

	q := url.Values{}
	q.Set("time_min", windowStart.Format(time.RFC3339))
	q.Set("time_max", windowEnd.Format(time.RFC3339))
	q.Set("max_results", strconv.Itoa(f.maxResults))

	reqURL := f.eventsURL + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Cause: err, Reason: "building request"}
	}

	appLog.Debug("events fetch start",
		"url", redactURL(f.eventsURL),
		"time_min", windowStart.Format(time.RFC3339),
		"time_max", windowEnd.Format(time.RFC3339),
	)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Cause: err, Reason: "request failed"}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{StatusCode: resp.StatusCode, Reason: resp.Status}
	}

	var env eventsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Cause: err, Reason: "malformed JSON"}
	}
	if !env.Success {
		return nil, &FetchError{StatusCode: resp.StatusCode, Reason: "payload missing success flag"}
	}
	if env.Events == nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Reason: "payload missing events array"}
	}

	appLog.Info("events fetch success", "url", redactURL(f.eventsURL), "event_count", len(*env.Events))
	return *env.Events, nil
}

// redactURL hides sensitive parts of the events URL for logging purposes.
// Example:
//
//	https://example.com/api/events?token=abcd -> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	// Find scheme separator.
	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "...(redacted)"
	}

	// Find next slash after host.
	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}

	return u[:j] + redactedSuffix
}
