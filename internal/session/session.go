// Package session owns the schedule synchronization lifecycle for one
// client session: the push channel, the fallback poller, the fetch
// pipeline, and the store. It replaces what used to be ambient module-level
// state with an explicit object carrying Start/Stop semantics.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"postsched/internal/calendar"
	"postsched/internal/channel"
	"postsched/internal/config"
	appLog "postsched/internal/log"
	"postsched/internal/poller"
	"postsched/internal/store"
)

// dailyRollSpec refreshes at local midnight so the fetch window stays
// anchored to the current day and yesterday's entries age out.
const dailyRollSpec = "0 0 * * *"

type Session struct {
	cfg     *config.Config
	loc     *time.Location
	fetcher *calendar.Fetcher
	store   *store.Store
	runner  *channel.Runner // nil when no push endpoint is configured
	cron    *poller.Poller

	// gen numbers fetch cycles; the store discards replaces that lost the
	// race to a higher generation.
	gen atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	started   bool
	stopped   bool
	pollArmed bool
	lastFetch time.Time
	lastErr   error
}

// New builds a Session from config. The timezone falls back to time.Local
// when the configured zone cannot be loaded.
func New(cfg *config.Config) *Session {
	loc := resolveLocation(cfg.Timezone)

	s := &Session{
		cfg:     cfg,
		loc:     loc,
		fetcher: calendar.NewFetcher(cfg.EventsURL, cfg.MaxResults, time.Duration(cfg.FetchTimeoutSeconds)*time.Second),
		store:   store.New(),
		cron:    poller.New(loc),
	}

	if cfg.PushURL != "" {
		s.runner = channel.NewRunner(cfg.PushURL, cfg.MaxReconnectAttempts, s.Refresh, s.startPolling)
	}

	return s
}

// Start brings the session up: arms the daily window roll, connects the
// push channel (or, without one, starts polling straight away) and issues
// an initial fetch cycle. It does not block.
func (s *Session) Start(parent context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(parent)
	s.mu.Unlock()

	if err := s.cron.Add(dailyRollSpec, s.Refresh); err == nil {
		s.cron.Start()
	}

	if s.runner != nil {
		s.runner.Start(s.ctx)
	} else {
		appLog.Info("no push endpoint configured, polling from the start")
		s.startPolling()
	}

	// Initial fill; push-driven sessions also get a fetch from the
	// server's "connected" signal, which is harmless (idempotent refresh).
	s.Refresh()
}

// Stop tears the session down: cancels every pending timer, closes the push
// channel, and suppresses any in-flight cycle's store replace. Terminal.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.cron.Stop()
	s.store.Close()

	if s.runner != nil {
		<-s.runner.Done()
	}
	appLog.Info("session stopped")
}

// Refresh enqueues one fetch cycle. Push signals, poll ticks, the daily
// roll, and manual triggers all funnel through here; overlapping cycles are
// allowed and resolved by generation at the store. Never blocks.
func (s *Session) Refresh() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}
	go s.runFetch(ctx)
}

// RunOnce performs a single synchronous fetch cycle; used by the -once
// flag. It does not require Start.
func (s *Session) RunOnce(ctx context.Context) error {
	return s.fetchCycle(ctx, s.gen.Add(1))
}

func (s *Session) runFetch(ctx context.Context) {
	gen := s.gen.Add(1)
	if err := s.fetchCycle(ctx, gen); err != nil {
		appLog.Error("fetch cycle failed, keeping stale schedules", err, "gen", gen)
	}
}

func (s *Session) fetchCycle(ctx context.Context, gen uint64) error {
	// The now snapshot is taken once per cycle; the post-filter and the
	// store invariant are both relative to it.
	now := time.Now().In(s.loc)
	windowStart, windowEnd := calendar.Window(now, s.loc)

	events, err := s.fetcher.Fetch(ctx, windowStart, windowEnd)
	if err != nil {
		s.recordFetch(time.Time{}, err)
		return err
	}

	schedules := calendar.BuildSchedules(events, now, s.loc)

	// Liveness check: teardown may have happened while the fetch was in
	// flight. The store also rejects replaces after Close; checking here
	// avoids the log line below on a dead session.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if s.store.Replace(gen, schedules) {
		appLog.Info("schedules replaced", "gen", gen, "count", len(schedules))
	} else {
		appLog.Debug("stale fetch cycle discarded", "gen", gen)
	}
	s.recordFetch(now, nil)
	return nil
}

// startPolling arms the fallback poll cadence. Idempotent; the runner calls
// it once on entering polling fallback.
func (s *Session) startPolling() {
	s.mu.Lock()
	if s.pollArmed || s.stopped {
		s.mu.Unlock()
		return
	}
	s.pollArmed = true
	s.mu.Unlock()

	if err := s.cron.Add(s.cfg.PollCron, s.Refresh); err == nil {
		s.cron.Start()
	}
}

func (s *Session) recordFetch(at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastFetch = at
	}
	s.lastErr = err
}

// Store exposes the schedule store for presenters and the HTTP API.
func (s *Session) Store() *store.Store {
	return s.store
}

// Location returns the display timezone.
func (s *Session) Location() *time.Location {
	return s.loc
}

// ConnectionState reports the push channel state. Sessions without a push
// endpoint report polling fallback while running.
func (s *Session) ConnectionState() channel.Status {
	if s.runner != nil {
		return s.runner.Status()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.stopped:
		return channel.StatusClosed
	case s.started:
		return channel.StatusPollingFallback
	default:
		return channel.StatusConnecting
	}
}

// LastFetch returns the completion time of the last successful cycle and
// the most recent fetch error, if any.
func (s *Session) LastFetch() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFetch, s.lastErr
}

func resolveLocation(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}
