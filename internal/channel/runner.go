package channel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	appLog "postsched/internal/log"
)

// pushMessage is the inbound wire shape. The channel never receives data
// payloads, only invalidation signals.
type pushMessage struct {
	Type string `json:"type"`
}

// Runner drives the state machine against a real WebSocket connection. It
// is an active object: a single goroutine owns the state, the reconnect
// timer, and the connection lifecycle, so transitions never race.
type Runner struct {
	url         string
	maxAttempts int

	// backoff is the reconnect delay schedule; tests shrink it.
	backoff func(int) time.Duration

	// onFetch triggers one schedule fetch cycle. It must not block.
	onFetch func()
	// onFallback starts the fallback poller. It must not block.
	onFallback func()

	mu sync.Mutex
	st State

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewRunner creates a Runner for the given push endpoint. onFetch and
// onFallback are invoked from the runner goroutine and must return quickly.
func NewRunner(url string, maxAttempts int, onFetch, onFallback func()) *Runner {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Runner{
		url:         url,
		maxAttempts: maxAttempts,
		backoff:     Backoff,
		onFetch:     onFetch,
		onFallback:  onFallback,
		st:          State{Status: StatusConnecting},
		events:      make(chan Event, 16),
		done:        make(chan struct{}),
	}
}

// Start launches the runner. The first dial is issued immediately. The
// runner stops when ctx is cancelled; Status then reports Closed.
func (r *Runner) Start(ctx context.Context) {
	go r.run(ctx)
}

// Status returns the current connection state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.Status
}

// Done is closed once the runner has fully stopped.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) run(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })

	// connCtx scopes the current dial + read loop; cancelled on teardown.
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	var retryTimer *time.Timer
	var retryC <-chan time.Time
	stopTimer := func() {
		if retryTimer != nil {
			retryTimer.Stop()
			retryTimer = nil
			retryC = nil
		}
	}
	defer stopTimer()

	go r.dialAndRead(connCtx)

	for {
		var ev Event

		select {
		case <-ctx.Done():
			ev = Event{Kind: EventTeardown}
		case ev = <-r.events:
		case <-retryC:
			retryTimer = nil
			retryC = nil
			ev = Event{Kind: EventRetryTimer}
		}

		r.mu.Lock()
		next, effects := Next(r.st, ev, r.maxAttempts)
		r.st = next
		r.mu.Unlock()

		if ev.Kind == EventMessage && len(effects) == 0 && next.Status == StatusOpen {
			appLog.Info("push message ignored", "type", ev.Message)
		}

		for _, eff := range effects {
			switch eff.Kind {
			case EffectDial:
				go r.dialAndRead(connCtx)
			case EffectArmRetry:
				stopTimer()
				delay := eff.Delay
				if r.backoff != nil {
					delay = r.backoff(next.Attempt)
				}
				appLog.Warn("push channel lost, reconnecting",
					"attempt", next.Attempt, "delay", delay, "err", ev.Err)
				retryTimer = time.NewTimer(delay)
				retryC = retryTimer.C
			case EffectFetch:
				r.onFetch()
			case EffectStartPolling:
				appLog.Warn("push channel unreliable, degrading to polling",
					"attempts", next.Attempt-1)
				r.onFallback()
			case EffectCancelTimers:
				stopTimer()
			}
		}

		if next.Status == StatusClosed {
			connCancel()
			appLog.Info("push channel closed")
			return
		}
	}
}

// dialAndRead performs one connection attempt and, on success, pumps
// inbound messages until the connection drops. All outcomes are reported
// to the runner goroutine as events; this goroutine never touches state.
func (r *Runner) dialAndRead(ctx context.Context) {
	conn, _, err := websocket.Dial(ctx, r.url, nil)
	if err != nil {
		r.send(Event{Kind: EventClosed, Err: err})
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	r.send(Event{Kind: EventOpened})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			r.send(Event{Kind: EventClosed, Err: err})
			return
		}

		var msg pushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frames are signals we cannot interpret; skip them
			// without touching connection state.
			appLog.Debug("push message unparsable", "err", err)
			continue
		}
		r.send(Event{Kind: EventMessage, Message: msg.Type})
	}
}

func (r *Runner) send(ev Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}
