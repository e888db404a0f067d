// Package channel implements the push-channel connection state machine.
//
// The transition table is a pure function over tagged events so it can be
// tested without sockets or timers; the Runner owns the actual WebSocket
// connection and applies the effects the table emits.
package channel

import "time"

// Status is the connection state of the push channel. Exactly one instance
// exists per session; Closed is terminal.
type Status int

const (
	StatusConnecting Status = iota
	StatusOpen
	StatusReconnecting
	StatusPollingFallback
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusReconnecting:
		return "reconnecting"
	case StatusPollingFallback:
		return "polling_fallback"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Inbound push message kinds that trigger a fetch cycle while the channel
// is open. The push message carries no data payload; it is purely a
// cache-invalidation signal.
const (
	MsgConnected      = "connected"
	MsgScheduleUpdate = "schedule_update"
)

// DefaultMaxAttempts is the reconnect cap before degrading to polling.
const DefaultMaxAttempts = 5

const (
	backoffBase = time.Second
	backoffMax  = 30 * time.Second
)

// Backoff returns the reconnect delay for the given consecutive failure
// count: min(1s << attempt, 30s). Attempt starts at 1, giving 2s, 4s, 8s,
// 16s, 30s.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Guard the shift; anything past attempt 5 is capped anyway.
	if attempt > 5 {
		return backoffMax
	}
	d := backoffBase << attempt
	if d > backoffMax {
		d = backoffMax
	}
	return d
}

// State is the machine's full state: connection status plus the count of
// consecutive failed connection attempts.
type State struct {
	Status  Status
	Attempt int
}

// EventKind tags an input to the transition table.
type EventKind int

const (
	// EventOpened: the WebSocket handshake succeeded.
	EventOpened EventKind = iota
	// EventClosed: the connection closed or the dial failed.
	EventClosed
	// EventMessage: an inbound text message arrived; Message holds its kind.
	EventMessage
	// EventRetryTimer: the armed reconnect delay elapsed.
	EventRetryTimer
	// EventTeardown: explicit session stop.
	EventTeardown
)

// Event is a tagged input to Next.
type Event struct {
	Kind    EventKind
	Err     error  // EventClosed: close reason, may be nil
	Message string // EventMessage: inbound message kind
}

// EffectKind tags an action the Runner must perform after a transition.
type EffectKind int

const (
	// EffectDial: open a new WebSocket connection.
	EffectDial EffectKind = iota
	// EffectArmRetry: arm the reconnect timer for Delay.
	EffectArmRetry
	// EffectFetch: trigger exactly one schedule fetch cycle.
	EffectFetch
	// EffectStartPolling: start the fallback poller; freshness is
	// timer-driven for the remainder of the session.
	EffectStartPolling
	// EffectCancelTimers: cancel every pending timer.
	EffectCancelTimers
)

// Effect is an action emitted by Next.
type Effect struct {
	Kind  EffectKind
	Delay time.Duration // EffectArmRetry only
}

// Next is the transition table. It returns the successor state and the
// effects to apply; it never performs I/O itself.
//
// Events that make no sense in the current state (a stale timer firing
// after fallback, a message on a non-open channel) are dropped without a
// transition.
func Next(st State, ev Event, maxAttempts int) (State, []Effect) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	// Closed is terminal: no further transitions, no effects.
	if st.Status == StatusClosed {
		return st, nil
	}

	// Explicit teardown wins from any state.
	if ev.Kind == EventTeardown {
		return State{Status: StatusClosed, Attempt: st.Attempt},
			[]Effect{{Kind: EffectCancelTimers}}
	}

	switch st.Status {
	case StatusConnecting:
		switch ev.Kind {
		case EventOpened:
			// Handshake success resets the reconnect counter.
			return State{Status: StatusOpen, Attempt: 0}, nil
		case EventClosed:
			return fail(st, maxAttempts)
		}

	case StatusOpen:
		switch ev.Kind {
		case EventMessage:
			if ev.Message == MsgConnected || ev.Message == MsgScheduleUpdate {
				return st, []Effect{{Kind: EffectFetch}}
			}
			// Unrecognized kinds are logged by the Runner and ignored.
			return st, nil
		case EventClosed:
			return fail(st, maxAttempts)
		}

	case StatusReconnecting:
		if ev.Kind == EventRetryTimer {
			return State{Status: StatusConnecting, Attempt: st.Attempt},
				[]Effect{{Kind: EffectDial}}
		}

	case StatusPollingFallback:
		// Deliberately no re-upgrade path: once degraded, the poller is the
		// sole freshness driver until the session ends.
	}

	return st, nil
}

// fail handles a close/error on an active or connecting channel: either arm
// the next reconnect attempt or give up and degrade to polling.
func fail(st State, maxAttempts int) (State, []Effect) {
	attempt := st.Attempt + 1
	if attempt > maxAttempts {
		return State{Status: StatusPollingFallback, Attempt: attempt},
			[]Effect{{Kind: EffectCancelTimers}, {Kind: EffectStartPolling}}
	}
	return State{Status: StatusReconnecting, Attempt: attempt},
		[]Effect{{Kind: EffectArmRetry, Delay: Backoff(attempt)}}
}
