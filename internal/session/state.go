package session

import "wasend/internal/transport"

// State is the lifecycle state of one session.
//
// Disconnected is both the initial state and the only terminal-reachable one;
// a session can always be re-initiated from it. A session absent from the
// registry is equivalent to Disconnected.
type State string

const (
	StateDisconnected State = "disconnected"
	StateInitializing State = "initializing"
	StateAwaitingScan State = "awaiting_scan"
	StateConnected    State = "connected"
)

// Next maps a client event onto the current state. The second return value
// reports whether the event is meaningful in the current state; events that
// are not (e.g. a pairing code on an already-connected session) leave the
// state machine untouched.
//
// Next is pure so transitions can be tested without a live client.
func Next(cur State, ev transport.EventKind) (State, bool) {
	switch ev {
	case transport.EventAuthFailure, transport.EventLoggedOut:
		if cur == StateDisconnected {
			return cur, false
		}
		return StateDisconnected, true
	case transport.EventCode:
		switch cur {
		case StateInitializing, StateAwaitingScan:
			// A repeated code while awaiting scan refreshes the artifact.
			return StateAwaitingScan, true
		}
		return cur, false
	case transport.EventReady:
		switch cur {
		case StateInitializing, StateAwaitingScan:
			return StateConnected, true
		}
		return cur, false
	}
	return cur, false
}
