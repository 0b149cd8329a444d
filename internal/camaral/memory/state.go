// Package memory implements the two-layer conversation memory: a short-term
// window of recent turns per conversation, and a long-term per-user profile
// distilled lazily when a conversation expires. Nothing runs on a timer;
// expiry is detected on the next inbound message.
package memory

import "time"

// State classifies what the last persisted turn says about a user's
// conversation at the moment a new message arrives.
type State int

const (
	// StateNoPrior means the user has never spoken on this channel.
	StateNoPrior State = iota

	// StateActive means the previous conversation is still within the idle
	// timeout and continues.
	StateActive

	// StateExpired means the previous conversation idled out. A new one
	// starts, and the old one is summarized into the profile first.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNoPrior:
		return "no_prior"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ResolveState decides the conversation state from the timestamp of the last
// persisted turn. A zero lastTurnAt means no prior conversation. A gap of
// exactly the timeout still counts as active; only strictly more idles out.
func ResolveState(now, lastTurnAt time.Time, timeout time.Duration) State {
	if lastTurnAt.IsZero() {
		return StateNoPrior
	}
	if now.Sub(lastTurnAt) > timeout {
		return StateExpired
	}
	return StateActive
}
