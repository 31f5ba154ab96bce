// Package turn tracks which party holds the floor during a call and
// decides when an in-flight agent response must be cancelled because
// the caller started speaking over it (barge-in).
package turn

// Floor identifies who currently holds the conversational floor.
type Floor int

const (
	FloorIdle Floor = iota
	FloorCallerSpeaking
	FloorAgentResponding
)

func (f Floor) String() string {
	switch f {
	case FloorIdle:
		return "idle"
	case FloorCallerSpeaking:
		return "caller_speaking"
	case FloorAgentResponding:
		return "agent_responding"
	default:
		return "unknown"
	}
}

// Signal is an input to the arbiter, derived from the realtime voice
// session's event stream.
type Signal int

const (
	SignalSpeechStarted Signal = iota
	SignalSpeechStopped
	SignalResponseStarted
	SignalResponseCompleted
)

// Action is the side effect the caller must perform after a
// transition. The arbiter itself performs no I/O.
type Action int

const (
	// ActionNone requires nothing of the caller.
	ActionNone Action = iota
	// ActionCancelResponse is emitted exactly once per barge-in: the
	// caller must cancel the in-flight response and discard any audio
	// already queued toward the telephony peer before forwarding more.
	ActionCancelResponse
)

// Arbiter is a pure state machine. It is owned and mutated by exactly
// one goroutine (the bridge's event consumer); other tasks observe its
// decisions through the actions that goroutine applies.
type Arbiter struct {
	floor            Floor
	responseInFlight bool
}

func NewArbiter() *Arbiter {
	return &Arbiter{floor: FloorIdle}
}

// Floor returns the current floor holder.
func (a *Arbiter) Floor() Floor {
	return a.floor
}

// ResponseInFlight reports whether an agent response is being streamed
// and has not yet completed or been cancelled.
func (a *Arbiter) ResponseInFlight() bool {
	return a.responseInFlight
}

// Apply advances the state machine and returns the action the caller
// must take. Unknown or redundant signals are absorbed with no action,
// so duplicate speech-started events cannot double-cancel.
func (a *Arbiter) Apply(sig Signal) Action {
	switch sig {
	case SignalSpeechStarted:
		if a.floor == FloorAgentResponding && a.responseInFlight {
			a.floor = FloorCallerSpeaking
			a.responseInFlight = false
			return ActionCancelResponse
		}
		a.floor = FloorCallerSpeaking
		return ActionNone

	case SignalSpeechStopped:
		if a.floor == FloorCallerSpeaking {
			a.floor = FloorIdle
		}
		return ActionNone

	case SignalResponseStarted:
		a.floor = FloorAgentResponding
		a.responseInFlight = true
		return ActionNone

	case SignalResponseCompleted:
		if a.floor == FloorAgentResponding {
			a.floor = FloorIdle
		}
		a.responseInFlight = false
		return ActionNone

	default:
		return ActionNone
	}
}
