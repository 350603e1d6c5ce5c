package conn

import "fmt"

// State is the connection state. Application-visible states are
// non-negative; internal states are negative, so Collapse's job is a
// single comparison.
type State int8

const (
	StateNone                    State = 0
	StateConnecting              State = 1
	StateFindingRoute            State = 2
	StateConnected               State = 3
	StateClosedByPeer            State = 4
	StateProblemDetectedLocally  State = 5
	StateLinger                  State = -1
	StateFinWait                 State = -2
	StateDead                    State = -3
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateConnecting:
		return "Connecting"
	case StateFindingRoute:
		return "FindingRoute"
	case StateConnected:
		return "Connected"
	case StateClosedByPeer:
		return "ClosedByPeer"
	case StateProblemDetectedLocally:
		return "ProblemDetectedLocally"
	case StateLinger:
		return "Linger"
	case StateFinWait:
		return "FinWait"
	case StateDead:
		return "Dead"
	default:
		return fmt.Sprintf("State(%d)", int8(s))
	}
}

// Collapse maps internal states to the API-visible state a
// status-changed callback reports: internal states collapse to None.
func (s State) Collapse() State {
	switch s {
	case StateLinger, StateFinWait, StateDead:
		return StateNone
	default:
		return s
	}
}

// ErrInvalidState is returned when a requested state change is not in
// the allowed-transition table (see CanTransition). API entry points return
// this error rather than asserting/panicking.
var ErrInvalidState = fmt.Errorf("conn: invalid state transition")

// allowed encodes the connection's state transition table.
var allowed = map[State]map[State]bool{
	StateNone: {
		StateConnecting: true,
	},
	StateConnecting: {
		StateFindingRoute:             true,
		StateConnected:                true,
		StateProblemDetectedLocally:   true,
		StateClosedByPeer:             true,
		StateFinWait:                  true,
	},
	StateFindingRoute: {
		StateConnected:              true,
		StateProblemDetectedLocally: true,
		StateClosedByPeer:           true,
		StateFinWait:                true,
	},
	StateConnected: {
		StateProblemDetectedLocally: true,
		StateClosedByPeer:           true,
		StateLinger:                 true,
		StateFinWait:                true,
	},
	StateLinger: {
		StateFinWait: true,
	},
	StateProblemDetectedLocally: {
		StateFinWait: true,
	},
	StateClosedByPeer: {
		StateFinWait: true,
	},
	StateFinWait: {
		StateDead: true,
	},
}

// CanTransition reports whether from→to is in the allowed-transition
// table.
func CanTransition(from, to State) bool {
	next, ok := allowed[from]
	if !ok {
		return false
	}
	return next[to]
}
