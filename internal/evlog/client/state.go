package client

// State is the supervisor's connection state.
type State int

const (
	// StateWaiting sits out the retry delay after a failed attempt.
	StateWaiting State = iota
	StateConnecting
	StateConnected
	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
