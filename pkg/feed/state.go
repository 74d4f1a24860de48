// pkg/feed/state.go
package feed

// State is the lifecycle state of a Connector.
//
//	Idle -> Connecting -> Open -> Closing -> Closed
//	Connecting|Open -> Failed
//	Closed|Failed -> Connecting (Start)
type State int32

const (
	Idle State = iota
	Connecting
	Open
	Closing
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a session goroutine owns the connection.
func (s State) Active() bool {
	return s == Connecting || s == Open || s == Closing
}

// Status is a point-in-time view of a Connector. Err is set only in Failed.
type Status struct {
	State State
	Err   error
}

// Transition is reported to state hooks on every state change.
type Transition struct {
	From State
	To   State
	Err  error
}
