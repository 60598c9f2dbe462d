package common

// State is the phase of one connection. A connection only ever moves forward,
// from Idle to Closed.
type State int

const (
	Idle State = iota
	Handshaking
	Established
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Handshaking:
		return "handshaking"
	case Established:
		return "established"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "INVALID"
	}
}
