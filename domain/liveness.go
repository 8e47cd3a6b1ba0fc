package domain

// LivenessState is the heartbeat state of a single connection.
type LivenessState int32

const (
	Alive LivenessState = iota
	AwaitingPong
	Dead
)

func (s LivenessState) String() string {
	switch s {
	case Alive:
		return "alive"
	case AwaitingPong:
		return "awaiting_pong"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}
