package actor

// State is the lifecycle state of an actor.
type State int32

const (
	StateInactive State = iota
	StateActivating
	StateReady
	StateProcessing
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActivating:
		return "activating"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}
