package mqtt4w

// State is the lifecycle state of a Supervisor.
type State int32

const (
	Disconnected State = iota
	Connecting
	Active
	BackoffWait
	Terminated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case BackoffWait:
		return "backoff"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}
