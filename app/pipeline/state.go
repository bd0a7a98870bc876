package pipeline

// State 协调器的交互状态
type State int

const (
	StateIdle State = iota
	StateRunning
	StateFinalizing
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}
