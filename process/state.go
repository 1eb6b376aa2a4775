package process

// State is a process lifecycle state.
type State int

const (
	StateCreated State = iota
	StateConfigured
	StateInitialized
	StateRunning
	StateComplete
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// initialized reports whether the state is at or past init and not yet finalized.
func (s State) initialized() bool {
	return s == StateInitialized || s == StateRunning || s == StateComplete
}
