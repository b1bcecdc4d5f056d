package engine

// State is the lifecycle state of a run.
type State int32

const (
	// StateIdle means the run has not started.
	StateIdle State = iota
	// StateFetching means the run is waiting for a data-source page.
	StateFetching
	// StateDispatching means requests for the current page are being sent.
	StateDispatching
	// StateDraining means no more work will be dispatched and in-flight
	// requests are completing.
	StateDraining
	// StateCompleted means the run ended normally.
	StateCompleted
	// StateCancelled means a stop signal ended the run early.
	StateCancelled
	// StateFatal means a data-source failure ended the run.
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDispatching:
		return "dispatching"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Terminal reports whether the run has finished.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFatal
}

// MarshalText renders the state name in JSON and YAML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
