package lifecycle

// State is the lifecycle manager's position in the startup state machine.
// It is the single source of truth for whether the query gateway may
// accept work.
type State int

const (
	// StateUninitialized is the cold state: no engine handle exists.
	StateUninitialized State = iota
	// StateInitializing means a startup sequence is in flight. Callers
	// arriving in this state coalesce onto the in-flight sequence.
	StateInitializing
	// StateReady means the engine handle is open, probed, and the schema
	// installer has completed for this handle's lifetime.
	StateReady
	// StateFailed means the attempt budget was exhausted; the failure
	// reason is retained until reset.
	StateFailed
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitializing:
		return "Initializing"
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}
