package reload

// State is the reload pipeline's current stage. Transitions:
//
//	Idle -> Building -> Validating -> Migrating -> Swapping -> Idle
//
// Any failure after Building resolves to RolledBack, which behaves like
// Idle for new requests but preserves the failure for inspection.
type State int32

const (
	StateIdle State = iota
	StateBuilding
	StateValidating
	StateMigrating
	StateSwapping
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateValidating:
		return "validating"
	case StateMigrating:
		return "migrating"
	case StateSwapping:
		return "swapping"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}
