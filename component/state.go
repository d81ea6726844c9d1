package component

// State is the lifecycle state of a component.
type State int32

const (
	StateDisabled State = iota
	StateEnabled
	StateUnsatisfied
	StateActivating
	StateRegistered
	StateFactory
	StateActive
	StateDeactivating
	StateDestroyed
)

// String returns a string representation of the component state
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	case StateUnsatisfied:
		return "unsatisfied"
	case StateActivating:
		return "activating"
	case StateRegistered:
		return "registered"
	case StateFactory:
		return "factory"
	case StateActive:
		return "active"
	case StateDeactivating:
		return "deactivating"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Receptive reports whether reference events are acted upon in this state.
func (s State) Receptive() bool {
	switch s {
	case StateUnsatisfied, StateActivating, StateActive, StateRegistered, StateFactory:
		return true
	default:
		return false
	}
}

// Satisfied reports whether the component holds its references and has
// published whatever it declares.
func (s State) Satisfied() bool {
	return s == StateActive || s == StateRegistered || s == StateFactory
}

// Reason is passed to the deactivate callback.
type Reason int

const (
	ReasonUnspecified Reason = iota
	ReasonDisabled
	ReasonReference
	ReasonConfigurationModified
	ReasonConfigurationDeleted
	ReasonDisposed
	ReasonContainerStopped
)

// String returns the reason name
func (r Reason) String() string {
	switch r {
	case ReasonDisabled:
		return "disabled"
	case ReasonReference:
		return "reference"
	case ReasonConfigurationModified:
		return "configuration_modified"
	case ReasonConfigurationDeleted:
		return "configuration_deleted"
	case ReasonDisposed:
		return "disposed"
	case ReasonContainerStopped:
		return "container_stopped"
	default:
		return "unspecified"
	}
}

// event drives the transition table.
type event int

const (
	evEnable event = iota
	evUnsatisfied
	evActivate
	evActivated
	evRegistered
	evFactory
	evFailed
	evCreate
	evCreateFailed
	evRelease
	evDeactivate
	evDeactivated
	evDisable
	evDispose
)

func (e event) String() string {
	return [...]string{
		"enable", "unsatisfied", "activate", "activated", "registered", "factory", "failed",
		"create", "create_failed", "release", "deactivate", "deactivated", "disable", "dispose",
	}[e]
}

// transitions is the complete lifecycle: (state, event) -> next state.
// Pairs not listed are rejected.
var transitions = map[State]map[event]State{
	StateDisabled: {
		evEnable:  StateEnabled,
		evDispose: StateDestroyed,
	},
	StateEnabled: {
		evEnable:      StateEnabled,
		evUnsatisfied: StateUnsatisfied,
		evActivate:    StateActivating,
		evDisable:     StateDisabled,
		evDispose:     StateDestroyed,
	},
	StateUnsatisfied: {
		evActivate: StateActivating,
		evDisable:  StateDisabled,
		evDispose:  StateDestroyed,
	},
	StateActivating: {
		evActivated:    StateActive,
		evRegistered:   StateRegistered,
		evFactory:      StateFactory,
		evFailed:       StateUnsatisfied,
		evCreateFailed: StateRegistered,
		evDispose:      StateDestroyed,
	},
	StateRegistered: {
		evCreate:     StateActivating,
		evDeactivate: StateDeactivating,
		evDispose:    StateDestroyed,
	},
	StateFactory: {
		evDeactivate: StateDeactivating,
		evDispose:    StateDestroyed,
	},
	StateActive: {
		evRelease:    StateRegistered,
		evDeactivate: StateDeactivating,
		evDispose:    StateDestroyed,
	},
	StateDeactivating: {
		evDeactivated: StateUnsatisfied,
		evDispose:     StateDestroyed,
	},
	StateDestroyed: {},
}

// next returns the state reached from s on e.
func next(s State, e event) (State, bool) {
	to, ok := transitions[s][e]
	return to, ok
}
