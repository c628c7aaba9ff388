package domain

import "fmt"

// =============================================================================
// Canonical Server States
// =============================================================================

// ServerState is the provider-agnostic vocabulary for the live power state
// of a virtual machine, distinct from each vendor's native status strings.
type ServerState string

const (
	StateRunning   ServerState = "running"
	StateStopped   ServerState = "stopped"
	StateStarting  ServerState = "starting"
	StateStopping  ServerState = "stopping"
	StateRebooting ServerState = "rebooting"
	StateDeleted   ServerState = "deleted"
)

// IsTransient reports whether the state blocks every mutating action.
// Transient states mean the cloud resource is mid-transition; issuing a
// second action would race with the one in flight.
func (s ServerState) IsTransient() bool {
	switch s {
	case StateStarting, StateStopping, StateRebooting:
		return true
	default:
		return false
	}
}

// =============================================================================
// State Translation
// =============================================================================

// StateTable maps provider-native status strings to canonical states.
// The mapping is intentionally lossy: the guards below only make coarse
// decisions, fine-grained vendor states add no decision value.
type StateTable map[string]ServerState

// Canonical resolves a native status string. Unrecognized strings resolve
// to StateStarting so that action guards fail closed, never to running.
func (t StateTable) Canonical(native string) ServerState {
	if s, ok := t[native]; ok {
		return s
	}
	return StateStarting
}

// =============================================================================
// Actions
// =============================================================================

// Action is a requested state transition on an instance.
type Action string

const (
	ActionPowerOff Action = "poweroff"
	ActionPowerOn  Action = "poweron"
	ActionReboot   Action = "reboot"
	ActionActivate Action = "activate"
	ActionDelete   Action = "delete"
)

// IsValid checks if the action is known.
func (a Action) IsValid() bool {
	switch a {
	case ActionPowerOff, ActionPowerOn, ActionReboot, ActionActivate, ActionDelete:
		return true
	default:
		return false
	}
}

// TouchesVirtualMachine reports whether the action issues a driver call
// against the real VM. Activate and delete are logical transitions.
func (a Action) TouchesVirtualMachine() bool {
	switch a {
	case ActionPowerOff, ActionPowerOn, ActionReboot:
		return true
	default:
		return false
	}
}

// =============================================================================
// Guard Errors
// =============================================================================

// TransitionError is a rejected action with a specific per-violation code.
type TransitionError struct {
	Code   string
	Action Action
	State  ServerState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s while instance is %s", e.Code, e.Action, e.State)
}

func newTransitionError(code string, action Action, state ServerState) *TransitionError {
	return &TransitionError{Code: code, Action: action, State: state}
}

// =============================================================================
// Action Guards
// =============================================================================

// ValidateAction rejects an action that is not a legal transition from the
// observed canonical state. The table is deliberately conservative: every
// transient state blocks every mutating action.
func ValidateAction(state ServerState, action Action) error {
	if state == StateDeleted {
		return newTransitionError("instance_deleted", action, state)
	}

	switch action {
	case ActionPowerOff:
		switch state {
		case StateRunning:
			return nil
		case StateStopped:
			return newTransitionError("instance_already_stopped", action, state)
		default:
			return newTransitionError("instance_state_transient", action, state)
		}

	case ActionPowerOn:
		switch state {
		case StateStopped:
			return nil
		case StateRunning:
			return newTransitionError("instance_already_running", action, state)
		default:
			return newTransitionError("instance_state_transient", action, state)
		}

	case ActionReboot:
		switch state {
		case StateRunning, StateStopped:
			return nil
		default:
			return newTransitionError("instance_state_transient", action, state)
		}

	case ActionActivate:
		// Logical transition, no guard on the provider-observed state.
		return nil

	case ActionDelete:
		switch state {
		case StateRunning, StateStopped:
			return nil
		default:
			return newTransitionError("instance_state_transient", action, state)
		}

	default:
		return newTransitionError("unknown_action", action, state)
	}
}
