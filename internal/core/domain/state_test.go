package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// guardTable mirrors the documented accept/reject matrix: for every
// canonical state and every action, the guard must match exactly.
var guardTable = map[ServerState]map[Action]bool{
	StateRunning: {
		ActionPowerOff: true,
		ActionPowerOn:  false,
		ActionReboot:   true,
		ActionActivate: true,
		ActionDelete:   true,
	},
	StateStopped: {
		ActionPowerOff: false,
		ActionPowerOn:  true,
		ActionReboot:   true,
		ActionActivate: true,
		ActionDelete:   true,
	},
	StateStarting: {
		ActionPowerOff: false,
		ActionPowerOn:  false,
		ActionReboot:   false,
		ActionActivate: true,
		ActionDelete:   false,
	},
	StateStopping: {
		ActionPowerOff: false,
		ActionPowerOn:  false,
		ActionReboot:   false,
		ActionActivate: true,
		ActionDelete:   false,
	},
	StateRebooting: {
		ActionPowerOff: false,
		ActionPowerOn:  false,
		ActionReboot:   false,
		ActionActivate: true,
		ActionDelete:   false,
	},
	StateDeleted: {
		ActionPowerOff: false,
		ActionPowerOn:  false,
		ActionReboot:   false,
		ActionActivate: false,
		ActionDelete:   false,
	},
}

func TestValidateAction_Closure(t *testing.T) {
	for state, actions := range guardTable {
		for action, allowed := range actions {
			err := ValidateAction(state, action)
			if allowed {
				assert.NoError(t, err, "%s while %s", action, state)
			} else {
				assert.Error(t, err, "%s while %s", action, state)
			}
		}
	}
}

func TestValidateAction_SpecificCodes(t *testing.T) {
	var tErr *TransitionError

	err := ValidateAction(StateStopped, ActionPowerOff)
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "instance_already_stopped", tErr.Code)

	err = ValidateAction(StateRunning, ActionPowerOn)
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "instance_already_running", tErr.Code)

	err = ValidateAction(StateRebooting, ActionReboot)
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "instance_state_transient", tErr.Code)

	err = ValidateAction(StateDeleted, ActionPowerOn)
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "instance_deleted", tErr.Code)
}

func TestStateTable_Canonical(t *testing.T) {
	table := StateTable{
		"running":    StateRunning,
		"terminated": StateDeleted,
	}

	assert.Equal(t, StateRunning, table.Canonical("running"))
	assert.Equal(t, StateDeleted, table.Canonical("terminated"))
}

func TestStateTable_UnknownStateFailsClosed(t *testing.T) {
	table := StateTable{"running": StateRunning}

	state := table.Canonical("some-new-vendor-state")
	require.Equal(t, StateStarting, state)
	assert.NotEqual(t, StateRunning, state)

	// Feeding the unmapped state into the guards rejects every power action.
	for _, action := range []Action{ActionPowerOff, ActionPowerOn, ActionReboot, ActionDelete} {
		err := ValidateAction(state, action)
		assert.Error(t, err, action)

		var tErr *TransitionError
		assert.True(t, errors.As(err, &tErr))
	}
}

func TestServerState_IsTransient(t *testing.T) {
	assert.True(t, StateStarting.IsTransient())
	assert.True(t, StateStopping.IsTransient())
	assert.True(t, StateRebooting.IsTransient())
	assert.False(t, StateRunning.IsTransient())
	assert.False(t, StateStopped.IsTransient())
	assert.False(t, StateDeleted.IsTransient())
}

func TestAction_TouchesVirtualMachine(t *testing.T) {
	assert.True(t, ActionPowerOff.TouchesVirtualMachine())
	assert.True(t, ActionPowerOn.TouchesVirtualMachine())
	assert.True(t, ActionReboot.TouchesVirtualMachine())
	assert.False(t, ActionActivate.TouchesVirtualMachine())
	assert.False(t, ActionDelete.TouchesVirtualMachine())
}
