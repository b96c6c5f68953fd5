package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to LifecycleState
		allowed  bool
	}{
		{StateDiscovered, StateConnecting, true},
		{StateConnecting, StatePairing, true},
		{StateConnecting, StateAuthorizing, true},
		{StatePairing, StateReady, true},
		{StateAuthorizing, StateReady, true},
		{StateReady, StateDisconnected, true},
		{StateReady, StateFailed, true},
		{StateDisconnected, StateConnecting, true},
		{StateFailed, StateConnecting, true},

		{StateDiscovered, StateReady, false},
		{StateDiscovered, StateDisconnected, false},
		{StateConnecting, StateReady, false},
		{StateReady, StateConnecting, false},
		{StateReady, StatePairing, false},
		{StateDisconnected, StateReady, false},
		{StateFailed, StateFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestLifecycleState_HoldsLink(t *testing.T) {
	for _, s := range []LifecycleState{StateConnecting, StatePairing, StateAuthorizing, StateReady} {
		assert.True(t, s.HoldsLink(), "%s MUST hold a link", s)
	}
	for _, s := range []LifecycleState{StateDiscovered, StateDisconnected, StateFailed} {
		assert.False(t, s.HoldsLink(), "%s MUST NOT hold a link", s)
	}
}

func TestLifecycleState_CanConnect(t *testing.T) {
	assert.True(t, StateDiscovered.CanConnect())
	assert.True(t, StateDisconnected.CanConnect())
	assert.True(t, StateFailed.CanConnect())
	assert.False(t, StateReady.CanConnect())
	assert.False(t, StatePairing.CanConnect())
	assert.False(t, LifecycleState("bogus").Valid())
}
