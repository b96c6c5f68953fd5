package device

// LifecycleState is the session state of a device
type LifecycleState string

const (
	StateDiscovered   LifecycleState = "discovered"
	StateConnecting   LifecycleState = "connecting"
	StatePairing      LifecycleState = "pairing"
	StateAuthorizing  LifecycleState = "authorizing"
	StateReady        LifecycleState = "ready"
	StateDisconnected LifecycleState = "disconnected"
	StateFailed       LifecycleState = "failed"
)

// transitions lists, per state, the states it may move to.
// Disconnected and Failed are not terminal: an explicit connect re-enters Connecting.
var transitions = map[LifecycleState][]LifecycleState{
	StateDiscovered:   {StateConnecting},
	StateConnecting:   {StatePairing, StateAuthorizing, StateDisconnected, StateFailed},
	StatePairing:      {StateReady, StateDisconnected, StateFailed},
	StateAuthorizing:  {StateReady, StateDisconnected, StateFailed},
	StateReady:        {StateDisconnected, StateFailed},
	StateDisconnected: {StateConnecting},
	StateFailed:       {StateConnecting},
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to LifecycleState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanConnect reports whether a connect sequence may start from s
func (s LifecycleState) CanConnect() bool {
	return CanTransition(s, StateConnecting)
}

// HoldsLink reports whether a device in state s owns a live link handle
func (s LifecycleState) HoldsLink() bool {
	switch s {
	case StateConnecting, StatePairing, StateAuthorizing, StateReady:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known state
func (s LifecycleState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s LifecycleState) String() string {
	return string(s)
}
