package channel

import "fmt"

// ConnState is the lifecycle of one transport connection.
type ConnState int32

const (
	StateUninitialized ConnState = iota
	StateConnecting
	StateRunning
	StateStopping
	StateStopped
)

var stateNames = [...]string{"uninitialized", "connecting", "running", "stopping", "stopped"}

func (s ConnState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// transitions lists the legal moves. A connection that fails while
// connecting goes straight to stopped.
var transitions = map[ConnState][]ConnState{
	StateUninitialized: {StateConnecting},
	StateConnecting:    {StateRunning, StateStopped},
	StateRunning:       {StateStopping},
	StateStopping:      {StateStopped},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to ConnState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
