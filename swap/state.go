package swap

import (
	"fmt"
	"strings"
)

const (
	StateInitiated State = iota
	StateValidated
	StateSourceLocked
	StateTargetLocked
	StateSwapped
	StateCompleted
	StateRollingBack
	StateRolledBack
	StateRollbackFailed
)

var stateNames = [...]string{
	"INITIATED",
	"VALIDATED",
	"SOURCE_LOCKED",
	"TARGET_LOCKED",
	"SWAPPED",
	"COMPLETED",
	"ROLLING_BACK",
	"ROLLED_BACK",
	"ROLLBACK_FAILED",
}

// State is the execution state of a swap.
type State uint8

/*
transitions lists the allowed successor states of every state. States which
are not keys of the map (or have no successors) are terminal.

SOURCE_LOCKED and TARGET_LOCKED denote the first and second lock in canonical
(asset id) order, not the role of the asset in the swap.
*/
var transitions = map[State][]State{
	StateInitiated:    {StateValidated, StateRollingBack},
	StateValidated:    {StateSourceLocked, StateRollingBack},
	StateSourceLocked: {StateTargetLocked, StateRollingBack},
	StateTargetLocked: {StateSwapped, StateRollingBack},
	StateSwapped:      {StateCompleted, StateRollingBack},
	StateRollingBack:  {StateRolledBack, StateRollbackFailed},
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	str := strings.ToUpper(string(b))
	for i, n := range stateNames {
		if n == str {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown swap execution state %q", b)
}

// Terminal returns true when there is no transition out of the state.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
