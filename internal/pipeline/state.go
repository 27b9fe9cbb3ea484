package pipeline

import (
	"errors"
	"fmt"
)

// Agents is the number of agent slots in the initialize and refine stages.
const Agents = 4

// State is a pipeline phase. Initializing and Refining are further split by
// agent slot, see Machine.
type State int

const (
	StateIdle State = iota
	StateStrategizing
	StateInitializing
	StateRefining
	StateSynthesizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStrategizing:
		return "strategizing"
	case StateInitializing:
		return "initializing"
	case StateRefining:
		return "refining"
	case StateSynthesizing:
		return "synthesizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no transition can leave s.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// ErrInvalidTransition is returned by Machine.Transition for any move that is
// not the single next step of the sequence.
var ErrInvalidTransition = errors.New("invalid pipeline transition")

// Machine tracks a request's position in the fixed sequence
//
//	Idle → Strategizing → Initializing(0..3) → Refining(0..3) → Synthesizing → Done
//
// Failed can be entered from any non-terminal position.
type Machine struct {
	state State
	slot  int
}

// NewMachine returns a machine in Idle.
func NewMachine() *Machine { return &Machine{} }

// State returns the current state and agent slot. The slot is only
// meaningful for Initializing and Refining.
func (m *Machine) State() (State, int) { return m.state, m.slot }

// Transition moves to (next, slot) if it is the immediate successor of the
// current position, or to Failed from any non-terminal position.
func (m *Machine) Transition(next State, slot int) error {
	if m.state.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, m.state)
	}
	if next == StateFailed {
		m.state = StateFailed
		return nil
	}
	wantState, wantSlot := m.successor()
	if next != wantState || slot != wantSlot {
		return fmt.Errorf("%w: %s(%d) -> %s(%d)", ErrInvalidTransition, m.state, m.slot, next, slot)
	}
	m.state, m.slot = next, slot
	return nil
}

func (m *Machine) successor() (State, int) {
	switch m.state {
	case StateIdle:
		return StateStrategizing, 0
	case StateStrategizing:
		return StateInitializing, 0
	case StateInitializing:
		if m.slot < Agents-1 {
			return StateInitializing, m.slot + 1
		}
		return StateRefining, 0
	case StateRefining:
		if m.slot < Agents-1 {
			return StateRefining, m.slot + 1
		}
		return StateSynthesizing, 0
	case StateSynthesizing:
		return StateDone, 0
	default:
		return StateFailed, 0
	}
}
