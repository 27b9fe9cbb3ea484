package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineWalksFixedSequence(t *testing.T) {
	m := NewMachine()
	steps := []struct {
		state State
		slot  int
	}{
		{StateStrategizing, 0},
		{StateInitializing, 0}, {StateInitializing, 1}, {StateInitializing, 2}, {StateInitializing, 3},
		{StateRefining, 0}, {StateRefining, 1}, {StateRefining, 2}, {StateRefining, 3},
		{StateSynthesizing, 0},
		{StateDone, 0},
	}
	for _, s := range steps {
		require.NoError(t, m.Transition(s.state, s.slot), "%s(%d)", s.state, s.slot)
	}
	state, _ := m.State()
	assert.Equal(t, StateDone, state)
	require.ErrorIs(t, m.Transition(StateFailed, 0), ErrInvalidTransition)
}

func TestMachineRejectsSkipsAndBackwardMoves(t *testing.T) {
	m := NewMachine()
	require.ErrorIs(t, m.Transition(StateInitializing, 0), ErrInvalidTransition)
	require.NoError(t, m.Transition(StateStrategizing, 0))
	require.NoError(t, m.Transition(StateInitializing, 0))
	require.ErrorIs(t, m.Transition(StateInitializing, 2), ErrInvalidTransition)
	require.ErrorIs(t, m.Transition(StateStrategizing, 0), ErrInvalidTransition)
	require.ErrorIs(t, m.Transition(StateRefining, 0), ErrInvalidTransition)

	state, slot := m.State()
	assert.Equal(t, StateInitializing, state)
	assert.Equal(t, 0, slot)
}

func TestMachineFailedIsTerminal(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Transition(StateStrategizing, 0))
	require.NoError(t, m.Transition(StateFailed, 0))
	require.ErrorIs(t, m.Transition(StateInitializing, 0), ErrInvalidTransition)
	require.ErrorIs(t, m.Transition(StateFailed, 0), ErrInvalidTransition)
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateSynthesizing.Terminal())
}

func TestStageEventLabels(t *testing.T) {
	assert.Equal(t, StageEvent{State: StateStrategizing, Step: 1, Total: 1, Label: "Strategizing"}, newStageEvent(StateStrategizing, 0))
	assert.Equal(t, StageEvent{State: StateRefining, Slot: 2, Step: 3, Total: 4, Label: "Refining 3/4"}, newStageEvent(StateRefining, 2))
	assert.Equal(t, "Initializing 4/4", newStageEvent(StateInitializing, 3).Label)
	assert.Equal(t, "Synthesizing", newStageEvent(StateSynthesizing, 0).Label)
}

func TestTeeAndSinkFuncs(t *testing.T) {
	var got []string
	a := SinkFuncs{OnProgress: func(ev StageEvent) { got = append(got, "a:"+ev.Label) }}
	b := SinkFuncs{
		OnProgress: func(ev StageEvent) { got = append(got, "b:"+ev.Label) },
		OnDone:     func(text string) { got = append(got, "b:done:"+text) },
	}
	s := Tee(a, nil, b, Discard)
	s.Progress(newStageEvent(StateSynthesizing, 0))
	s.Done("x")
	s.Failed(assert.AnError)
	assert.Equal(t, []string{"a:Synthesizing", "b:Synthesizing", "b:done:x"}, got)
}
