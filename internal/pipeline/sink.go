package pipeline

import "fmt"

// StageEvent announces a model call that is about to start.
type StageEvent struct {
	State State
	Slot  int
	// Step is 1-based within the stage; Total is 4 for the agent stages and
	// 1 otherwise.
	Step  int
	Total int
	Label string
}

func newStageEvent(state State, slot int) StageEvent {
	ev := StageEvent{State: state, Slot: slot, Step: 1, Total: 1}
	switch state {
	case StateStrategizing:
		ev.Label = "Strategizing"
	case StateInitializing:
		ev.Step, ev.Total = slot+1, Agents
		ev.Label = fmt.Sprintf("Initializing %d/%d", ev.Step, ev.Total)
	case StateRefining:
		ev.Step, ev.Total = slot+1, Agents
		ev.Label = fmt.Sprintf("Refining %d/%d", ev.Step, ev.Total)
	case StateSynthesizing:
		ev.Label = "Synthesizing"
	default:
		ev.Label = state.String()
	}
	return ev
}

// Sink observes one request. Progress is called in order, strictly before
// the matching call starts. Exactly one of Done or Failed ends the request.
type Sink interface {
	Progress(ev StageEvent)
	Done(text string)
	Failed(err error)
}

// SinkFuncs adapts plain functions to Sink; nil fields are skipped.
type SinkFuncs struct {
	OnProgress func(StageEvent)
	OnDone     func(string)
	OnFailed   func(error)
}

func (f SinkFuncs) Progress(ev StageEvent) {
	if f.OnProgress != nil {
		f.OnProgress(ev)
	}
}

func (f SinkFuncs) Done(text string) {
	if f.OnDone != nil {
		f.OnDone(text)
	}
}

func (f SinkFuncs) Failed(err error) {
	if f.OnFailed != nil {
		f.OnFailed(err)
	}
}

// Discard ignores all events.
var Discard Sink = discard{}

type discard struct{}

func (discard) Progress(StageEvent) {}
func (discard) Done(string)         {}
func (discard) Failed(error)        {}

// Tee forwards every event to each non-nil sink in order.
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type tee []Sink

func (t tee) Progress(ev StageEvent) {
	for _, s := range t {
		s.Progress(ev)
	}
}

func (t tee) Done(text string) {
	for _, s := range t {
		s.Done(text)
	}
}

func (t tee) Failed(err error) {
	for _, s := range t {
		s.Failed(err)
	}
}
