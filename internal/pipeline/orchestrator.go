// Package pipeline drives the four-stage strategize, initialize, refine and
// synthesize sequence over a single provider configuration.
package pipeline

import (
	"context"
	"fmt"
	"log"

	llmclient "quorum/internal/llm/client"
	llm "quorum/internal/llm/middleware"
	"quorum/internal/prompts"
)

// GeneratorFactory builds the generator a request uses for all of its calls.
// llmclient.New satisfies it once Options are bound.
type GeneratorFactory func(ctx context.Context, cfg llmclient.ProviderConfig) (llmclient.Generator, error)

// Orchestrator runs requests. It holds no per-request state and is safe for
// concurrent use; single-flight per session is Runner's job.
type Orchestrator struct {
	factory    GeneratorFactory
	prompts    prompts.Set
	middleware []llm.Middleware
	logger     *log.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMiddleware wraps every request's generator with mws (left-to-right).
func WithMiddleware(mws ...llm.Middleware) Option {
	return func(o *Orchestrator) { o.middleware = append(o.middleware, mws...) }
}

// WithLogger sets the logger used for run summaries.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New returns an orchestrator that uses set as its role instructions.
func New(factory GeneratorFactory, set prompts.Set, opts ...Option) *Orchestrator {
	o := &Orchestrator{factory: factory, prompts: set, logger: log.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Prompts returns the role instructions in use.
func (o *Orchestrator) Prompts() prompts.Set { return o.prompts }

// Run executes the ten calls of one request in order and returns the
// synthesized text. A blank query returns ErrEmptyQuery without touching the
// sink. Any other failure is reported to the sink and returned as a
// *StageError; no later call is issued.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink Sink) (string, error) {
	if req.Blank() {
		return "", ErrEmptyQuery
	}
	if sink == nil {
		sink = Discard
	}
	r := &run{
		rc:      newRequestContext(req),
		machine: NewMachine(),
		sink:    sink,
		prompts: o.prompts,
	}

	if err := r.rc.Config.Validate(); err != nil {
		return "", r.fail(err)
	}
	gen, err := o.factory(ctx, r.rc.Config)
	if err != nil {
		return "", r.fail(err)
	}
	r.gen = llm.Wrap(gen, o.middleware...)
	defer r.gen.Close()

	text, err := r.execute(ctx)
	if err != nil {
		o.logger.Printf("pipeline: %s failed: %v", r.gen.Name(), err)
		return "", err
	}
	return text, nil
}

type run struct {
	rc      *RequestContext
	machine *Machine
	sink    Sink
	prompts prompts.Set
	gen     llmclient.Generator
}

func (r *run) execute(ctx context.Context) (string, error) {
	plan, err := r.call(ctx, StateStrategizing, 0, r.rc.Query, prompts.RoleStrategist)
	if err != nil {
		return "", err
	}
	r.rc.Plan = plan
	planned := r.rc.PlannedTurn()

	for i := 0; i < Agents; i++ {
		text, err := r.call(ctx, StateInitializing, i, planned, prompts.RoleInitializer)
		if err != nil {
			return "", err
		}
		r.rc.Initial = append(r.rc.Initial, text)
	}

	for i := 0; i < Agents; i++ {
		turn := refinementTurnText(planned, r.rc.Initial, i)
		text, err := r.call(ctx, StateRefining, i, turn, prompts.RoleRefiner)
		if err != nil {
			return "", err
		}
		r.rc.Refined = append(r.rc.Refined, text)
	}

	final, err := r.call(ctx, StateSynthesizing, 0, synthesisTurnText(planned, r.rc.Refined), prompts.RoleSynthesizer)
	if err != nil {
		return "", err
	}
	if err := r.machine.Transition(StateDone, 0); err != nil {
		return "", r.fail(err)
	}
	r.sink.Done(final)
	return final, nil
}

// call performs one model call: cancellation check, transition, progress
// event, then the generator.
func (r *run) call(ctx context.Context, state State, slot int, turn string, role prompts.Role) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", r.fail(err)
	}
	if err := r.machine.Transition(state, slot); err != nil {
		return "", r.fail(err)
	}
	r.sink.Progress(newStageEvent(state, slot))

	text, err := r.gen.Generate(llm.WithStage(ctx, stageName(state, slot)), r.rc.conversation(turn), r.prompts.For(role))
	if err != nil {
		return "", r.fail(err)
	}
	return text, nil
}

// fail moves the machine to Failed and emits the terminal event. The
// returned error records the position the request was in.
func (r *run) fail(err error) error {
	state, slot := r.machine.State()
	_ = r.machine.Transition(StateFailed, 0)
	serr := &StageError{State: state, Slot: slot, Err: err}
	r.sink.Failed(serr)
	return serr
}

// stageName is the label attached to the call context for logging and
// tracing, e.g. "refine[2]".
func stageName(state State, slot int) string {
	switch state {
	case StateStrategizing:
		return "strategize"
	case StateInitializing:
		return fmt.Sprintf("initialize[%d]", slot)
	case StateRefining:
		return fmt.Sprintf("refine[%d]", slot)
	case StateSynthesizing:
		return "synthesize"
	default:
		return state.String()
	}
}
