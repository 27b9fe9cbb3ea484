package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Result is the outcome of one request started by Runner.Start.
type Result struct {
	Text string
	Err  error
}

// Runner enforces at most one in-flight request per chat session. A second
// submission while one is running is rejected with ErrBusy, not queued.
type Runner struct {
	orch *Orchestrator
	sem  *semaphore.Weighted

	mu     sync.Mutex
	cancel context.CancelFunc
	busy   bool
}

// NewRunner binds a single-flight runner to orch.
func NewRunner(orch *Orchestrator) *Runner {
	return &Runner{orch: orch, sem: semaphore.NewWeighted(1)}
}

// Run executes req synchronously.
func (r *Runner) Run(ctx context.Context, req Request, sink Sink) (string, error) {
	ch, err := r.Start(ctx, req, sink)
	if err != nil {
		return "", err
	}
	res := <-ch
	return res.Text, res.Err
}

// Start checks the query and the single-flight slot synchronously, then runs
// req in the background. The returned channel receives exactly one Result.
// The blank check comes first, so a blank query never reports ErrBusy.
func (r *Runner) Start(ctx context.Context, req Request, sink Sink) (<-chan Result, error) {
	return r.StartSettled(ctx, req, sink, nil)
}

// StartSettled is Start with a settle hook. settle receives the Result while
// the slot is still held, so work done there is complete before another
// request can be accepted.
func (r *Runner) StartSettled(ctx context.Context, req Request, sink Sink, settle func(Result)) (<-chan Result, error) {
	if req.Blank() {
		return nil, ErrEmptyQuery
	}
	if !r.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.busy = true
	r.mu.Unlock()

	out := make(chan Result, 1)
	go func() {
		text, err := r.orch.Run(runCtx, req, sink)
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
		res := Result{Text: text, Err: err}
		if settle != nil {
			settle(res)
		}
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
		// Free the slot before publishing so a receiver can submit again.
		r.sem.Release(1)
		out <- res
	}()
	return out, nil
}

// Cancel aborts the in-flight request, if any. The request ends in Failed
// with context.Canceled before its next call.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel()
	return true
}

// Busy reports whether the slot is held, including while a settle hook runs.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}
