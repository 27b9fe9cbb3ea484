package llm

import (
	"context"
	"sync"
	"time"

	llmclient "quorum/internal/llm/client"
)

// rpsLimiter is a lightweight token-bucket limiter that throttles to at most
// R requests per second with an optional burst capacity.
type rpsLimiter struct {
	tokens   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// newRPSLimiter creates a limiter that allows up to rps events per second
// with a burst capacity of 'burst'. If rps <= 0, the limiter is disabled
// (Acquire becomes a no-op).
func newRPSLimiter(rps float64, burst int) *rpsLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}

	l := &rpsLimiter{
		tokens: make(chan struct{}, burst),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < burst; i++ {
		l.tokens <- struct{}{}
	}

	period := time.Duration(float64(time.Second) / rps)
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case l.tokens <- struct{}{}:
				default:
					// bucket full
				}
			case <-l.stopCh:
				return
			}
		}
	}()

	return l
}

// Acquire blocks until a token is available or the context is canceled.
func (l *rpsLimiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopCh:
		return context.Canceled
	case <-l.tokens:
		return nil
	}
}

// Stop terminates the limiter's refill goroutine. It is safe to call twice.
func (l *rpsLimiter) Stop() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Limiter is a minimal interface for a token/rps limiter.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// SharedLimiter is a Limiter that owns a background goroutine.
type SharedLimiter interface {
	Limiter
	Stop()
}

// NewLimiter returns a limiter that can be shared by many generators via
// WithLimiter. Generators live for one request, so a process-wide budget is
// held here and stopped by the caller on shutdown. rps <= 0 yields a limiter
// that never blocks.
func NewLimiter(rps float64, burst int) SharedLimiter {
	return newRPSLimiter(rps, burst)
}

// RateLimit limits the request rate of one generator. The limiter is stopped
// when the generator is closed.
func RateLimit(rps float64, burst int) Middleware {
	return func(next llmclient.Generator) llmclient.Generator {
		rl := newRPSLimiter(rps, burst)
		return &rateLimited{next: next, rl: rl, own: rl}
	}
}

// WithLimiter gates every Generate call on l without taking ownership of it.
func WithLimiter(l Limiter) Middleware {
	return func(next llmclient.Generator) llmclient.Generator {
		return &rateLimited{next: next, rl: l}
	}
}

type rateLimited struct {
	next llmclient.Generator
	rl   Limiter
	own  *rpsLimiter
}

func (c *rateLimited) Name() string { return c.next.Name() }

func (c *rateLimited) Close() error {
	c.own.Stop()
	return c.next.Close()
}

func (c *rateLimited) Generate(ctx context.Context, conversation []llmclient.Turn, systemInstruction string) (string, error) {
	if c.rl != nil {
		if err := c.rl.Acquire(ctx); err != nil {
			return "", err
		}
	}
	return c.next.Generate(ctx, conversation, systemInstruction)
}
