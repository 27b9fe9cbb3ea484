package llm

import (
	"context"

	llmclient "quorum/internal/llm/client"
)

// PromptHook defines callbacks around a single model call.
type PromptHook interface {
	Before(ctx context.Context, stage string, conversation []llmclient.Turn, systemInstruction string)
	After(ctx context.Context, stage string, text string, err error)
}

type ctxKeyHook struct{}
type ctxKeyStage struct{}

// WithStage attaches a stage label (e.g. "refine[2]") to the context.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, ctxKeyStage{}, stage)
}

// WithPromptHook attaches a PromptHook to the context. Middlewares that call
// HookFrom(ctx) can use this to invoke Before/After around requests.
func WithPromptHook(ctx context.Context, hook PromptHook) context.Context {
	return context.WithValue(ctx, ctxKeyHook{}, hook)
}

// HookFrom returns the hook stored in the context.
func HookFrom(ctx context.Context) PromptHook {
	if v := ctx.Value(ctxKeyHook{}); v != nil {
		if h, ok := v.(PromptHook); ok {
			return h
		}
	}
	return nil
}

// StageFrom returns the stage label stored in the context.
func StageFrom(ctx context.Context) string {
	if v := ctx.Value(ctxKeyStage{}); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "unknown"
}

// WithHooks calls HookFrom(ctx).Before/After around Generate.
// If no hook is present in the context, it is a no-op.
func WithHooks() Middleware {
	return func(next llmclient.Generator) llmclient.Generator {
		return &hooked{next: next}
	}
}

type hooked struct{ next llmclient.Generator }

func (h *hooked) Name() string { return h.next.Name() }
func (h *hooked) Close() error { return h.next.Close() }

func (h *hooked) Generate(ctx context.Context, conversation []llmclient.Turn, systemInstruction string) (string, error) {
	hook := HookFrom(ctx)
	if hook != nil {
		hook.Before(ctx, StageFrom(ctx), conversation, systemInstruction)
	}
	text, err := h.next.Generate(ctx, conversation, systemInstruction)
	if hook != nil {
		hook.After(ctx, StageFrom(ctx), text, err)
	}
	return text, err
}
