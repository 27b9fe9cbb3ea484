package llm

import (
	"context"
	"log"
	"time"

	llmclient "quorum/internal/llm/client"
)

// WithLogging logs request size, latency and errors. Provide a custom logger
// or nil to use log.Default().
func WithLogging(logger *log.Logger) Middleware {
	if logger == nil {
		logger = log.Default()
	}
	return func(next llmclient.Generator) llmclient.Generator {
		return &logging{next: next, log: logger}
	}
}

type logging struct {
	next llmclient.Generator
	log  *log.Logger
}

func (l *logging) Name() string { return l.next.Name() }
func (l *logging) Close() error { return l.next.Close() }

func (l *logging) Generate(ctx context.Context, conversation []llmclient.Turn, systemInstruction string) (string, error) {
	stage := StageFrom(ctx)
	l.log.Printf("LLM request (%s, %s): %d turns, ~%d tokens",
		stage, l.next.Name(), len(conversation), llmclient.CountConversationTokens(conversation, systemInstruction))
	start := time.Now()
	text, err := l.next.Generate(ctx, conversation, systemInstruction)
	if err != nil {
		l.log.Printf("LLM error (%s): %v", stage, err)
		return text, err
	}
	l.log.Printf("LLM response (%s): %d bytes in %s", stage, len(text), time.Since(start).Round(time.Millisecond))
	return text, nil
}
