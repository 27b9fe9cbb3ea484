package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"quorum/internal/gateway/config"
	"quorum/internal/gateway/handler"
	"quorum/internal/gateway/run"
	"quorum/internal/gateway/server"
	"quorum/internal/gateway/service/chat"
	llmclient "quorum/internal/llm/client"
	llm "quorum/internal/llm/middleware"
	"quorum/internal/pipeline"
	"quorum/internal/prompts"
)

type App struct {
	server  *server.Server
	mux     http.Handler
	chat    *chat.Service
	stores  *gatewayStores
	limiter llm.SharedLimiter
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig wires stores, the pipeline and the HTTP surface from cfg.
func NewWithConfig(cfg *config.Config) (*App, error) {
	set, err := prompts.Load(cfg.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	stores, err := initStores(cfg)
	if err != nil {
		return nil, err
	}

	limiter := llm.NewLimiter(cfg.LLM.RPS, cfg.LLM.Burst)
	factory := llmclient.Factory(llmclient.Options{
		Referer: cfg.LLM.OpenRouterReferer,
		Title:   cfg.LLM.OpenRouterTitle,
		RateLimitHandler: func(p llmclient.Provider, h llmclient.RateLimitHeaders) {
			if h.RetryAfterSeconds > 0 || (h.LimitRequests > 0 && h.RemainingRequests == 0) {
				log.Printf("%s rate limit: remaining_requests=%d remaining_tokens=%d retry_after=%ds",
					p, h.RemainingRequests, h.RemainingTokens, h.RetryAfterSeconds)
			}
		},
	})
	orch := pipeline.New(factory, set, pipeline.WithMiddleware(
		llm.WithLogging(nil),
		llm.WithHooks(),
		llm.WithLimiter(limiter),
		llm.WithUsageLedger(llm.NewUsageLedger(cfg.UsageLedgerPath)),
	))

	chatSvc := chat.New(chat.Deps{
		Store:        stores.conversation,
		Artifacts:    stores.artifact,
		Broker:       run.NewEventBroker(),
		Traces:       run.NewTraceLogger(cfg.RunTraceDir),
		Orchestrator: orch,
		Defaults:     cfg.LLM.DefaultSettings(),
	})
	if _, ok := cfg.LLM.Keys[cfg.LLM.Provider]; !ok {
		log.Printf("no %s set; sessions must supply a key for %s", cfg.LLM.Provider.CredentialEnv(), cfg.LLM.Provider)
	}

	mux := server.NewMux(handler.New(chatSvc, nil), log.Default())
	return &App{
		server:  server.New(cfg.Port, mux),
		mux:     mux,
		chat:    chatSvc,
		stores:  stores,
		limiter: limiter,
	}, nil
}

// Handler returns the routed HTTP handler without the h2c wrapper.
func (a *App) Handler() http.Handler { return a.mux }

func (a *App) Start() error {
	return a.server.Start()
}

// Shutdown stops accepting requests, then cancels in-flight runs, waits for
// them to be stored and closes the stores.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.chat.Close()
	a.limiter.Stop()
	if cerr := a.stores.conversation.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}
