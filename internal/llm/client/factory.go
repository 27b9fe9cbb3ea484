package llmclient

import (
	"context"
	"fmt"
	"net/http"
)

// Options tune client construction. The zero value talks to the public
// endpoints with a default HTTP client.
type Options struct {
	HTTPClient *http.Client
	// BaseURLs overrides the endpoint per provider.
	BaseURLs map[Provider]string
	// OpenRouter attribution headers (HTTP-Referer / X-Title).
	Referer string
	Title   string
	// RateLimitHandler observes x-ratelimit-* headers of chat-completions responses.
	RateLimitHandler RateLimitHeaderHandler
}

// Factory binds opts so the result can be handed to code that only knows
// the provider config.
func Factory(opts Options) func(context.Context, ProviderConfig) (Generator, error) {
	return func(ctx context.Context, cfg ProviderConfig) (Generator, error) {
		return New(ctx, cfg, opts)
	}
}

// New validates cfg and returns the adapter variant selected by its provider
// tag. Validation happens before any client is built, so a missing credential
// never reaches the network.
func New(ctx context.Context, cfg ProviderConfig, opts Options) (Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	model := cfg.ModelOrDefault()
	baseURL := opts.BaseURLs[cfg.Provider]

	switch cfg.Provider.Family() {
	case FamilyNativeSDK:
		cli, err := NewGeminiClient(ctx, cfg.Credential, model, baseURL, opts.HTTPClient)
		if err != nil {
			return nil, err
		}
		return cli, nil
	case FamilyChatCompletions:
		cli, err := NewChatCompletionsClient(cfg.Provider, cfg.Credential, model, baseURL, opts.HTTPClient)
		if err != nil {
			return nil, err
		}
		if cfg.Provider == ProviderOpenRouter {
			cli.SetHeader("HTTP-Referer", opts.Referer)
			cli.SetHeader("X-Title", opts.Title)
		}
		if opts.RateLimitHandler != nil {
			cli.SetRateLimitHeaderHandler(opts.RateLimitHandler)
		}
		return cli, nil
	default:
		return nil, fmt.Errorf("no adapter for provider %q", cfg.Provider)
	}
}
