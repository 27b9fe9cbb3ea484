package llmclient

import (
	"fmt"
	"strings"
)

// Provider is the closed set of supported chat-completion backends.
type Provider string

const (
	ProviderGemini     Provider = "gemini"
	ProviderOpenAI     Provider = "openai"
	ProviderOpenRouter Provider = "openrouter"
)

// Family groups providers that share one adapter implementation.
type Family string

const (
	FamilyNativeSDK       Family = "native_sdk"
	FamilyChatCompletions Family = "chat_completions"
)

type providerSpec struct {
	family        Family
	defaultModel  string
	endpoint      string
	credentialEnv string
}

var catalog = map[Provider]providerSpec{
	ProviderGemini: {
		family:        FamilyNativeSDK,
		defaultModel:  "gemini-2.5-flash",
		credentialEnv: "GEMINI_API_KEY",
	},
	ProviderOpenAI: {
		family:        FamilyChatCompletions,
		defaultModel:  "gpt-4o-mini",
		endpoint:      "https://api.openai.com/v1/chat/completions",
		credentialEnv: "OPENAI_API_KEY",
	},
	ProviderOpenRouter: {
		family:        FamilyChatCompletions,
		defaultModel:  "openai/gpt-4o-mini",
		endpoint:      "https://openrouter.ai/api/v1/chat/completions",
		credentialEnv: "OPENROUTER_API_KEY",
	},
}

// Providers lists the supported providers in a stable order.
func Providers() []Provider {
	return []Provider{ProviderGemini, ProviderOpenAI, ProviderOpenRouter}
}

// ParseProvider normalizes a provider name. Unknown names are an error.
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := catalog[p]; !ok {
		return "", fmt.Errorf("unknown provider %q (supported: %s)", name, joinProviders())
	}
	return p, nil
}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	_, ok := catalog[p]
	return ok
}

// Family returns the adapter family serving p.
func (p Provider) Family() Family { return catalog[p].family }

// DefaultModel returns the model used when settings leave it blank.
func (p Provider) DefaultModel() string { return catalog[p].defaultModel }

// Endpoint returns the chat-completions URL for OpenAI-compatible providers.
func (p Provider) Endpoint() string { return catalog[p].endpoint }

// CredentialEnv names the environment variable conventionally holding the key.
func (p Provider) CredentialEnv() string { return catalog[p].credentialEnv }

func joinProviders() string {
	names := make([]string, 0, len(catalog))
	for _, p := range Providers() {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}
