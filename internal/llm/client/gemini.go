package llmclient

import (
	"context"
	"errors"
	"net/http"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiClient is a thin wrapper around the official genai client.
// It only focuses on the API call itself. Cross-cutting concerns
// (rate limiting, logging, hooks) are applied via middleware.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

// NewGeminiClient builds a genai client bound to apiKey. baseURL and
// httpClient are optional and mostly useful for tests and proxies.
func NewGeminiClient(ctx context.Context, apiKey, model, baseURL string, httpClient *http.Client) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &AuthError{Provider: ProviderGemini}
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	cli, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, &TransportError{Provider: ProviderGemini, Err: err}
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

func (g *GeminiClient) Name() string { return string(ProviderGemini) + ":" + g.model }
func (g *GeminiClient) Close() error { return nil }

// Generate passes the conversation and system instruction to the SDK as-is
// and returns the text of the first candidate.
func (g *GeminiClient) Generate(ctx context.Context, conversation []Turn, systemInstruction string) (string, error) {
	contents := make([]*genai.Content, 0, len(conversation))
	for _, t := range conversation {
		role := "user"
		if t.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: t.Text}}})
	}
	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(systemInstruction) != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}}
	}

	resp, err := g.cli.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", geminiError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &ProtocolError{Provider: ProviderGemini, Reason: "response has no candidates"}
	}
	parts := resp.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return "", &ProtocolError{Provider: ProviderGemini, Reason: "response has no content"}
	}
	var sb strings.Builder
	for _, part := range parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = UnknownErrorMessage
		}
		return &TransportError{Provider: ProviderGemini, StatusCode: apiErr.Code, Message: msg, Err: err}
	}
	return &TransportError{Provider: ProviderGemini, Err: err}
}
