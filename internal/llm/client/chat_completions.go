package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ChatCompletionsClient calls an OpenAI-compatible Chat Completions API.
// OpenAI and OpenRouter share this code path and differ only in endpoint URL
// and the optional attribution headers OpenRouter understands.
// See: https://platform.openai.com/docs/api-reference/chat
type ChatCompletionsClient struct {
	http     *http.Client
	provider Provider
	apiKey   string
	model    string
	baseURL  string
	headers  http.Header

	rlMu      sync.RWMutex
	rlHandler RateLimitHeaderHandler
}

// NewChatCompletionsClient creates a client for an OpenAI-compatible provider.
// An empty baseURL selects the provider's public endpoint.
func NewChatCompletionsClient(provider Provider, apiKey, model, baseURL string, httpClient *http.Client) (*ChatCompletionsClient, error) {
	if provider.Family() != FamilyChatCompletions {
		return nil, fmt.Errorf("%s is not an OpenAI-compatible provider", provider)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, &AuthError{Provider: provider}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = provider.Endpoint()
	}
	return &ChatCompletionsClient{
		http:     httpClient,
		provider: provider,
		apiKey:   apiKey,
		model:    model,
		baseURL:  baseURL,
		headers:  http.Header{},
	}, nil
}

func (c *ChatCompletionsClient) Name() string { return string(c.provider) + ":" + c.model }
func (c *ChatCompletionsClient) Close() error { return nil }

// SetHeader adds an extra request header, e.g. OpenRouter's HTTP-Referer and
// X-Title. Blank values are ignored.
func (c *ChatCompletionsClient) SetHeader(key, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	c.headers.Set(key, value)
}

func (c *ChatCompletionsClient) SetRateLimitHeaderHandler(handler RateLimitHeaderHandler) {
	c.rlMu.Lock()
	defer c.rlMu.Unlock()
	c.rlHandler = handler
}

type chatReq struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResp struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatErrorResp struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate flattens the system instruction into a leading system message,
// posts the conversation and returns choices[0].message.content.
func (c *ChatCompletionsClient) Generate(ctx context.Context, conversation []Turn, systemInstruction string) (string, error) {
	messages := make([]chatMessage, 0, len(conversation)+1)
	messages = append(messages, chatMessage{Role: "system", Content: systemInstruction})
	for _, t := range conversation {
		messages = append(messages, chatMessage{Role: string(t.Role), Content: t.Text})
	}
	b, err := json.Marshal(chatReq{Model: c.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(b))
	if err != nil {
		return "", &TransportError{Provider: c.provider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &TransportError{Provider: c.provider, Err: err}
	}
	defer resp.Body.Close()
	c.captureRateLimitHeaders(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Provider: c.provider, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &TransportError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Message:    upstreamErrorMessage(body),
		}
	}

	var out chatResp
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &ProtocolError{Provider: c.provider, Reason: "response is not valid JSON"}
	}
	if len(out.Choices) == 0 {
		return "", &ProtocolError{Provider: c.provider, Reason: "response has no choices"}
	}
	content := out.Choices[0].Message.Content
	if content == nil {
		return "", &ProtocolError{Provider: c.provider, Reason: "response has no content"}
	}
	return *content, nil
}

// upstreamErrorMessage extracts error.message from an error body and falls
// back to UnknownErrorMessage for anything else.
func upstreamErrorMessage(body []byte) string {
	var er chatErrorResp
	if err := json.Unmarshal(body, &er); err != nil || er.Error == nil {
		return UnknownErrorMessage
	}
	if msg := strings.TrimSpace(er.Error.Message); msg != "" {
		return msg
	}
	return UnknownErrorMessage
}

func (c *ChatCompletionsClient) captureRateLimitHeaders(h http.Header) {
	parsed, ok := parseRateLimitHeaders(h, time.Now())
	if !ok {
		return
	}
	c.rlMu.RLock()
	handler := c.rlHandler
	c.rlMu.RUnlock()
	if handler != nil {
		handler(c.provider, parsed)
	}
}
