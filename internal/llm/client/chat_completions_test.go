package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChatClient(t *testing.T, provider Provider, handler http.HandlerFunc) *ChatCompletionsClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cli, err := NewChatCompletionsClient(provider, "sk-test", "test-model", srv.URL, srv.Client())
	require.NoError(t, err)
	return cli
}

func TestChatCompletionsGenerate_RequestShape(t *testing.T) {
	var got chatReq
	var auth, referer string
	cli := newTestChatClient(t, ProviderOpenRouter, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		referer = r.Header.Get("HTTP-Referer")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`))
	})
	cli.SetHeader("HTTP-Referer", "https://quorum.local")
	cli.SetHeader("X-Title", "")

	out, err := cli.Generate(context.Background(), []Turn{
		{Role: RoleUser, Text: "first"},
		{Role: RoleAssistant, Text: "answer"},
		{Role: RoleUser, Text: "second"},
	}, "be brief")
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)

	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "https://quorum.local", referer)
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, []chatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "answer"},
		{Role: "user", Content: "second"},
	}, got.Messages)
}

func TestChatCompletionsGenerate_UpstreamErrorMessage(t *testing.T) {
	cli := newTestChatClient(t, ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`))
	})

	_, err := cli.Generate(context.Background(), []Turn{UserTurn("q")}, "sys")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	assert.Equal(t, "Rate limit reached", te.Error())
}

func TestChatCompletionsGenerate_MalformedErrorFallsBack(t *testing.T) {
	bodies := []string{`<html>bad gateway</html>`, `{"error":{}}`, `{"detail":"nope"}`, ``}
	for _, body := range bodies {
		body := body
		t.Run(body, func(t *testing.T) {
			cli := newTestChatClient(t, ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(body))
			})
			_, err := cli.Generate(context.Background(), []Turn{UserTurn("q")}, "sys")
			var te *TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, UnknownErrorMessage, te.Error())
		})
	}
}

func TestChatCompletionsGenerate_ProtocolErrors(t *testing.T) {
	cases := map[string]string{
		"no choices":   `{"choices":[]}`,
		"no content":   `{"choices":[{"message":{"role":"assistant"}}]}`,
		"null content": `{"choices":[{"message":{"content":null}}]}`,
		"not json":     `definitely not json`,
	}
	for name, body := range cases {
		body := body
		t.Run(name, func(t *testing.T) {
			cli := newTestChatClient(t, ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := cli.Generate(context.Background(), []Turn{UserTurn("q")}, "sys")
			var pe *ProtocolError
			require.True(t, errors.As(err, &pe), "got %v", err)
		})
	}
}

func TestChatCompletionsGenerate_BlankContentReturnedAsIs(t *testing.T) {
	cli := newTestChatClient(t, ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  "}}]}`))
	})
	out, err := cli.Generate(context.Background(), []Turn{UserTurn("q")}, "sys")
	require.NoError(t, err)
	assert.Equal(t, "  ", out)
}

func TestChatCompletionsGenerate_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cli, err := NewChatCompletionsClient(ProviderOpenAI, "sk-test", "m", url, nil)
	require.NoError(t, err)
	_, err = cli.Generate(context.Background(), []Turn{UserTurn("q")}, "sys")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.StatusCode)
	assert.NotEmpty(t, te.Error())
}

func TestChatCompletionsGenerate_SingleAttempt(t *testing.T) {
	var hits int32
	cli := newTestChatClient(t, ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := cli.Generate(context.Background(), []Turn{UserTurn("q")}, "sys")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestChatCompletionsGenerate_CapturesRateLimitHeaders(t *testing.T) {
	cli := newTestChatClient(t, ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-remaining-requests", "41")
		w.Header().Set("x-ratelimit-reset-tokens", "1.5s")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})
	var (
		seen  RateLimitHeaders
		calls int
	)
	cli.SetRateLimitHeaderHandler(func(p Provider, h RateLimitHeaders) {
		assert.Equal(t, ProviderOpenAI, p)
		seen = h
		calls++
	})
	_, err := cli.Generate(context.Background(), []Turn{UserTurn("q")}, "sys")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 41, seen.RemainingRequests)
}

func TestNewChatCompletionsClient_RejectsNativeProvider(t *testing.T) {
	_, err := NewChatCompletionsClient(ProviderGemini, "k", "m", "", nil)
	require.Error(t, err)
}
