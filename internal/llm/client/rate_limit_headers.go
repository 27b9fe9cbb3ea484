package llmclient

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitHeaders represents normalized provider rate-limit signals.
type RateLimitHeaders struct {
	RetryAfterSeconds int

	LimitRequests     int
	LimitTokens       int
	RemainingRequests int
	RemainingTokens   int

	ResetRequests time.Duration
	ResetTokens   time.Duration
}

// RateLimitHeaderHandler receives the parsed headers of every response that
// carried any.
type RateLimitHeaderHandler func(provider Provider, headers RateLimitHeaders)

// parseRateLimitHeaders understands the OpenAI layout
// (x-ratelimit-{limit,remaining,reset}-{requests,tokens}) and the OpenRouter
// layout (x-ratelimit-{limit,remaining,reset}, reset as epoch milliseconds).
func parseRateLimitHeaders(h http.Header, now time.Time) (RateLimitHeaders, bool) {
	out := RateLimitHeaders{}
	found := false

	readInt := func(key string) (int, bool) {
		v := strings.TrimSpace(h.Get(key))
		if v == "" {
			return 0, false
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	readDur := func(key string) (time.Duration, bool) {
		v := strings.TrimSpace(h.Get(key))
		if v == "" {
			return 0, false
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, false
		}
		return d, true
	}

	if v, ok := readInt("retry-after"); ok {
		out.RetryAfterSeconds = v
		found = true
	}
	if v, ok := readInt("x-ratelimit-limit-requests"); ok {
		out.LimitRequests = v
		found = true
	}
	if v, ok := readInt("x-ratelimit-limit-tokens"); ok {
		out.LimitTokens = v
		found = true
	}
	if v, ok := readInt("x-ratelimit-remaining-requests"); ok {
		out.RemainingRequests = v
		found = true
	}
	if v, ok := readInt("x-ratelimit-remaining-tokens"); ok {
		out.RemainingTokens = v
		found = true
	}
	if v, ok := readDur("x-ratelimit-reset-requests"); ok {
		out.ResetRequests = v
		found = true
	}
	if v, ok := readDur("x-ratelimit-reset-tokens"); ok {
		out.ResetTokens = v
		found = true
	}

	if v, ok := readInt("x-ratelimit-limit"); ok {
		out.LimitRequests = v
		found = true
	}
	if v, ok := readInt("x-ratelimit-remaining"); ok {
		out.RemainingRequests = v
		found = true
	}
	if raw := strings.TrimSpace(h.Get("x-ratelimit-reset")); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			if d := time.UnixMilli(ms).Sub(now); d > 0 {
				out.ResetRequests = d
			}
			found = true
		}
	}

	return out, found
}
