package llm

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	llmclient "quorum/internal/llm/client"
)

// UsageLedger tracks per-day, per-model call statistics in a JSON file.
type UsageLedger struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

type usageLedgerFile struct {
	UpdatedAt string              `json:"updated_at"`
	Days      map[string]usageDay `json:"days"`
}

type usageDay struct {
	Requests int64                `json:"requests"`
	Tokens   int64                `json:"tokens"`
	Errors   int64                `json:"errors"`
	Models   map[string]usageStat `json:"models"`
}

type usageStat struct {
	Requests int64 `json:"requests"`
	Tokens   int64 `json:"tokens"`
	Errors   int64 `json:"errors"`
}

// NewUsageLedger creates a new usage ledger that writes to path.
func NewUsageLedger(path string) *UsageLedger {
	return &UsageLedger{path: path, now: time.Now}
}

// WithUsageLedger returns a middleware that records every call in ledger.
// A nil ledger or one without a path turns the middleware into a no-op.
func WithUsageLedger(ledger *UsageLedger) Middleware {
	return func(next llmclient.Generator) llmclient.Generator {
		return &usageLedgerClient{next: next, ledger: ledger}
	}
}

type usageLedgerClient struct {
	next   llmclient.Generator
	ledger *UsageLedger
}

func (u *usageLedgerClient) Name() string { return u.next.Name() }
func (u *usageLedgerClient) Close() error { return u.next.Close() }

func (u *usageLedgerClient) Generate(ctx context.Context, conversation []llmclient.Turn, systemInstruction string) (string, error) {
	tokens := llmclient.CountConversationTokens(conversation, systemInstruction)
	out, err := u.next.Generate(ctx, conversation, systemInstruction)
	if err == nil {
		tokens += llmclient.CountTokens(out)
	}
	if tokens < 1 {
		tokens = 1
	}
	if u.ledger != nil && u.ledger.path != "" {
		u.ledger.record(u.next.Name(), int64(tokens), err != nil)
	}
	return out, err
}

func (l *UsageLedger) record(model string, tokens int64, hasErr bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	dayKey := now.Format("2006-01-02")
	f := usageLedgerFile{Days: map[string]usageDay{}}
	if b, err := os.ReadFile(l.path); err == nil {
		_ = json.Unmarshal(b, &f)
		if f.Days == nil {
			f.Days = map[string]usageDay{}
		}
	}

	d := f.Days[dayKey]
	if d.Models == nil {
		d.Models = map[string]usageStat{}
	}
	d.Requests++
	d.Tokens += tokens
	m := d.Models[model]
	m.Requests++
	m.Tokens += tokens
	if hasErr {
		d.Errors++
		m.Errors++
	}
	d.Models[model] = m
	f.Days[dayKey] = d
	f.UpdatedAt = now.Format(time.RFC3339)

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, l.path)
}
