// Package conversation stores chat sessions and their append-only message
// history.
package conversation

import (
	"context"
	"errors"
	"time"

	llmclient "quorum/internal/llm/client"
)

var ErrNotFound = errors.New("session not found")

// Session is one chat session and the provider settings it submits with.
type Session struct {
	ID        string
	Settings  llmclient.Settings
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one stored turn. A failed run stores the error text as the
// assistant message and marks it Failed.
type Message struct {
	Seq       int64          `json:"seq"`
	RunID     string         `json:"run_id,omitempty"`
	Role      llmclient.Role `json:"role"`
	Text      string         `json:"text"`
	Failed    bool           `json:"failed,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store defines operations for persisting sessions and messages.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	UpdateSettings(ctx context.Context, id string, settings llmclient.Settings) error
	// Append adds msgs after the existing history. Seq is assigned by the
	// store.
	Append(ctx context.Context, sessionID string, msgs ...Message) error
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	Close() error
}

// History converts stored messages into model turns. Runs that ended in an
// error are left out entirely, so the model never sees error text as a
// previous answer.
func History(msgs []Message) []llmclient.Turn {
	failedRuns := make(map[string]bool)
	for _, m := range msgs {
		if m.Failed && m.RunID != "" {
			failedRuns[m.RunID] = true
		}
	}
	out := make([]llmclient.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Failed || (m.RunID != "" && failedRuns[m.RunID]) {
			continue
		}
		out = append(out, llmclient.Turn{Role: m.Role, Text: m.Text})
	}
	return out
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return []Message{}
	}
	return append([]Message(nil), msgs...)
}
